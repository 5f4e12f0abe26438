package worker

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/triggerd/triggerd/internal/domain"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeScript(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecute_Success(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "ok.sh", "#!/bin/bash\necho hello\nexit 0\n")

	e := NewExecutor(dir, 5*time.Second, silentLogger())
	job := &domain.ScheduledJob{ID: 1, Name: "ok", ScriptPath: "ok.sh"}

	out := e.Execute(context.Background(), job)
	if out.Status != domain.ExecutionSuccess {
		t.Fatalf("expected SUCCESS, got %s: %s", out.Status, out.LogOutput)
	}
}

func TestExecute_FailureExitCode(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "bad.sh", "#!/bin/bash\necho oops 1>&2\nexit 7\n")

	e := NewExecutor(dir, 5*time.Second, silentLogger())
	job := &domain.ScheduledJob{ID: 2, Name: "bad", ScriptPath: "bad.sh"}

	out := e.Execute(context.Background(), job)
	if out.Status != domain.ExecutionFailure {
		t.Fatalf("expected FAILURE, got %s", out.Status)
	}
}

func TestExecute_ScriptMissing(t *testing.T) {
	dir := t.TempDir()
	e := NewExecutor(dir, 5*time.Second, silentLogger())
	job := &domain.ScheduledJob{ID: 3, Name: "missing", ScriptPath: "does-not-exist.sh"}

	out := e.Execute(context.Background(), job)
	if out.Status != domain.ExecutionError {
		t.Fatalf("expected ERROR, got %s", out.Status)
	}
}

func TestExecute_Timeout(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "slow.sh", "#!/bin/bash\nsleep 5\n")

	e := NewExecutor(dir, 50*time.Millisecond, silentLogger())
	job := &domain.ScheduledJob{ID: 4, Name: "slow", ScriptPath: "slow.sh"}

	out := e.Execute(context.Background(), job)
	if out.Status != domain.ExecutionFailure {
		t.Fatalf("expected FAILURE, got %s", out.Status)
	}
	if out.LogOutput != "Execution timed out after 0 seconds." {
		t.Fatalf("unexpected log output: %q", out.LogOutput)
	}
}

func TestResolveCommand_Extensions(t *testing.T) {
	cases := []struct {
		path string
		name string
	}{
		{"job.py", "python3"},
		{"job.sh", "/bin/bash"},
		{"job.bat", "cmd.exe"},
		{"job.bin", "job.bin"},
	}
	for _, c := range cases {
		name, _ := resolveCommand(c.path)
		if name != c.name {
			t.Errorf("resolveCommand(%q): expected %q, got %q", c.path, c.name, name)
		}
	}
}

func TestTokenizeArgs(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"--flag value", []string{"--flag", "value"}},
		{`--name "hello world" --id 3`, []string{"--name", "hello world", "--id", "3"}},
		{`--path '/a/b c'`, []string{"--path", "/a/b c"}},
	}
	for _, c := range cases {
		got, err := tokenizeArgs(c.in)
		if err != nil {
			t.Fatalf("tokenizeArgs(%q): unexpected error %v", c.in, err)
		}
		if len(got) != len(c.want) {
			t.Fatalf("tokenizeArgs(%q) = %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("tokenizeArgs(%q) = %v, want %v", c.in, got, c.want)
			}
		}
	}
}

func TestTokenizeArgs_UnterminatedQuote(t *testing.T) {
	if _, err := tokenizeArgs(`--name "unterminated`); err == nil {
		t.Fatal("expected an error for unterminated quote")
	}
}
