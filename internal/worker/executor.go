package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/triggerd/triggerd/internal/domain"
	"github.com/triggerd/triggerd/internal/metrics"
)

// Outcome is execute_job's (status, log_output) pair.
type Outcome struct {
	Status    domain.ExecutionStatus
	LogOutput string
}

// Executor resolves a ScheduledJob's script path to an interpreter
// command, runs it under a hard wall-clock timeout, and captures its
// combined output — grounded on execute_job.
type Executor struct {
	scriptsDir string
	timeout    time.Duration
	logger     *slog.Logger
}

func NewExecutor(scriptsDir string, timeout time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		scriptsDir: scriptsDir,
		timeout:    timeout,
		logger:     logger.With("component", "executor"),
	}
}

// Execute runs job.ScriptPath, tokenizing job.ScriptArgs and appending
// them to the resolved interpreter command.
func (e *Executor) Execute(ctx context.Context, job *domain.ScheduledJob) (out Outcome) {
	start := time.Now()
	defer func() {
		metrics.JobExecutionDuration.WithLabelValues(string(out.Status)).Observe(time.Since(start).Seconds())
	}()
	e.logger.Info("executing job", "job_id", job.ID, "job_name", job.Name, "script", job.ScriptPath)

	scriptPath := job.ScriptPath
	if !filepath.IsAbs(scriptPath) {
		scriptPath = filepath.Join(e.scriptsDir, scriptPath)
	}

	if _, err := os.Stat(scriptPath); err != nil {
		msg := fmt.Sprintf("script not found: %s", scriptPath)
		e.logger.Error("script missing", "job_id", job.ID, "path", scriptPath)
		return Outcome{Status: domain.ExecutionError, LogOutput: msg}
	}

	args, err := tokenizeArgs(job.ScriptArgs)
	if err != nil {
		msg := fmt.Sprintf("invalid script_args: %v", err)
		return Outcome{Status: domain.ExecutionError, LogOutput: msg}
	}

	name, cmdArgs := resolveCommand(scriptPath)
	cmdArgs = append(cmdArgs, args...)

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, cmdArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := time.Since(start)

	logOutput := fmt.Sprintf("STDOUT:\n%s\n\nSTDERR:\n%s", stdout.String(), stderr.String())

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		e.logger.Error("job timed out", "job_id", job.ID, "timeout", e.timeout)
		return Outcome{Status: domain.ExecutionFailure, LogOutput: fmt.Sprintf("Execution timed out after %d seconds.", int(e.timeout.Seconds()))}
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		logOutput += fmt.Sprintf("\n\nExit Code: %d", exitErr.ExitCode())
		e.logger.Warn("job failed", "job_id", job.ID, "exit_code", exitErr.ExitCode(), "duration", duration)
		return Outcome{Status: domain.ExecutionFailure, LogOutput: logOutput}
	}
	if runErr != nil {
		e.logger.Error("job execution error", "job_id", job.ID, "error", runErr)
		return Outcome{Status: domain.ExecutionError, LogOutput: fmt.Sprintf("execution error: %v", runErr)}
	}

	e.logger.Info("job completed", "job_id", job.ID, "duration", duration)
	return Outcome{Status: domain.ExecutionSuccess, LogOutput: logOutput}
}

// resolveCommand picks the interpreter by file extension, matching
// execute_job's cmd selection; anything else is run directly (the
// script is expected to carry its own shebang and be executable).
func resolveCommand(scriptPath string) (string, []string) {
	switch filepath.Ext(scriptPath) {
	case ".py":
		return "python3", []string{scriptPath}
	case ".sh":
		return "/bin/bash", []string{scriptPath}
	case ".bat":
		return "cmd.exe", []string{"/c", scriptPath}
	default:
		return scriptPath, nil
	}
}

// tokenizeArgs splits a free-form argument string on whitespace,
// honoring single and double quotes so a quoted argument can contain
// spaces. It does not expand shell metacharacters, globs, or variables —
// script_args is data, not a shell command line.
func tokenizeArgs(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var args []string
	var cur strings.Builder
	var quote rune
	inToken := false

	flush := func() {
		if inToken {
			args = append(args, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			flush()
		default:
			inToken = true
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in script_args")
	}
	flush()
	return args, nil
}
