// seed writes a handful of demo scripts and scheduled jobs into the
// local dev database so a fresh scheduler/worker pair has something to
// dispatch immediately.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/triggerd/triggerd/config"
	"github.com/triggerd/triggerd/internal/domain"
	"github.com/triggerd/triggerd/internal/store"
)

type jobSpec struct {
	name            string
	script          string
	contents        string
	scheduleType    domain.ScheduleType
	intervalSeconds int
	scheduleTime    string
	scheduleDay     *int
}

func day(n int) *int { return &n }

var jobs = []jobSpec{
	{
		name:            "heartbeat-every-30s",
		script:          "heartbeat.sh",
		contents:        "#!/bin/bash\necho \"heartbeat at $(date -u +%FT%TZ)\"\n",
		scheduleType:    domain.ScheduleInterval,
		intervalSeconds: 30,
	},
	{
		name:         "nightly-report",
		script:       "report.sh",
		contents:     "#!/bin/bash\necho \"running nightly report\"\n",
		scheduleType: domain.ScheduleDaily,
		scheduleTime: "02:00",
	},
	{
		name:         "weekly-cleanup",
		script:       "cleanup.sh",
		contents:     "#!/bin/bash\necho \"running weekly cleanup\"\nexit 0\n",
		scheduleType: domain.ScheduleWeekly,
		scheduleTime: "03:30",
		scheduleDay:  day(0), // Monday
	},
	{
		name:         "always-fails",
		script:       "flaky.sh",
		contents:     "#!/bin/bash\necho \"simulated failure\" 1>&2\nexit 1\n",
		scheduleType: domain.ScheduleHourly,
		scheduleTime: "15",
	},
	{
		name:         "manual-only",
		script:       "manual.sh",
		contents:     "#!/bin/bash\necho \"triggered manually\"\n",
		scheduleType: domain.ScheduleManual,
	},
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := os.MkdirAll(cfg.ScriptsDir, 0o755); err != nil {
		log.Fatalf("create scripts dir: %v", err)
	}

	db, err := store.Open(ctx, cfg.DBURL)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer db.Close(ctx)

	now := time.Now().UTC()
	var created, skipped int

	for _, spec := range jobs {
		path := filepath.Join(cfg.ScriptsDir, spec.script)
		if err := os.WriteFile(path, []byte(spec.contents), 0o755); err != nil {
			log.Fatalf("write script %s: %v", spec.script, err)
		}

		existing, err := db.Jobs.List(ctx)
		if err != nil {
			log.Fatalf("list existing jobs: %v", err)
		}
		if jobExists(existing, spec.name) {
			skipped++
			continue
		}

		job := &domain.ScheduledJob{
			Name:            spec.name,
			ScriptPath:      spec.script,
			ScheduleType:    spec.scheduleType,
			IntervalSeconds: spec.intervalSeconds,
			ScheduleTime:    spec.scheduleTime,
			ScheduleDay:     spec.scheduleDay,
			IsActive:        true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if spec.scheduleType != domain.ScheduleManual {
			job.NextRun = &now
		}

		if _, err := db.Jobs.Create(ctx, job); err != nil {
			log.Fatalf("create job %s: %v", spec.name, err)
		}
		created++
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Backend:      %s\n", db.Backend)
	fmt.Printf("  Scripts dir:  %s\n", cfg.ScriptsDir)
	fmt.Printf("  Jobs created: %d  (skipped %d already existing)\n", created, skipped)
	fmt.Println()
	fmt.Println("Start a scheduler and a worker, then:")
	fmt.Println()
	fmt.Println("    curl -s http://localhost:8080/jobs")
	fmt.Println("    curl -s http://localhost:8080/workers")
}

func jobExists(jobs []*domain.ScheduledJob, name string) bool {
	for _, j := range jobs {
		if j.Name == name {
			return true
		}
	}
	return false
}
