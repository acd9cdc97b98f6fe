// Command resetjob clears one Expected Job's computed state back to
// UNKNOWN and deletes its history, for operator-driven recovery
// (adapted from the teacher's checkpoint-reset admin tool; not part of
// spec.md, which treats this as an out-of-scope administrative
// surface).
//
// Usage:
//
//	resetjob -job <id>
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/backupwatch/server/internal/config"
	"github.com/backupwatch/server/internal/store"
)

func main() {
	jobID := flag.String("job", "", "expected job id to reset (required)")
	flag.Parse()
	if *jobID == "" {
		log.Fatal("resetjob: -job is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	db, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("resetjob: connect: %v", err)
	}
	defer db.Close()

	if _, err := db.Job(ctx, *jobID); err != nil {
		log.Fatalf("resetjob: job %q not found: %v", *jobID, err)
	}

	if err := db.ResetJob(ctx, *jobID); err != nil {
		log.Fatalf("resetjob: reset failed: %v", err)
	}

	fmt.Printf("job %s reset to UNKNOWN; history cleared\n", *jobID)
}
