// replay-workflow republishes the work item for a workflow run whose message
// was lost (for example when the after-commit publish failed and the sweeper
// is disabled). Safe to run against any non-terminal run: delivery is
// at-least-once and handlers are idempotent.
//
// Usage:
//
//	replay-workflow -id 42
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/opsbridge/incidents_backend/config"
	"github.com/opsbridge/incidents_backend/models"
	"github.com/opsbridge/incidents_backend/queue"
	"github.com/opsbridge/incidents_backend/workflow"
)

func main() {
	workflowRunId := flag.Int("id", 0, "Required: workflow_runs.id to replay")
	force := flag.Bool("force", false, "Replay even if the run is terminal (the message will be dropped)")
	flag.Parse()

	if *workflowRunId <= 0 {
		fmt.Fprintln(os.Stderr, "-id is required")
		os.Exit(1)
	}

	ctx := context.Background()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	var run models.WorkflowRun
	if err := db.First(&run, *workflowRunId).Error; err != nil {
		fmt.Fprintf(os.Stderr, "load workflow run %d: %v\n", *workflowRunId, err)
		os.Exit(1)
	}
	if run.Status.IsTerminal() && !*force {
		fmt.Fprintf(os.Stderr, "workflow run %d is %s; use -force to replay anyway\n", run.ID, run.Status)
		os.Exit(1)
	}

	channel, err := queue.FromEnv(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "delivery channel init: %v\n", err)
		os.Exit(1)
	}

	if err := workflow.NewEnqueuer(channel).EnqueueWorkflow(ctx, run.ID); err != nil {
		fmt.Fprintf(os.Stderr, "replay failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("workflow run %d replayed (status=%s step=%s)\n", run.ID, run.Status, run.CurrentStep)
}
