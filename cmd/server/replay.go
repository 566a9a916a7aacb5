package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentkernel/agentkernel/cmd/server/config"
	"github.com/agentkernel/agentkernel/internal/domain/run"
	"github.com/agentkernel/agentkernel/internal/infrastructure/persistence/postgres"
)

var flagResumePayload string

// replayCmd resumes a paused run from its last checkpoint without the HTTP
// surface — the Engine's checkpoint-and-return resume path exercised
// standalone. With no --payload it just prints the run's status and
// checkpointed state, which is the useful half when diagnosing a wedged
// run.
var replayCmd = &cobra.Command{
	Use:   "replay <run_id>",
	Short: "Resume a paused run from its last checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return replay(cfg, args[0], flagResumePayload)
	},
}

func replay(cfg *config.Config, runID, payloadJSON string) error {
	ctx := context.Background()

	a, err := buildApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	eventStore := postgres.NewEventStore(a.pool)
	runRepo := postgres.NewRunRepository(a.pool, eventStore)
	checkpointRepo := postgres.NewCheckpointRepository(a.pool)

	r, err := runRepo.FindByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}

	fmt.Printf("Run %s  status=%s  agent=%s  depth=%d\n", r.ID(), r.Status(), r.AgentID(), r.Depth())
	if cp, err := checkpointRepo.FindLatest(ctx, runID, ""); err == nil && cp != nil {
		state, _ := json.MarshalIndent(cp.StateValues(), "", "  ")
		fmt.Printf("Last checkpoint %s (paused at %q):\n%s\n", cp.CheckpointID(), cp.LastNode(), state)
	} else {
		fmt.Println("No checkpoint recorded")
	}

	if payloadJSON == "" {
		if r.Status() == run.StatusPaused {
			fmt.Println("Run is paused; pass --payload to resume it")
		}
		return nil
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return fmt.Errorf("parse --payload: %w", err)
	}

	if err := a.runService.ResumeRun(ctx, runID, payload); err != nil {
		return fmt.Errorf("resume run: %w", err)
	}

	final, err := runRepo.FindByID(ctx, runID)
	if err != nil {
		return err
	}
	fmt.Printf("Run %s resumed  status=%s\n", final.ID(), final.Status())
	if out := final.OutputResult(); out != nil {
		b, _ := json.MarshalIndent(out, "", "  ")
		fmt.Printf("Output:\n%s\n", b)
	}
	return nil
}
