package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/catalystcommunity/app-utils-go/logging"

	"github.com/trainqueue/trainqueue/internal/config"
	"github.com/trainqueue/trainqueue/internal/jobs"
	"github.com/trainqueue/trainqueue/internal/worker"
)

// CancelCommand cancels a pending or running job
var CancelCommand = &cli.Command{
	Name:      "cancel",
	Usage:     "Cancel a job",
	ArgsUsage: "<job-id>",
	Flags:     flags,
	Action:    cancelAction,
}

func cancelAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("usage: trainqueue cancel <job-id>")
	}
	jobID := ctx.Args().Get(0)

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	service := &jobs.Service{
		Store:     st,
		DataDir:   ctx.String("data-dir"),
		StopGrace: time.Duration(config.CancelStopGrace) * time.Second,
	}

	// Best effort: without an engine the cancel still lands in the store
	// and the worker's reconcile step handles the container.
	if runtime, err := worker.NewDockerRuntime(ctx.Context); err == nil {
		service.Stopper = runtime
	} else {
		logging.Log.WithError(err).Warn("Container engine unavailable, cancelling without container teardown")
	}

	if err := service.Cancel(ctx.Context, jobID); err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	fmt.Printf("Job %s cancelled\n", jobID)
	return nil
}
