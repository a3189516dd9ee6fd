package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/catalystcommunity/app-utils-go/logging"

	"github.com/trainqueue/trainqueue/internal/config"
	"github.com/trainqueue/trainqueue/internal/metrics"
	"github.com/trainqueue/trainqueue/internal/objects"
	"github.com/trainqueue/trainqueue/internal/worker"
)

var WorkerCommand = &cli.Command{
	Name:  "worker",
	Usage: "Run the job scheduling worker",
	Flags: append(flags, workerFlags...),
	Action: func(ctx *cli.Context) error {
		return RunWorker(ctx)
	},
}

var workerFlags = []cli.Flag{
	&cli.IntFlag{
		Name:    "concurrency",
		Aliases: []string{"c"},
		Value:   1,
		Usage:   "Number of jobs to run concurrently (one per resource)",
		EnvVars: []string{"WORKER_CONCURRENCY"},
	},
	&cli.IntFlag{
		Name:    "idle-sleep",
		Value:   5,
		Usage:   "Seconds to sleep when the pending queue is empty",
		EnvVars: []string{"WORKER_IDLE_SLEEP"},
	},
	&cli.IntFlag{
		Name:    "busy-sleep",
		Value:   2,
		Usage:   "Seconds to back off after requeueing a job whose resource is busy",
		EnvVars: []string{"WORKER_BUSY_SLEEP"},
	},
	&cli.StringFlag{
		Name:    "worker-id",
		Usage:   "Unique identifier for this worker instance",
		EnvVars: []string{"WORKER_ID"},
	},
	&cli.IntFlag{
		Name:    "metrics-port",
		Value:   config.MetricsPort,
		Usage:   "Serve Prometheus metrics on this port (0 disables)",
		EnvVars: []string{"METRICS_PORT"},
	},
}

func RunWorker(ctx *cli.Context) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	objectStore, err := objects.New(objects.Config{
		Type:     config.ObjectStoreType,
		BasePath: config.ObjectStoreBasePath,
		Bucket:   config.ObjectStoreBucket,
		Prefix:   config.ObjectStorePrefix,
		Region:   config.ObjectStoreRegion,
		Endpoint: config.ObjectStoreEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to configure object store: %w", err)
	}

	workerConfig := &worker.Config{
		Store:       st,
		DataDir:     ctx.String("data-dir"),
		HostDataDir: config.HostDataDir,
		Concurrency: ctx.Int("concurrency"),
		IdleSleep:   time.Duration(ctx.Int("idle-sleep")) * time.Second,
		BusySleep:   time.Duration(ctx.Int("busy-sleep")) * time.Second,
		StopGrace:   time.Duration(config.CancelStopGrace) * time.Second,
		WorkerID:    ctx.String("worker-id"),
		ObjectStore: objectStore,
	}

	logging.Log.Infof("Starting worker (store %s, data dir %s)", ctx.String("store-url"), ctx.String("data-dir"))

	if port := ctx.Int("metrics-port"); port > 0 {
		go func() {
			addr := fmt.Sprintf(":%d", port)
			logging.Log.Infof("Serving metrics on %s/metrics", addr)
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				logging.Log.WithError(err).Error("Metrics server stopped")
			}
		}()
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workerErrChan := make(chan error, 1)

	w := worker.New(workerConfig)
	go func() {
		workerErrChan <- w.Start(workerCtx)
	}()

	select {
	case sig := <-sigChan:
		logging.Log.Infof("Received signal %v, shutting down gracefully...", sig)
		workerCancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		select {
		case err := <-workerErrChan:
			if err != nil && err != context.Canceled {
				logging.Log.WithError(err).Error("Worker stopped with error")
				return err
			}
			logging.Log.Info("Worker stopped gracefully")
			return nil
		case <-shutdownCtx.Done():
			logging.Log.Warn("Worker shutdown timeout exceeded")
			return shutdownCtx.Err()
		}
	case err := <-workerErrChan:
		if err != nil {
			logging.Log.WithError(err).Error("Worker stopped with error")
			return err
		}
		logging.Log.Info("Worker stopped")
		return nil
	}
}
