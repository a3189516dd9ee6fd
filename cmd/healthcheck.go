package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/trainqueue/trainqueue/internal/worker"
)

var HealthCheckCommand = &cli.Command{
	Name:  "healthcheck",
	Usage: "Check that the shared store and container engine are reachable (for container health checks)",
	Flags: append(flags,
		&cli.IntFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Value:   5,
			Usage:   "Timeout in seconds",
			EnvVars: []string{"HEALTH_TIMEOUT"},
		},
		&cli.BoolFlag{
			Name:  "skip-engine",
			Usage: "Only check the store (for API-side health checks)",
		},
	),
	Action: func(ctx *cli.Context) error {
		timeout := time.Duration(ctx.Int("timeout")) * time.Second
		checkCtx, cancel := context.WithTimeout(ctx.Context, timeout)
		defer cancel()

		st, err := openStore(ctx)
		if err != nil {
			return cli.Exit(fmt.Sprintf("store unreachable: %v", err), 1)
		}
		defer st.Close()
		if err := st.Ping(checkCtx); err != nil {
			return cli.Exit(fmt.Sprintf("store unreachable: %v", err), 1)
		}

		if !ctx.Bool("skip-engine") {
			runtime, err := worker.NewDockerRuntime(checkCtx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("container engine unreachable: %v", err), 1)
			}
			if err := runtime.Ping(checkCtx); err != nil {
				return cli.Exit(fmt.Sprintf("container engine unreachable: %v", err), 1)
			}
		}

		fmt.Println("OK")
		return nil
	},
}
