package main

import (
	"os"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/urfave/cli/v2"

	"github.com/trainqueue/trainqueue/cmd"
)

func main() {
	app := &cli.App{
		Name:  "trainqueue",
		Usage: "Multi-tenant training-job queue",
		Commands: []*cli.Command{
			cmd.WorkerCommand,
			cmd.SubmitCommand,
			cmd.CancelCommand,
			cmd.JobsCommand,
			cmd.GPUsCommand,
			cmd.LogsCommand,
			cmd.HealthCheckCommand,
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		// log fatal so we exit with the proper exit code, this is important for containerized deployment health checks
		logging.Log.WithError(err).Fatal("runtime error")
	}
}
