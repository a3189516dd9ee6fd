package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/trainqueue/trainqueue/internal/store"
)

// LogsCommand prints a job's output.log
var LogsCommand = &cli.Command{
	Name:      "logs",
	Usage:     "Show a job's output log",
	ArgsUsage: "<job-id>",
	Flags: append(flags,
		&cli.BoolFlag{
			Name:    "follow",
			Aliases: []string{"f"},
			Usage:   "Keep tailing until the job reaches a terminal status",
		},
	),
	Action: logsAction,
}

func logsAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("usage: trainqueue logs <job-id>")
	}
	jobID := ctx.Args().Get(0)

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := st.GetJob(ctx.Context, jobID); err != nil {
		return err
	}

	logPath := filepath.Join(ctx.String("data-dir"), "jobs", jobID, "output.log")
	if !ctx.Bool("follow") {
		data, err := os.ReadFile(logPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	return followLog(ctx, st, jobID, logPath)
}

// followLog prints new log content as it is appended, stopping once the job
// leaves the pending/running states.
func followLog(ctx *cli.Context, st store.Store, jobID, logPath string) error {
	var offset int64
	for {
		if f, err := os.Open(logPath); err == nil {
			if _, err := f.Seek(offset, io.SeekStart); err == nil {
				n, _ := io.Copy(os.Stdout, f)
				offset += n
			}
			f.Close()
		}

		job, err := st.GetJob(ctx.Context, jobID)
		if err != nil {
			return err
		}
		if job.IsTerminal() {
			return nil
		}

		select {
		case <-ctx.Context.Done():
			return ctx.Context.Err()
		case <-time.After(time.Second):
		}
	}
}
