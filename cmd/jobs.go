package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/trainqueue/trainqueue/internal/jobs"
)

// JobsCommand lists all jobs, newest first
var JobsCommand = &cli.Command{
	Name:   "jobs",
	Usage:  "List jobs",
	Flags:  flags,
	Action: jobsAction,
}

func jobsAction(ctx *cli.Context) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	service := &jobs.Service{Store: st, DataDir: ctx.String("data-dir")}
	all, err := service.List(ctx.Context)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tNAME\tRESOURCE\tSTATUS\tCREATED\tERROR")
	for _, job := range all {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			job.ID, job.Name, job.Resource, job.Status,
			job.CreatedAt.Local().Format(time.RFC3339), job.Error)
	}
	return w.Flush()
}
