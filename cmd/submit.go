package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/trainqueue/trainqueue/internal/config"
	"github.com/trainqueue/trainqueue/internal/jobs"
)

// SubmitCommand enqueues a training job from a zipped workload
var SubmitCommand = &cli.Command{
	Name:      "submit",
	Usage:     "Submit a training job",
	ArgsUsage: "<archive.zip>",
	Flags: append(flags,
		&cli.StringFlag{
			Name:    "resource",
			Aliases: []string{"r"},
			Usage:   "Compute slot to run on: gpu:<n> or cpu",
		},
		&cli.StringFlag{
			Name:    "image",
			Aliases: []string{"i"},
			Value:   config.DefaultRuntimeImage,
			Usage:   "Base runtime image for the training container",
		},
		&cli.StringFlag{
			Name:    "name",
			Aliases: []string{"n"},
			Usage:   "Display name (defaults to the archive filename)",
		},
		&cli.StringFlag{
			Name:    "file",
			Aliases: []string{"f"},
			Usage:   "Load the submission from a YAML or JSON job file instead of flags",
		},
	),
	Action: submitAction,
}

func submitAction(ctx *cli.Context) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	service := &jobs.Service{
		Store:   st,
		DataDir: ctx.String("data-dir"),
	}

	var req *jobs.SubmitRequest
	if jobFile := ctx.String("file"); jobFile != "" {
		spec, err := jobs.LoadSubmitSpec(jobFile)
		if err != nil {
			return err
		}
		req = spec.ToSubmitRequest(ctx.String("image"))
	} else {
		if ctx.NArg() < 1 {
			return fmt.Errorf("usage: trainqueue submit --resource <gpu:n|cpu> <archive.zip>")
		}
		if ctx.String("resource") == "" {
			return fmt.Errorf("--resource is required")
		}
		req = &jobs.SubmitRequest{
			Name:         ctx.String("name"),
			Resource:     ctx.String("resource"),
			RuntimeImage: ctx.String("image"),
			ArchivePath:  ctx.Args().Get(0),
		}
	}

	job, err := service.Submit(ctx.Context, req)
	if err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}

	fmt.Println("Job submitted successfully!")
	fmt.Printf("  Job ID:   %s\n", job.ID)
	fmt.Printf("  Name:     %s\n", job.Name)
	fmt.Printf("  Resource: %s\n", job.Resource)
	fmt.Printf("  Status:   %s\n", job.Status)
	return nil
}
