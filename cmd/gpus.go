package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/trainqueue/trainqueue/internal/worker"
)

// GPUsCommand lists the host's accelerators, their live stats, and which
// job currently leases each one
var GPUsCommand = &cli.Command{
	Name:   "gpus",
	Usage:  "List GPUs, their utilization, and the jobs holding them",
	Flags:  flags,
	Action: gpusAction,
}

func gpusAction(ctx *cli.Context) error {
	monitor := worker.NewGPUMonitor()
	gpus, err := monitor.ListGPUs(ctx.Context)
	if err != nil {
		return fmt.Errorf("no GPUs visible (is nvidia-smi installed?): %w", err)
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GPU\tNAME\tMEMORY\tUTIL\tTEMP\tHELD BY")
	for _, gpu := range gpus {
		memory := fmt.Sprintf("%d MiB", gpu.MemoryTotalMB)
		util, temp := "-", "-"
		if stats, err := monitor.Stats(ctx.Context, gpu.Index); err == nil {
			memory = fmt.Sprintf("%d/%d MiB", stats.MemoryUsedMB, stats.MemoryTotalMB)
			util = fmt.Sprintf("%.0f%%", stats.Utilization)
			temp = fmt.Sprintf("%.0fC", stats.Temperature)
		}

		holder, err := st.ResourceHolder(ctx.Context, fmt.Sprintf("gpu:%d", gpu.Index))
		if err != nil {
			return fmt.Errorf("failed to read resource lease: %w", err)
		}
		if holder == "" {
			holder = "-"
		}

		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", gpu.Index, gpu.Name, memory, util, temp, holder)
	}
	return w.Flush()
}
