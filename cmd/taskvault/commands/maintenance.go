package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/vinayprograms/taskvault/retention"
)

// NewSweepCommand returns the sweep subcommand.
func NewSweepCommand() *cli.Command {
	return &cli.Command{
		Name:   "sweep",
		Usage:  "Delete media whose retention has expired",
		Action: withRuntime(runSweep),
	}
}

// NewReindexCommand returns the reindex subcommand.
func NewReindexCommand() *cli.Command {
	return &cli.Command{
		Name:   "reindex",
		Usage:  "Rebuild status and assignee markers from the task documents",
		Action: withRuntime(runReindex),
	}
}

func runSweep(ctx context.Context, cmd *cli.Command, rt *runtime) error {
	sweeper, err := retention.New(rt.tasks, rt.cfg.Retention.Schedule, retention.WithLogger(rt.logger))
	if err != nil {
		return err
	}
	rep, _ := sweeper.RunOnce(ctx)
	fmt.Fprintf(outWriter(cmd), "Deleted %d media files across %d tasks in %s\n",
		rep.Deleted, rep.Scanned, rep.Duration.Round(time.Millisecond))
	if rep.Err != nil {
		return fmt.Errorf("sweep: %w", rep.Err)
	}
	return nil
}

func runReindex(ctx context.Context, cmd *cli.Command, rt *runtime) error {
	rep, err := rt.tasks.RebuildIndexes(ctx)
	fmt.Fprintf(outWriter(cmd), "Scanned %d tasks, published %d markers, retracted %d\n",
		rep.Scanned, rep.Published, rep.Retracted)
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	return nil
}
