package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/vinayprograms/taskvault/retention"
	"github.com/vinayprograms/taskvault/shutdown"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the retention sweeper on its schedule until interrupted",
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	rt, err := setup(ctx, cmd)
	if err != nil {
		return err
	}

	coord := shutdown.NewCoordinator(shutdown.Config{
		ContinueOnError: true,
		Logger:          rt.logger,
	})
	coord.RegisterFuncWithPhase("blob", func(context.Context) error {
		return rt.blobs.Close()
	}, shutdown.PhaseClose)
	if rt.provider != nil {
		coord.RegisterFuncWithPhase("telemetry", rt.provider.Shutdown, shutdown.PhaseFlush)
	}

	sweeper, err := retention.New(rt.tasks, rt.cfg.Retention.Schedule,
		retention.WithLogger(rt.logger),
		retention.WithRunTimeout(rt.cfg.Retention.RunTimeout),
	)
	if err != nil {
		coord.ShutdownWithTimeout(0)
		return err
	}
	coord.RegisterWithPhase("sweeper", sweeper, shutdown.PhaseStop)

	if rt.cfg.Retention.RunOnStart {
		if rep, _ := sweeper.RunOnce(ctx); rep.Err != nil {
			rt.logger.Warn("initial sweep failed", map[string]interface{}{"error": rep.Err})
		}
	}
	if err := sweeper.Start(ctx); err != nil {
		coord.ShutdownWithTimeout(0)
		return err
	}
	coord.HandleSignals()

	fmt.Fprintf(outWriter(cmd), "Sweeping on %q (%s backend). Press Ctrl+C to stop.\n",
		sweeper.Schedule(), rt.cfg.Storage.Backend)

	select {
	case <-coord.Done():
	case <-ctx.Done():
		coord.ShutdownWithTimeout(0)
	}
	if res := coord.Result(); res != nil && res.Failed() {
		return fmt.Errorf("shutdown: %w", res.Err)
	}
	return nil
}
