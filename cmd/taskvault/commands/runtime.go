package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/vinayprograms/taskvault/audit"
	"github.com/vinayprograms/taskvault/blob"
	"github.com/vinayprograms/taskvault/config"
	"github.com/vinayprograms/taskvault/logging"
	"github.com/vinayprograms/taskvault/tasks"
	"github.com/vinayprograms/taskvault/telemetry"
	"github.com/vinayprograms/taskvault/users"
)

// openBlobStore is replaced in tests.
var openBlobStore = blob.Open

// runtime holds the components a command works with.
type runtime struct {
	cfg      config.Config
	logger   *logging.Logger
	provider *telemetry.Provider
	blobs    blob.Store
	tasks    *tasks.Store
	users    *users.Store
	audit    *audit.Log
}

func setup(ctx context.Context, cmd *cli.Command) (*runtime, error) {
	cfg, path, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	logger := logging.New()
	logger.SetOutput(errWriter(cmd))
	logger.SetLevel(cfg.LogLevel())
	if cmd.Bool("debug") {
		logger.SetLevel(logging.LevelDebug)
	}
	if path != "" {
		logger.Debug("config loaded", map[string]interface{}{"path": path})
	}

	rt := &runtime{cfg: cfg, logger: logger}

	tracer := telemetry.GetTracer()
	if cfg.Telemetry.Enabled {
		rt.provider, err = telemetry.InitProvider(ctx, cfg.ProviderConfig())
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		tracer = rt.provider.Tracer()
	}

	store, err := openBlobStore(ctx, cfg.BlobConfig())
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	rt.blobs = blob.Traced(store, cfg.Storage.Backend, tracer)

	rt.tasks = tasks.New(rt.blobs,
		tasks.WithLogger(logger),
		tasks.WithTracer(tracer),
		tasks.WithMediaRetention(cfg.Tasks.MediaRetention),
		tasks.WithUIDPrefix(cfg.Tasks.UIDPrefix),
		tasks.WithAllocatorAttempts(cfg.Tasks.AllocatorAttempts),
	)
	rt.users = users.New(rt.blobs, users.WithLogger(logger))
	rt.audit = audit.New(rt.blobs, audit.WithLogger(logger))
	return rt, nil
}

// Close releases the backend and flushes traces.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.blobs != nil {
		errs = append(errs, rt.blobs.Close())
	}
	if rt.provider != nil {
		errs = append(errs, rt.provider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func outWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}

// withRuntime wraps an action with setup and teardown.
func withRuntime(fn func(ctx context.Context, cmd *cli.Command, rt *runtime) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		rt, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer rt.Close(context.Background())
		return fn(ctx, cmd, rt)
	}
}
