package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// NewUsersCommand returns the users subcommand.
func NewUsersCommand() *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "Inspect users",
		Commands: []*cli.Command{
			{
				Name:   "export",
				Usage:  "Write all users as CSV",
				Action: withRuntime(runUsersExport),
			},
		},
	}
}

func runUsersExport(ctx context.Context, cmd *cli.Command, rt *runtime) error {
	if err := rt.users.ExportCSV(ctx, outWriter(cmd)); err != nil {
		return fmt.Errorf("export users: %w", err)
	}
	return nil
}
