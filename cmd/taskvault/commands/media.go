package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// NewMediaCommand returns the media subcommand.
func NewMediaCommand() *cli.Command {
	return &cli.Command{
		Name:  "media",
		Usage: "Manage task attachments",
		Commands: []*cli.Command{
			{
				Name:      "rm",
				Usage:     "Delete one attachment (use notes/<file> for note media)",
				ArgsUsage: "<uid> <filename>",
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:     "admin",
						Usage:    "Telegram id of the admin performing the delete",
						Required: true,
					},
				},
				Action: withRuntime(runMediaRm),
			},
		},
	}
}

func runMediaRm(ctx context.Context, cmd *cli.Command, rt *runtime) error {
	uid, filename := cmd.Args().Get(0), cmd.Args().Get(1)
	if uid == "" || filename == "" {
		return fmt.Errorf("usage: taskvault media rm --admin <id> <uid> <filename>")
	}

	adminID := cmd.Int64("admin")
	ok, err := rt.users.IsAdmin(ctx, adminID)
	if err != nil {
		return fmt.Errorf("check admin: %w", err)
	}
	if !ok {
		return fmt.Errorf("user %d is not an active admin", adminID)
	}

	if _, err := rt.tasks.DeleteMedia(ctx, uid, filename); err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	path := "media/" + uid + "/" + filename
	// A lost audit line is logged by the audit log and does not undo the delete.
	rt.audit.Record(ctx, adminID, "delete_media", uid+"/"+filename, map[string]any{"media_path": path})

	fmt.Fprintf(outWriter(cmd), "Deleted %s\n", path)
	return nil
}
