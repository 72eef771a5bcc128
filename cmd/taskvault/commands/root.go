// Package commands implements the taskvault operator CLI.
package commands

import (
	"github.com/urfave/cli/v3"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "taskvault",
		Usage: "Operate a taskvault task store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (default: taskvault.toml, ~/.config/taskvault/taskvault.toml)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewGetCommand(),
			NewListCommand(),
			NewSearchCommand(),
			NewSweepCommand(),
			NewReindexCommand(),
			NewMediaCommand(),
			NewUsersCommand(),
			NewServeCommand(),
		},
	}
}
