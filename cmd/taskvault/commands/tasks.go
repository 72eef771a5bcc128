package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/vinayprograms/taskvault/tasks"
)

// NewGetCommand returns the get subcommand.
func NewGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Print a task document as JSON",
		ArgsUsage: "<uid>",
		Action:    withRuntime(runGet),
	}
}

// NewListCommand returns the list subcommand.
func NewListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List tasks by status or assignee",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status",
				Usage: "Status to list (e.g. new, IN_PROGRESS)",
				Value: string(tasks.StatusNew),
			},
			&cli.Int64Flag{
				Name:  "assignee",
				Usage: "Telegram id of the assignee; overrides --status",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of tasks (0 for no limit)",
				Value: 50,
			},
		},
		Action: withRuntime(runList),
	}
}

// NewSearchCommand returns the search subcommand.
func NewSearchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Find tasks whose uid, title or description contains the query",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of tasks (0 for no limit)",
				Value: 20,
			},
		},
		Action: withRuntime(runSearch),
	}
}

func runGet(ctx context.Context, cmd *cli.Command, rt *runtime) error {
	uid := cmd.Args().First()
	if uid == "" {
		return fmt.Errorf("usage: taskvault get <uid>")
	}

	t, err := rt.tasks.Get(ctx, uid)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	enc := json.NewEncoder(outWriter(cmd))
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

func runList(ctx context.Context, cmd *cli.Command, rt *runtime) error {
	var (
		ids []string
		err error
	)
	if cmd.IsSet("assignee") {
		ids, err = rt.tasks.ListByAssignee(ctx, cmd.Int64("assignee"), cmd.Int("limit"))
	} else {
		status, perr := tasks.ParseStatus(cmd.String("status"))
		if perr != nil {
			return perr
		}
		ids, err = rt.tasks.ListByStatus(ctx, status, cmd.Int("limit"))
	}
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	found, err := rt.tasks.GetMany(ctx, ids)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	return printTasks(cmd, found)
}

func runSearch(ctx context.Context, cmd *cli.Command, rt *runtime) error {
	query := cmd.Args().First()
	if query == "" {
		return fmt.Errorf("usage: taskvault search <query>")
	}

	ids, err := rt.tasks.Search(ctx, query, cmd.Int("limit"))
	if err != nil {
		return fmt.Errorf("search tasks: %w", err)
	}
	found, err := rt.tasks.GetMany(ctx, ids)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	return printTasks(cmd, found)
}

func printTasks(cmd *cli.Command, list []*tasks.Task) error {
	out := outWriter(cmd)
	if len(list) == 0 {
		fmt.Fprintln(out, "No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UID\tSTATUS\tPRIORITY\tUPDATED\tTITLE")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.UID,
			t.Status.Name(),
			t.Priority,
			t.Timestamps.UpdatedAt.Format("2006-01-02 15:04"),
			t.Title,
		)
	}
	return w.Flush()
}
