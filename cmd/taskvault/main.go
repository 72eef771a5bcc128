package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vinayprograms/taskvault/cmd/taskvault/commands"
)

func main() {
	cmd := commands.NewRootCommand()
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "taskvault: %v\n", err)
		os.Exit(1)
	}
}
