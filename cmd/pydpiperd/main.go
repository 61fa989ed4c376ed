// Command pydpiperd runs the pipeline scheduler server, an executor
// agent, or the status client, depending on the subcommand given.
package main

import (
	"fmt"
	"os"

	"github.com/pydpiper-go/pydpiperd/internal/cmd"
)

func main() {
	if err := cmd.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
