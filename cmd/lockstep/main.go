package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/lockstep/internal/cli"
)

// main is the entrypoint for the lockstep binary.
func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the CLI and maps its error onto an exit code. Commands
// print their own output; only errors they did not report are printed here.
func run(args []string) int {
	cmd := cli.NewRootCommand()
	cmd.SetArgs(args)

	err := cmd.Execute()
	if err == nil {
		return cli.ExitSuccess
	}

	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, err)
		return cli.ExitCommandError
	}
	if exitErr.Code == cli.ExitCommandError && exitErr.Err != nil {
		fmt.Fprintln(os.Stderr, "lockstep:", exitErr)
	}
	return exitErr.Code
}
