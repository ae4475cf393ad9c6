// Command linkreload watches the build output of linked packages and tells
// connected dev-server clients to reload when it changes.
package main

import (
	"fmt"
	"io"
	"os"

	"linkreload/internal/version"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(newEnvironment(), stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "linkreload: %v\n", err)
		return 1
	}
	return 0
}

// environment is the process state commands read; tests replace it.
type environment struct {
	getenv func(string) string
	getwd  func() (string, error)
	ready  func(addr string)
}

func newEnvironment() environment {
	return environment{getenv: os.Getenv, getwd: os.Getwd}
}

func newRootCommand(env environment, stdout, stderr io.Writer) *cobra.Command {
	flags := &configFlags{}
	root := &cobra.Command{
		Use:   "linkreload",
		Short: "Reload the dev server when linked packages rebuild",
		Long: `linkreload watches the build output directory of each linked package
(<root>/<watch_dir>) and, after a quiet period, invalidates the modules the
dev server cached for that package and asks every connected client to do a
full reload.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	flags.register(root)

	root.AddCommand(newServeCommand(env, flags))
	root.AddCommand(newAliasesCommand(env, flags))
	root.AddCommand(newVersionCommand())
	return root
}
