// Package main is the entry point for the regelwerk template service. The
// root command wires the subcommands; serve is the long-running server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pitabwire/regelwerk/internal/observability"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	observability.Version = version
	observability.Commit = commit

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "regelwerk: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "regelwerk",
		Short:         "Form template service with conditional fields",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (defaults only when empty)")

	root.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newSeedCmd(&configPath),
		newVerifyCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "regelwerk %s (%s)\n", version, commit)
		},
	}
}
