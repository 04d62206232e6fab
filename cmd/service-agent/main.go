// Package main is the entry point for the service-agent binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(execute())
}

func execute() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "service-agent",
		Short:         "Control plane for docker compose services",
		Long:          "Serves per-service configuration and drives the lifecycle of the compose services on this host.",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(newServeCmd(&envFile))
	rootCmd.AddCommand(newMigrateCmd(&envFile))
	rootCmd.AddCommand(newTokenCmd(&envFile))
	return rootCmd
}
