// Command autoscalerd is the daemon entry point assembling the Container
// Runtime Adapter, Metrics Client, State Store Adapter, Persistence, and
// Autoscaler behind a cobra CLI with serve and version subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "autoscalerd",
		Short: "Container-autoscaler control plane daemon",
		Long:  "autoscalerd runs the container pool autoscaler: periodic scale evaluation, invocation routing, and crash-recovery reconciliation against the container runtime.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a JSON or YAML config file (optional, env vars override defaults regardless)")

	rootCmd.AddCommand(serveCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

const version = "0.1.0"

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the autoscalerd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("autoscalerd " + version)
			return nil
		},
	}
}
