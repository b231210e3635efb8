package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "interaction-gateway",
	Short: "Brokers human decisions requested by an AI agent",
	Long: `interaction-gateway holds permission, plan approval and question requests
from an agent until a human answers them in a connected viewer.

Examples:
  interaction-gateway serve --config config.yaml
  interaction-gateway config validate --config config.yaml
  interaction-gateway keygen my-secret-key`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keygenCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "Path to the config file")
}
