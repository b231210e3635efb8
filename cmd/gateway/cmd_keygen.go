package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/interaction-gateway/internal/adapters/auth/apikey"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen <api-key>",
	Short: "Hash an API key for config.yaml",
	Long:  `Generates a SHA-256 hash of the provided API key for use in config.yaml.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runKeygen,
}

func runKeygen(cmd *cobra.Command, args []string) error {
	keyHash := apikey.HashAPIKey(args[0])

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "SHA-256 Hash: %s\n", keyHash)
	fmt.Fprintln(out, "\nAdd this to your config.yaml:")
	fmt.Fprintf(out, "auth:\n")
	fmt.Fprintf(out, "  api_keys:\n")
	fmt.Fprintf(out, "    - key_hash: \"%s\"\n", keyHash)
	fmt.Fprintf(out, "      description: \"Generated key\"\n")
	return nil
}
