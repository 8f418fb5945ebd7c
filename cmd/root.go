// Package cmd wires the costera command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "costera",
	Short: "Costera - island concierge backend",
	Long: `Costera is the conversational concierge backend for island visitors.
It serves the chat API, executes assistant tool calls, and persists
conversations, documents and suggestions in PostgreSQL.

Running costera without arguments starts the HTTP server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
