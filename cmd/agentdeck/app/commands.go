// Package app provides the entry point for the agentdeck command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentdeck/agentdeck/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "agentdeck",
	DisableAutoGenTag: true,
	Short:             "AgentDeck is a control plane for containerized agent workers",
	Long: `AgentDeck launches, supervises and proxies traffic to per-user agent worker
containers. Each session is bound to exactly one worker container running the
agent runtime; the control plane owns the session credentials, persists the
agent/session registry across restarts, and streams chat output and container
logs back to clients.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the AgentDeck CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
