// Package main provides the CLI entry point for the firebot chat bot.
//
// Start the bot:
//
//	firebot serve --config firebot.yaml
//
// Secrets referenced by the config file (for example ${FIREBOT_CREDENTIAL})
// come from the environment; a .env file in the working directory is
// loaded when present.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "firebot",
		Short:        "Firebot chat bot",
		Long:         "Firebot maintains the bot's chat and grid connections and dispatches chat commands.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the chat service and run the bot",
		Long: `Connect to the chat service and run the bot.

The bot will:
1. Load configuration from the specified file
2. Open the local database
3. Authenticate and connect the chat and grid sockets
4. Load the command set and begin dispatching

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "firebot.yaml",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging")

	return cmd
}
