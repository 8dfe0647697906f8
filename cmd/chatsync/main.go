// chatsync: offline-first chat message sync engine.
//
// Messages are persisted locally before they are submitted to the remote
// store, so nothing is lost while offline. The engine is exposed as an MCP
// server over stdio and as a small CLI for inspecting and repairing the
// local store.
//
// Usage:
//
//	chatsync serve               # Start the MCP server (stdio transport)
//	chatsync pending             # List unsynced messages
//	chatsync retry [message-id]  # Resubmit unsynced messages
//	chatsync config init         # Write a default config file
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/chatsync/internal/config"
	"github.com/HendryAvila/chatsync/internal/logging"
	"github.com/HendryAvila/chatsync/internal/server"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Offline-first chat message sync engine",
	Long: "chatsync keeps a local copy of every conversation and message, submits\n" +
		"outgoing messages to the remote store and tracks what is still unsynced.",
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = server.Version
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default: $CHATSYNC_CONFIG or ~/.chatsync/config.toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env",
		"dotenv file to read before the environment")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openApp loads the configuration and wires the engine. Logs go to stderr
// so stdout stays free for command output and the MCP transport.
func openApp(cmd *cobra.Command) (*server.App, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	app, err := server.New(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("starting engine: %w", err)
	}
	return app, nil
}
