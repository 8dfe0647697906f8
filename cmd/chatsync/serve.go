package main

import (
	"context"
	"fmt"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server (stdio transport)",
	Long: "Serve the chat tools over MCP on stdin/stdout. The realtime feed, the\n" +
		"retention schedule and the ops HTTP server run alongside when configured.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		done := make(chan error, 1)
		go func() { done <- app.Run(ctx) }()

		serveErr := mcpserver.ServeStdio(app.MCP)
		cancel()
		if err := <-done; err != nil {
			app.Logger.Warn().Err(err).Msg("background loops")
		}
		if serveErr != nil {
			return fmt.Errorf("mcp server: %w", serveErr)
		}
		return nil
	},
}
