// ABOUTME: MCP serve command
// ABOUTME: Starts the MCP server for AI agent integration

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/harper/geotrack/internal/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, err := mcp.NewServer(app.facade)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(commandContext(cmd))
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()

		// Region events from start_tracking flow into the ledger while serving.
		runDone := make(chan error, 1)
		go func() { runDone <- app.facade.Run(ctx) }()

		err = server.Serve(ctx)
		cancel()
		if rerr := <-runDone; rerr != nil && err == nil {
			err = rerr
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
