package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Michdriod/RCA-AI/internal/app"
	"github.com/Michdriod/RCA-AI/internal/logging"
	"github.com/Michdriod/RCA-AI/internal/mcpserver"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the 5 Whys session tools over MCP stdio",
	Long: `Starts an MCP server over stdin/stdout exposing start_session, submit_answer,
next_step, finalize_session and get_session. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logging.New("engine"))
	if err != nil {
		return err
	}
	defer a.Close()

	go func() { _ = a.RunEventEviction(ctx) }()

	srv := mcpserver.NewServer(a.Engine, version)
	logging.New("mcp").Info("starting fivewhys MCP server over stdio", "model", a.Model.Name())
	if err := srv.MCPServer.Run(ctx, &sdkmcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
