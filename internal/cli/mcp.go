package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/filings-rag/internal/adapters/mcp"
	"github.com/kirillkom/filings-rag/internal/bootstrap"
)

func mcpCmd(newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the search_filings tool over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			app, err := newApp(ctx, cfg, bootstrap.Options{Logger: logger})
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer app.Close()

			logger.Info("mcp_stdio_started", "tool", mcpadapter.SearchToolName)
			return mcpadapter.ServeStdio(mcpadapter.NewServer(Version, app.RetrievalUC, logger))
		},
	}
}
