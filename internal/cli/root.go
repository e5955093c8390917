package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/filings-rag/internal/bootstrap"
	"github.com/kirillkom/filings-rag/internal/config"
	"github.com/kirillkom/filings-rag/internal/observability/logging"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

type appFactory func(ctx context.Context, cfg config.Config, opts bootstrap.Options) (*bootstrap.App, error)

func RootCmd() *cobra.Command {
	return newRootCmd(bootstrap.New)
}

func newRootCmd(newApp appFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "filingctl",
		Short:         "Query and feed the filings retrieval engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to a YAML config file (overrides CONFIG_FILE)")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		searchCmd(newApp),
		mcpCmd(newApp),
		publishCmd(newApp),
	)
	return root
}

// loadRuntime resolves config and a stderr logger; stdout is reserved for
// command output and the MCP stdio stream.
func loadRuntime(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	if configPath != "" {
		if err := os.Setenv("CONFIG_FILE", configPath); err != nil {
			return config.Config{}, nil, fmt.Errorf("set CONFIG_FILE: %w", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	if level == "" {
		level = cfg.LogLevel
	}
	logger := logging.NewJSONLoggerTo(cmd.ErrOrStderr(), "filingctl", level)
	return cfg, logger, nil
}
