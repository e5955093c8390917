package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/filings-rag/internal/bootstrap"
	"github.com/kirillkom/filings-rag/internal/core/domain"
	"github.com/kirillkom/filings-rag/internal/core/ports"
)

func searchCmd(newApp appFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <question>",
		Short: "Run a hybrid multi-query search and print the fused chunks as JSON",
		Example: `  filingctl search "What are Apple's supply chain risks?" --ticker AAPL --form 10-K --limit 5
  filingctl search "goodwill impairment" --no-expand`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := searchRequestFromFlags(cmd, args)
			if err != nil {
				return err
			}
			timeout, err := cmd.Flags().GetDuration("timeout")
			if err != nil {
				return fmt.Errorf("failed to get timeout flag: %w", err)
			}
			pretty, err := cmd.Flags().GetBool("pretty")
			if err != nil {
				return fmt.Errorf("failed to get pretty flag: %w", err)
			}

			cfg, logger, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			app, err := newApp(ctx, cfg, bootstrap.Options{Logger: logger})
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer app.Close()

			return runSearch(ctx, app.RetrievalUC, req, cmd.OutOrStdout(), pretty)
		},
	}

	cmd.Flags().String("ticker", "", "Restrict results to one company ticker")
	cmd.Flags().String("form", "", "Restrict results to one form type (10-K, 10-Q, 8-K, ...)")
	cmd.Flags().String("section", "", "Restrict results to one filing section")
	cmd.Flags().Int("limit", 0, "Number of chunks to return (0 uses the configured default)")
	cmd.Flags().Bool("no-expand", false, "Search with the original question only")
	cmd.Flags().Int("max-variations", 0, "Upper bound on executed query variations (0 uses the configured default)")
	cmd.Flags().Duration("timeout", 60*time.Second, "Overall deadline for the search")
	cmd.Flags().Bool("pretty", false, "Indent the JSON output")
	return cmd
}

func searchRequestFromFlags(cmd *cobra.Command, args []string) (domain.RetrievalRequest, error) {
	ticker, err := cmd.Flags().GetString("ticker")
	if err != nil {
		return domain.RetrievalRequest{}, fmt.Errorf("failed to get ticker flag: %w", err)
	}
	form, err := cmd.Flags().GetString("form")
	if err != nil {
		return domain.RetrievalRequest{}, fmt.Errorf("failed to get form flag: %w", err)
	}
	section, err := cmd.Flags().GetString("section")
	if err != nil {
		return domain.RetrievalRequest{}, fmt.Errorf("failed to get section flag: %w", err)
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return domain.RetrievalRequest{}, fmt.Errorf("failed to get limit flag: %w", err)
	}
	noExpand, err := cmd.Flags().GetBool("no-expand")
	if err != nil {
		return domain.RetrievalRequest{}, fmt.Errorf("failed to get no-expand flag: %w", err)
	}
	maxVariations, err := cmd.Flags().GetInt("max-variations")
	if err != nil {
		return domain.RetrievalRequest{}, fmt.Errorf("failed to get max-variations flag: %w", err)
	}

	formType, err := domain.ParseFormType(form)
	if err != nil {
		return domain.RetrievalRequest{}, err
	}
	return domain.RetrievalRequest{
		Question: strings.Join(args, " "),
		Filter: domain.ScopeFilter{
			Ticker:   ticker,
			FormType: formType,
			Section:  section,
		},
		Limit:         limit,
		Expand:        !noExpand,
		MaxVariations: maxVariations,
	}, nil
}

func runSearch(ctx context.Context, svc ports.RetrievalService, req domain.RetrievalRequest, out io.Writer, pretty bool) error {
	result, err := svc.Search(ctx, req)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	for i := range result.Chunks {
		result.Chunks[i].Chunk.Embedding = nil
	}
	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(result)
}
