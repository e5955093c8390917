package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/filings-rag/internal/bootstrap"
	"github.com/kirillkom/filings-rag/internal/core/domain"
)

func publishCmd(newApp appFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <batch.json>",
		Short: "Publish a chunk batch file to the indexing subject (use - for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			direct, err := cmd.Flags().GetBool("direct")
			if err != nil {
				return fmt.Errorf("failed to get direct flag: %w", err)
			}
			batch, err := readChunkBatch(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, logger, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			app, err := newApp(ctx, cfg, bootstrap.Options{Logger: logger, ConnectQueue: !direct})
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer app.Close()

			if direct {
				n, err := app.IndexUC.IndexBatch(ctx, batch)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks\n", n)
				return err
			}
			if err := app.Queue.PublishChunkBatch(ctx, batch); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "published %d chunks to %s\n", len(batch.Chunks), cfg.NATSChunkSubject)
			return err
		},
	}
	cmd.Flags().Bool("direct", false, "Index into the chunk store directly instead of publishing to NATS")
	return cmd
}

func readChunkBatch(path string, stdin io.Reader) (domain.ChunkBatch, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return domain.ChunkBatch{}, fmt.Errorf("open batch file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var batch domain.ChunkBatch
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&batch); err != nil {
		return domain.ChunkBatch{}, fmt.Errorf("decode chunk batch: %w", err)
	}
	if len(batch.Chunks) == 0 {
		return domain.ChunkBatch{}, errors.New("chunk batch is empty")
	}
	return batch, nil
}
