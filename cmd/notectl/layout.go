package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/notegen/internal/bootstrap"
	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/core/layout"
)

type layoutOptions struct {
	indent int
	asJSON bool
}

func (o *layoutOptions) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.indent, "indent-threshold", layout.DefaultIndentThreshold, "max left-edge difference in pixels for lines to share a block")
	cmd.Flags().BoolVar(&o.asJSON, "json", false, "print blocks as JSON")
}

func newClusterCmd() *cobra.Command {
	opts := &layoutOptions{}
	cmd := &cobra.Command{
		Use:   "cluster <words.json>...",
		Short: "Cluster OCR words into normalized blocks",
		Long: `Reads one OCR page per file as {"width":..,"height":..,"words":[..]}
and prints the blocks the pipeline would send to the language model.
Use - to read a single page from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pages := make([]domain.OCRPage, 0, len(args))
			for _, path := range args {
				raw, err := readInput(path, cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				var page domain.OCRPage
				if err := json.Unmarshal(raw, &page); err != nil {
					return fmt.Errorf("decode %s: %w", path, err)
				}
				pages = append(pages, page)
			}
			blocks, err := clusterPages(layout.NewClusterer(layout.Options{IndentThreshold: opts.indent}), pages)
			if err != nil {
				return err
			}
			return writeBlocks(cmd.OutOrStdout(), blocks, opts.asJSON)
		},
	}
	opts.bind(cmd)
	return cmd
}

func newOCRCmd(root *rootOptions) *cobra.Command {
	opts := &layoutOptions{}
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "ocr <image>...",
		Short: "Run the configured OCR provider on images and print the clustered blocks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			cfg := root.loadConfig()
			provider, closeFn, err := bootstrap.NewOCRProvider(ctx, cfg, root.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer closeFn()

			pages := make([]domain.OCRPage, 0, len(args))
			for _, path := range args {
				image, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				page, err := provider.ExtractWords(ctx, image)
				if err != nil {
					return fmt.Errorf("ocr %s: %w", path, err)
				}
				pages = append(pages, page)
			}
			blocks, err := clusterPages(layout.NewClusterer(layout.Options{IndentThreshold: opts.indent}), pages)
			if err != nil {
				return err
			}
			return writeBlocks(cmd.OutOrStdout(), blocks, opts.asJSON)
		},
	}
	opts.bind(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall OCR timeout")
	return cmd
}

// clusterPages keeps block ids unique across pages and skips pages without
// words.
func clusterPages(c *layout.Clusterer, pages []domain.OCRPage) ([]domain.Block, error) {
	var blocks []domain.Block
	for i, page := range pages {
		if len(page.Words) == 0 {
			continue
		}
		pageBlocks, err := c.Cluster(page, i, len(blocks))
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		blocks = append(blocks, pageBlocks...)
	}
	return blocks, nil
}

func writeBlocks(w io.Writer, blocks []domain.Block, asJSON bool) error {
	if asJSON {
		if blocks == nil {
			blocks = []domain.Block{}
		}
		return printJSON(w, blocks)
	}
	if len(blocks) == 0 {
		return nil
	}
	_, err := fmt.Fprintln(w, layout.FormatBlocks(blocks))
	return err
}
