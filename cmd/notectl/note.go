package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/notegen/internal/bootstrap"
	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/core/ports"
)

type noteAction func(ctx context.Context, pipeline ports.NotePipeline, noteID string) (*domain.ProcessResult, error)

// newNoteCmds builds the commands that drive one note synchronously, bypassing
// the queue.
func newNoteCmds(root *rootOptions) []*cobra.Command {
	var useAlternate bool
	confirm := newNoteCmd(root, "confirm <note-id>", "Resume a note paused for type confirmation",
		func(ctx context.Context, p ports.NotePipeline, id string) (*domain.ProcessResult, error) {
			return p.ConfirmType(ctx, id, useAlternate)
		})
	confirm.Flags().BoolVar(&useAlternate, "alternate", false, "switch to the suggested organize method")

	return []*cobra.Command{
		newNoteCmd(root, "process <note-id>", "Run OCR, classification and generation for a note",
			func(ctx context.Context, p ports.NotePipeline, id string) (*domain.ProcessResult, error) {
				return p.Process(ctx, id)
			}),
		confirm,
		newNoteCmd(root, "reprocess <note-id>", "Re-run classification and generation on stored OCR text",
			func(ctx context.Context, p ports.NotePipeline, id string) (*domain.ProcessResult, error) {
				return p.Reprocess(ctx, id)
			}),
		newNoteCmd(root, "status <note-id>", "Show the processing status of a note",
			func(ctx context.Context, p ports.NotePipeline, id string) (*domain.ProcessResult, error) {
				return p.Status(ctx, id)
			}),
	}
}

func newNoteCmd(root *rootOptions, use, short string, action noteAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.loadConfig()
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ProcessTimeout+30*time.Second)
			defer cancel()

			app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
				Service: "notectl",
				Logger:  root.logger(cmd.ErrOrStderr()),
			})
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer app.Close()

			return runNoteAction(ctx, cmd, app.Pipeline, args[0], action)
		},
	}
}

func runNoteAction(ctx context.Context, cmd *cobra.Command, pipeline ports.NotePipeline, noteID string, action noteAction) error {
	res, err := action(ctx, pipeline, noteID)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}
