package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/core/ports"
)

// ProcessDispatchUseCase checks the process precondition up front and hands
// the run to a worker through the queue.
type ProcessDispatchUseCase struct {
	repo  ports.NoteRepository
	queue ports.MessageQueue
}

func NewProcessDispatchUseCase(repo ports.NoteRepository, queue ports.MessageQueue) *ProcessDispatchUseCase {
	return &ProcessDispatchUseCase{repo: repo, queue: queue}
}

func (uc *ProcessDispatchUseCase) SubmitProcess(ctx context.Context, noteID string) (*domain.ProcessResult, error) {
	note, err := uc.repo.GetByID(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("fetch note by id: %w", err)
	}
	if note.Status != domain.StatusUploading && note.Status != domain.StatusFailed {
		return nil, domain.WrapError(domain.ErrInvalidState, "submit process",
			fmt.Errorf("status %s does not allow processing", note.Status))
	}
	if err := uc.publish(ctx, note.ID, domain.ActionProcess); err != nil {
		return nil, err
	}
	return &domain.ProcessResult{
		NoteID:  note.ID,
		Status:  domain.StatusOCRProcessing,
		Message: domain.StatusMessage(domain.StatusOCRProcessing),
	}, nil
}

// SubmitReprocess queues a reprocess run. Notes without OCR text are rejected
// before anything is published.
func (uc *ProcessDispatchUseCase) SubmitReprocess(ctx context.Context, noteID string) (*domain.ProcessResult, error) {
	note, err := uc.repo.GetByID(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("fetch note by id: %w", err)
	}
	if strings.TrimSpace(note.OCRText) == "" {
		return nil, domain.WrapError(domain.ErrInvalidState, "submit reprocess",
			errors.New("note has no ocr text"))
	}
	if err := uc.publish(ctx, note.ID, domain.ActionReprocess); err != nil {
		return nil, err
	}
	return &domain.ProcessResult{
		NoteID:  note.ID,
		Status:  domain.StatusAIOrganizing,
		Message: domain.StatusMessage(domain.StatusAIOrganizing),
	}, nil
}

func (uc *ProcessDispatchUseCase) publish(ctx context.Context, noteID string, action domain.CommandAction) error {
	cmd := domain.NoteCommand{
		NoteID:     noteID,
		Action:     action,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := uc.queue.PublishNoteCommand(ctx, cmd); err != nil {
		return fmt.Errorf("publish %s command: %w", action, err)
	}
	return nil
}
