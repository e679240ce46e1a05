package ports

import (
	"context"
	"io"

	"github.com/kirillkom/notegen/internal/core/domain"
)

type UploadImage struct {
	Filename string
	Body     io.Reader
}

type UploadRequest struct {
	UserID         string
	UserPlan       domain.UserPlan
	Title          string
	OrganizeMethod domain.OrganizeMethod
	Images         []UploadImage
}

// NoteIngestor stores uploaded images and creates the note record.
type NoteIngestor interface {
	Upload(ctx context.Context, req UploadRequest) (*domain.Note, error)
}

// NotePipeline drives a note through OCR, classification and generation.
type NotePipeline interface {
	Process(ctx context.Context, noteID string) (*domain.ProcessResult, error)
	ConfirmType(ctx context.Context, noteID string, useAlternateMethod bool) (*domain.ProcessResult, error)
	Reprocess(ctx context.Context, noteID string) (*domain.ProcessResult, error)
	Status(ctx context.Context, noteID string) (*domain.ProcessResult, error)
}

// ProcessDispatcher validates a request and hands the run to a worker.
type ProcessDispatcher interface {
	SubmitProcess(ctx context.Context, noteID string) (*domain.ProcessResult, error)
	SubmitReprocess(ctx context.Context, noteID string) (*domain.ProcessResult, error)
}
