package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/notegen/internal/core/domain"
)

// NoteRepository persists note state. Update is optimistic: it succeeds only
// when note.Version matches the stored row and increments it on success.
type NoteRepository interface {
	Create(ctx context.Context, note *domain.Note) error
	GetByID(ctx context.Context, id string) (*domain.Note, error)
	Update(ctx context.Context, note *domain.Note) error
}

// EnrichmentRepository stores extraction output.
type EnrichmentRepository interface {
	UpsertWeakConcepts(ctx context.Context, concepts []domain.WeakConcept) error
	SaveConceptCards(ctx context.Context, noteID string, cards []domain.ConceptCard) error
}

// ObjectStorage stores uploaded images.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue carries note commands from the API to workers.
type MessageQueue interface {
	PublishNoteCommand(ctx context.Context, cmd domain.NoteCommand) error
	SubscribeNoteCommands(ctx context.Context, handler func(context.Context, domain.NoteCommand) error) error
}

type Lease interface {
	Release(ctx context.Context) error
}

// NoteLocker grants exclusive per-note leases. Acquire fails with
// domain.ErrConflict when the key is already held.
type NoteLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// PipelineObserver receives pipeline telemetry. Implementations must be
// safe for concurrent use.
type PipelineObserver interface {
	StageFinished(stage string, outcome string, elapsed time.Duration)
	StatusChanged(from, to domain.NoteStatus)
	ExtractionFailed(extractor string)
}
