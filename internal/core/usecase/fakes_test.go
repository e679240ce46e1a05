package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/core/ports"
)

type noteRepoFake struct {
	mu        sync.Mutex
	notes     map[string]*domain.Note
	statuses  []domain.NoteStatus
	getErr    error
	updateErr error
	failOn    domain.NoteStatus
}

func newNoteRepoFake(notes ...*domain.Note) *noteRepoFake {
	f := &noteRepoFake{notes: make(map[string]*domain.Note)}
	for _, n := range notes {
		copyNote := *n
		if copyNote.Version == 0 {
			copyNote.Version = 1
		}
		f.notes[n.ID] = &copyNote
	}
	return f
}

func (f *noteRepoFake) Create(_ context.Context, note *domain.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copyNote := *note
	f.notes[note.ID] = &copyNote
	return nil
}

func (f *noteRepoFake) GetByID(_ context.Context, id string) (*domain.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	note, ok := f.notes[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNoteNotFound, "get note", fmt.Errorf("id=%s", id))
	}
	copyNote := *note
	return &copyNote, nil
}

func (f *noteRepoFake) Update(ctx context.Context, note *domain.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.updateErr != nil && (f.failOn == "" || f.failOn == note.Status) {
		return f.updateErr
	}
	stored, ok := f.notes[note.ID]
	if !ok {
		return domain.WrapError(domain.ErrNoteNotFound, "update note", fmt.Errorf("id=%s", note.ID))
	}
	if stored.Version != note.Version {
		return domain.WrapError(domain.ErrConflict, "update note",
			fmt.Errorf("version %d, stored %d", note.Version, stored.Version))
	}
	note.Version++
	copyNote := *note
	f.notes[note.ID] = &copyNote
	f.statuses = append(f.statuses, note.Status)
	return nil
}

func (f *noteRepoFake) stored(id string) domain.Note {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.notes[id]
}

type storageFake struct {
	mu      sync.Mutex
	objects map[string][]byte
	saveErr error
}

func newStorageFake() *storageFake {
	return &storageFake{objects: make(map[string][]byte)}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

// ocrFake returns pages keyed by image content.
type ocrFake struct {
	pages   map[string]domain.OCRPage
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *ocrFake) ExtractWords(ctx context.Context, image []byte) (domain.OCRPage, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return domain.OCRPage{}, ctx.Err()
		}
	}
	if f.err != nil {
		return domain.OCRPage{}, f.err
	}
	return f.pages[string(image)], nil
}

// promptStoreFake echoes the key as the system prompt so llmFake can route.
type promptStoreFake struct {
	missing map[string]bool
}

func (f *promptStoreFake) Resolve(_ context.Context, key string) (ports.PromptTemplate, error) {
	if f != nil && f.missing[key] {
		return ports.PromptTemplate{}, fmt.Errorf("prompt %s not found", key)
	}
	return ports.PromptTemplate{Key: key, System: key, Instructions: "instructions for " + key}, nil
}

type llmReply struct {
	text   string
	reason ports.FinishReason
	err    error
	hang   bool
}

type llmFake struct {
	mu       sync.Mutex
	replies  map[string]llmReply
	requests []ports.CompletionRequest
}

func newLLMFake(replies map[string]llmReply) *llmFake {
	return &llmFake{replies: replies}
}

func (f *llmFake) Complete(ctx context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply, ok := f.replies[req.System]
	if !ok && strings.HasPrefix(req.System, "summary.") {
		reply, ok = f.replies["summary.*"]
	}
	f.mu.Unlock()

	if !ok {
		return ports.Completion{}, fmt.Errorf("unexpected prompt %q", req.System)
	}
	if reply.hang {
		<-ctx.Done()
		return ports.Completion{}, ctx.Err()
	}
	if reply.err != nil {
		return ports.Completion{}, reply.err
	}
	reason := reply.reason
	if reason == "" {
		reason = ports.FinishStop
	}
	return ports.Completion{Text: reply.text, FinishReason: reason, Model: req.Model}, nil
}

func (f *llmFake) calls(system string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.System == system {
			n++
		}
	}
	return n
}

func (f *llmFake) systems() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.System)
	}
	return out
}

type decoderFake struct{}

func (decoderFake) Decode(_ string, raw string, out any) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return domain.WrapError(domain.ErrParse, "decode", errors.New("no json object"))
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), out); err != nil {
		return domain.WrapError(domain.ErrParse, "decode", err)
	}
	return nil
}

type enrichmentRepoFake struct {
	mu       sync.Mutex
	concepts []domain.WeakConcept
	cards    []domain.ConceptCard
	cardsErr error
}

func (f *enrichmentRepoFake) UpsertWeakConcepts(_ context.Context, concepts []domain.WeakConcept) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.concepts = append(f.concepts, concepts...)
	return nil
}

func (f *enrichmentRepoFake) SaveConceptCards(_ context.Context, _ string, cards []domain.ConceptCard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cardsErr != nil {
		return f.cardsErr
	}
	f.cards = append(f.cards, cards...)
	return nil
}

type lockerFake struct {
	mu   sync.Mutex
	held map[string]bool
}

func newLockerFake() *lockerFake {
	return &lockerFake{held: make(map[string]bool)}
}

func (f *lockerFake) Acquire(_ context.Context, key string, _ time.Duration) (ports.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return nil, domain.WrapError(domain.ErrConflict, "acquire lease", fmt.Errorf("%s is held", key))
	}
	f.held[key] = true
	return leaseFake{release: func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
	}}, nil
}

type leaseFake struct {
	release func()
}

func (l leaseFake) Release(context.Context) error {
	l.release()
	return nil
}

type observerFake struct {
	mu          sync.Mutex
	stages      []string
	transitions []string
	failures    []string
}

func (f *observerFake) StageFinished(stage, outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage+":"+outcome)
}

func (f *observerFake) StatusChanged(from, to domain.NoteStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, string(from)+"->"+string(to))
}

func (f *observerFake) ExtractionFailed(extractor string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, extractor)
}
