package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/core/layout"
	"github.com/kirillkom/notegen/internal/core/ports"
)

const (
	stageOCR      = "ocr"
	stageClassify = "classify"
	stageGenerate = "generate"

	defaultLeaseTTL            = 10 * time.Minute
	defaultFailureWriteTimeout = 5 * time.Second
)

type PipelineConfig struct {
	// ConfirmationEnabled pauses for user confirmation when an explicit
	// method disagrees with a confidently detected specialized note type.
	ConfirmationEnabled bool
	CallTimeout         time.Duration
	LeaseTTL            time.Duration
	FailureWriteTimeout time.Duration
}

type PipelineUseCase struct {
	repo       ports.NoteRepository
	storage    ports.ObjectStorage
	ocr        ports.OCRProvider
	clusterer  *layout.Clusterer
	classifier *ClassificationStage
	generator  *GenerationStage
	extractor  *ExtractionStage
	locker     ports.NoteLocker
	observer   ports.PipelineObserver
	cfg        PipelineConfig
	logger     *slog.Logger
}

func NewPipelineUseCase(
	repo ports.NoteRepository,
	storage ports.ObjectStorage,
	ocr ports.OCRProvider,
	clusterer *layout.Clusterer,
	classifier *ClassificationStage,
	generator *GenerationStage,
	extractor *ExtractionStage,
	locker ports.NoteLocker,
	observer ports.PipelineObserver,
	cfg PipelineConfig,
	logger *slog.Logger,
) *PipelineUseCase {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	if cfg.FailureWriteTimeout <= 0 {
		cfg.FailureWriteTimeout = defaultFailureWriteTimeout
	}
	return &PipelineUseCase{
		repo:       repo,
		storage:    storage,
		ocr:        ocr,
		clusterer:  clusterer,
		classifier: classifier,
		generator:  generator,
		extractor:  extractor,
		locker:     locker,
		observer:   observerOrNoop(observer),
		cfg:        cfg,
		logger:     loggerOrDefault(logger),
	}
}

// Process runs OCR, classification and generation for a freshly uploaded or
// previously failed note.
func (uc *PipelineUseCase) Process(ctx context.Context, noteID string) (*domain.ProcessResult, error) {
	return uc.withLease(ctx, noteID, func(note *domain.Note) (*domain.ProcessResult, error) {
		if note.Status != domain.StatusUploading && note.Status != domain.StatusFailed {
			return nil, domain.WrapError(domain.ErrInvalidState, "process note",
				fmt.Errorf("status %s does not allow processing", note.Status))
		}

		if err := uc.advance(ctx, note, domain.StatusOCRProcessing); err != nil {
			return nil, err
		}
		if err := uc.runOCR(ctx, note); err != nil {
			return nil, uc.fail(ctx, note, err)
		}

		if err := uc.advance(ctx, note, domain.StatusAIOrganizing); err != nil {
			return nil, err
		}
		cls, err := uc.classify(ctx, note)
		if err != nil {
			return nil, uc.fail(ctx, note, err)
		}

		if suggested, reason, ok := uc.confirmationNeeded(note.OrganizeMethod, cls); ok {
			return uc.pause(ctx, note, cls, suggested, reason)
		}
		return uc.generateAndComplete(ctx, note, cls)
	})
}

// ConfirmType resumes a paused note from its checkpoint. OCR and
// classification are not repeated.
func (uc *PipelineUseCase) ConfirmType(ctx context.Context, noteID string, useAlternateMethod bool) (*domain.ProcessResult, error) {
	return uc.withLease(ctx, noteID, func(note *domain.Note) (*domain.ProcessResult, error) {
		if note.Status != domain.StatusConfirmationNeeded {
			return nil, domain.WrapError(domain.ErrInvalidState, "confirm note type",
				fmt.Errorf("status %s is not awaiting confirmation", note.Status))
		}
		if note.Checkpoint == nil {
			return nil, domain.WrapError(domain.ErrInvalidState, "confirm note type",
				errors.New("classification checkpoint is missing"))
		}

		cp := note.Checkpoint
		if useAlternateMethod && cp.SuggestedMethod != "" {
			note.OrganizeMethod = cp.SuggestedMethod
		}
		uc.logger.Info("note_type_confirmed",
			slog.String("note_id", note.ID),
			slog.Bool("use_alternate", useAlternateMethod),
			slog.String("method", string(note.OrganizeMethod)),
		)

		if err := uc.advance(ctx, note, domain.StatusAIOrganizing); err != nil {
			return nil, err
		}
		return uc.generateAndComplete(ctx, note, cp.Classification)
	})
}

// Reprocess re-runs classification and generation on the stored OCR text.
// Any pending checkpoint is discarded and no confirmation pause happens.
func (uc *PipelineUseCase) Reprocess(ctx context.Context, noteID string) (*domain.ProcessResult, error) {
	return uc.withLease(ctx, noteID, func(note *domain.Note) (*domain.ProcessResult, error) {
		if strings.TrimSpace(note.OCRText) == "" {
			return nil, domain.WrapError(domain.ErrInvalidState, "reprocess note",
				errors.New("note has no ocr text"))
		}

		note.Checkpoint = nil
		if err := uc.advance(ctx, note, domain.StatusAIOrganizing); err != nil {
			return nil, err
		}
		cls, err := uc.classify(ctx, note)
		if err != nil {
			return nil, uc.fail(ctx, note, err)
		}
		return uc.generateAndComplete(ctx, note, cls)
	})
}

func (uc *PipelineUseCase) Status(ctx context.Context, noteID string) (*domain.ProcessResult, error) {
	note, err := uc.repo.GetByID(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("fetch note by id: %w", err)
	}
	return domain.NewProcessResult(note), nil
}

// HandleCommand is the worker entry point for queued note commands.
func (uc *PipelineUseCase) HandleCommand(ctx context.Context, cmd domain.NoteCommand) error {
	var (
		res *domain.ProcessResult
		err error
	)
	switch cmd.Action {
	case domain.ActionProcess, "":
		res, err = uc.Process(ctx, cmd.NoteID)
	case domain.ActionReprocess:
		res, err = uc.Reprocess(ctx, cmd.NoteID)
	default:
		return domain.WrapError(domain.ErrInvalidInput, "handle note command",
			fmt.Errorf("unknown action %q", cmd.Action))
	}
	if err != nil {
		return err
	}
	uc.logger.Info("note_command_handled",
		slog.String("note_id", cmd.NoteID),
		slog.String("action", string(cmd.Action)),
		slog.String("status", string(res.Status)),
	)
	return nil
}

func (uc *PipelineUseCase) withLease(
	ctx context.Context,
	noteID string,
	run func(note *domain.Note) (*domain.ProcessResult, error),
) (*domain.ProcessResult, error) {
	lease, err := uc.locker.Acquire(ctx, "note:"+noteID, uc.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire note lease: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.cfg.FailureWriteTimeout)
		defer cancel()
		if relErr := lease.Release(releaseCtx); relErr != nil {
			uc.logger.Warn("note_lease_release_failed",
				slog.String("note_id", noteID),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	note, err := uc.repo.GetByID(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("fetch note by id: %w", err)
	}
	return run(note)
}

func (uc *PipelineUseCase) runOCR(ctx context.Context, note *domain.Note) (err error) {
	start := time.Now()
	defer func() { uc.observer.StageFinished(stageOCR, outcomeOf(err), time.Since(start)) }()

	if len(note.ImagePaths) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "run ocr", errors.New("note has no images"))
	}

	var (
		blocks []domain.Block
		texts  []string
	)
	for i, path := range note.ImagePaths {
		image, err := uc.readImage(ctx, path)
		if err != nil {
			return err
		}
		page, err := withCallTimeout(ctx, uc.cfg.CallTimeout, func(callCtx context.Context) (domain.OCRPage, error) {
			return uc.ocr.ExtractWords(callCtx, image)
		})
		if err != nil {
			return domain.WrapError(domain.ErrProvider, fmt.Sprintf("ocr image %d", i), err)
		}
		if len(page.Words) == 0 {
			uc.logger.Warn("ocr_image_empty", slog.String("note_id", note.ID), slog.Int("image", i))
			continue
		}
		pageBlocks, err := uc.clusterer.Cluster(page, i, len(blocks))
		if err != nil {
			return fmt.Errorf("cluster image %d: %w", i, err)
		}
		blocks = append(blocks, pageBlocks...)
		if text := layout.PlainText(pageBlocks); text != "" {
			texts = append(texts, text)
		}
	}

	text := strings.TrimSpace(strings.Join(texts, "\n\n"))
	if text == "" {
		return domain.WrapError(domain.ErrEmptyResult, "run ocr", errors.New("no text recognized"))
	}
	note.OCRText = text
	note.OCRBlocks = blocks
	uc.logger.Info("ocr_completed",
		slog.String("note_id", note.ID),
		slog.Int("images", len(note.ImagePaths)),
		slog.Int("blocks", len(blocks)),
		slog.Int("text_len", len(text)),
	)
	return nil
}

func (uc *PipelineUseCase) readImage(ctx context.Context, path string) ([]byte, error) {
	rc, err := uc.storage.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", path, err)
	}
	return data, nil
}

func (uc *PipelineUseCase) classify(ctx context.Context, note *domain.Note) (cls domain.Classification, err error) {
	start := time.Now()
	defer func() { uc.observer.StageFinished(stageClassify, outcomeOf(err), time.Since(start)) }()

	cls, err = uc.classifier.Classify(ctx, note.OCRText, note.OCRBlocks)
	if err != nil {
		return domain.Classification{}, err
	}
	note.DetectedSubject = cls.Subject
	note.DetectedNoteType = cls.NoteType
	note.DetectedUnit = cls.Unit
	uc.logger.Info("note_classified",
		slog.String("note_id", note.ID),
		slog.String("subject", string(cls.Subject)),
		slog.String("note_type", string(cls.NoteType)),
		slog.String("source", string(cls.Source)),
	)
	return cls, nil
}

// confirmationNeeded reports whether an explicit method conflicts with a
// parsed specialized note type, and which method to suggest instead.
func (uc *PipelineUseCase) confirmationNeeded(method domain.OrganizeMethod, cls domain.Classification) (domain.OrganizeMethod, string, bool) {
	if !uc.cfg.ConfirmationEnabled || cls.Source != domain.SourceParsed {
		return "", "", false
	}
	if method == domain.MethodAuto || method == "" {
		return "", "", false
	}
	switch cls.NoteType {
	case domain.NoteTypeErrorNote:
		if method != domain.MethodErrorNote {
			return domain.MethodErrorNote, "content looks like an error note", true
		}
	case domain.NoteTypeVocab:
		if method != domain.MethodVocab {
			return domain.MethodVocab, "content looks like a vocabulary list", true
		}
	}
	return "", "", false
}

func (uc *PipelineUseCase) pause(
	ctx context.Context,
	note *domain.Note,
	cls domain.Classification,
	suggested domain.OrganizeMethod,
	reason string,
) (*domain.ProcessResult, error) {
	note.Checkpoint = &domain.ClassificationCheckpoint{
		SchemaVersion:   domain.CheckpointSchemaVersion,
		Classification:  cls,
		SuggestedMethod: suggested,
		Reason:          reason,
		CreatedAt:       time.Now().UTC(),
	}
	if err := uc.advance(ctx, note, domain.StatusConfirmationNeeded); err != nil {
		return nil, err
	}
	uc.logger.Info("note_confirmation_needed",
		slog.String("note_id", note.ID),
		slog.String("method", string(note.OrganizeMethod)),
		slog.String("suggested", string(suggested)),
	)
	res := domain.NewProcessResult(note)
	res.Message = fmt.Sprintf("%s: %s, switch to %s?", domain.StatusMessage(note.Status), reason, suggested)
	return res, nil
}

func (uc *PipelineUseCase) generateAndComplete(ctx context.Context, note *domain.Note, cls domain.Classification) (*domain.ProcessResult, error) {
	content, err := uc.generate(ctx, note, cls)
	if err != nil {
		return nil, uc.fail(ctx, note, err)
	}

	note.OrganizedContent = content
	note.Checkpoint = nil
	note.ErrorMessage = ""
	if err := uc.advance(ctx, note, domain.StatusCompleted); err != nil {
		return nil, err
	}

	if uc.extractor != nil {
		if err := uc.extractor.Run(ctx, *note); err != nil {
			uc.logger.Warn("note_enrichment_incomplete",
				slog.String("note_id", note.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return domain.NewProcessResult(note), nil
}

func (uc *PipelineUseCase) generate(ctx context.Context, note *domain.Note, cls domain.Classification) (content string, err error) {
	start := time.Now()
	defer func() { uc.observer.StageFinished(stageGenerate, outcomeOf(err), time.Since(start)) }()

	return uc.generator.Generate(ctx, GenerateInput{
		RefinedText: cls.RefinedText,
		Blocks:      note.OCRBlocks,
		Structure:   cls.Structure,
		Method:      note.OrganizeMethod,
		Subject:     cls.Subject,
		NoteType:    cls.NoteType,
		Unit:        cls.Unit,
	})
}

// advance moves a running note to its next status. A write that fails for
// any reason other than a lost version race marks the note failed, so it
// never stays in an in-progress status without a retry path.
func (uc *PipelineUseCase) advance(ctx context.Context, note *domain.Note, to domain.NoteStatus) error {
	err := uc.transition(ctx, note, to)
	if err == nil || domain.IsKind(err, domain.ErrConflict) {
		return err
	}
	return uc.fail(ctx, note, err)
}

// transition persists a status change. Leaving completed drops the
// organized content so it only exists alongside the completed status.
func (uc *PipelineUseCase) transition(ctx context.Context, note *domain.Note, to domain.NoteStatus) error {
	from, fromMessage := note.Status, note.ProgressMessage
	note.Status = to
	note.ProgressMessage = domain.StatusMessage(to)
	if to != domain.StatusCompleted {
		note.OrganizedContent = ""
	}
	if to != domain.StatusFailed {
		note.ErrorMessage = ""
	}
	if err := uc.repo.Update(ctx, note); err != nil {
		note.Status, note.ProgressMessage = from, fromMessage
		return fmt.Errorf("set status=%s: %w", to, err)
	}
	uc.observer.StatusChanged(from, to)
	return nil
}

// fail records the failure with a context detached from the caller so a
// cancelled request still leaves the note in a terminal state.
func (uc *PipelineUseCase) fail(ctx context.Context, note *domain.Note, cause error) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.cfg.FailureWriteTimeout)
	defer cancel()

	note.ErrorMessage = cause.Error()
	uc.logger.Error("note_processing_failed",
		slog.String("note_id", note.ID),
		slog.String("from_status", string(note.Status)),
		slog.String("error", cause.Error()),
	)
	if err := uc.transition(writeCtx, note, domain.StatusFailed); err != nil {
		return fmt.Errorf("%w; mark failed status: %v", cause, err)
	}
	return cause
}
