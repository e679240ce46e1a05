package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/notegen/internal/config"
	"github.com/kirillkom/notegen/internal/core/layout"
	"github.com/kirillkom/notegen/internal/core/ports"
	"github.com/kirillkom/notegen/internal/core/usecase"
	"github.com/kirillkom/notegen/internal/infrastructure/llm/structured"
	"github.com/kirillkom/notegen/internal/infrastructure/prompts"
	"github.com/kirillkom/notegen/internal/infrastructure/queue/nats"
	"github.com/kirillkom/notegen/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/notegen/internal/infrastructure/resilience"
	"github.com/kirillkom/notegen/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/notegen/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue      ports.MessageQueue
	Notes      ports.NoteRepository
	IngestUC   ports.NoteIngestor
	Dispatcher ports.ProcessDispatcher
	Pipeline   *usecase.PipelineUseCase

	closeFn func()
}

type Options struct {
	Service string
	Logger  *slog.Logger
	// Registerer receives pipeline metrics. Nil disables them.
	Registerer prometheus.Registerer
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*App, error) {
		closeAll()
		return nil, err
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	closers = append(closers, func() { _ = db.Close() })
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return fail(fmt.Errorf("ensure schema: %w", err))
	}
	notes := postgres.NewNoteRepository(db)
	enrichment := postgres.NewEnrichmentRepository(db)

	var (
		observer    ports.PipelineObserver
		executorOpt []resilience.Option
	)
	if opts.Registerer != nil {
		pm := metrics.NewPipelineMetrics(opts.Service, opts.Registerer)
		observer = pm
		executorOpt = append(executorOpt, resilience.WithStateListener(pm.BreakerStateChanged))
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return fail(fmt.Errorf("init object storage: %w", err))
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: newExecutor(cfg, resilience.ProfileQueue, logger, executorOpt...),
		Logger:             logger,
	})
	if err != nil {
		return fail(fmt.Errorf("init message queue: %w", err))
	}
	closers = append(closers, queue.Close)

	locker, closeLocker, err := NewLocker(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("init note locker: %w", err))
	}
	closers = append(closers, closeLocker)

	ocrProvider, closeOCR, err := NewOCRProvider(ctx, cfg, logger, executorOpt...)
	if err != nil {
		return fail(fmt.Errorf("init ocr provider: %w", err))
	}
	closers = append(closers, closeOCR)

	llm, err := NewLanguageModel(cfg, logger, executorOpt...)
	if err != nil {
		return fail(fmt.Errorf("init language model: %w", err))
	}

	promptStore, err := newPromptStore(cfg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, promptStore.Close)

	decoder, err := structured.NewDecoder()
	if err != nil {
		return fail(fmt.Errorf("init structured decoder: %w", err))
	}

	classifier := usecase.NewClassificationStage(llm, promptStore, decoder, usecase.ClassificationConfig{
		Refine:      usecase.StageModel{Model: cfg.RefineModel, MaxTokens: cfg.RefineMaxTokens},
		Classify:    usecase.StageModel{Model: cfg.ClassifyModel, MaxTokens: cfg.ClassifyMaxTokens},
		CallTimeout: cfg.CallTimeout,
	}, logger)
	generator := usecase.NewGenerationStage(llm, promptStore, usecase.GenerationConfig{
		Generate:    usecase.StageModel{Model: cfg.GenerateModel, MaxTokens: cfg.GenerateMaxTokens},
		CallTimeout: cfg.CallTimeout,
	}, logger)
	extractor := usecase.NewExtractionStage(llm, promptStore, decoder, enrichment, observer, usecase.ExtractionConfig{
		Extract:     usecase.StageModel{Model: cfg.ExtractModel, MaxTokens: cfg.ExtractMaxTokens},
		CallTimeout: cfg.CallTimeout,
	}, logger)

	pipeline := usecase.NewPipelineUseCase(
		notes,
		storage,
		ocrProvider,
		layout.NewClusterer(layout.Options{}),
		classifier,
		generator,
		extractor,
		locker,
		observer,
		usecase.PipelineConfig{
			ConfirmationEnabled: cfg.ConfirmationEnabled,
			CallTimeout:         cfg.CallTimeout,
			LeaseTTL:            cfg.NoteLeaseTTL,
		},
		logger,
	)

	return &App{
		Config: cfg,
		Logger: logger,

		Queue:      queue,
		Notes:      notes,
		IngestUC:   usecase.NewIngestNoteUseCase(notes, storage, cfg.UploadMaxFiles),
		Dispatcher: usecase.NewProcessDispatchUseCase(notes, queue),
		Pipeline:   pipeline,

		closeFn: closeAll,
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func newPromptStore(cfg config.Config) (*prompts.CachedStore, error) {
	file := prompts.NewFileStore(cfg.PromptsPath)
	if _, err := file.Load(); err != nil {
		return nil, fmt.Errorf("load prompt templates: %w", err)
	}
	return prompts.NewCachedStore(file, cfg.PromptsCacheTTL), nil
}
