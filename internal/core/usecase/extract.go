package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/core/ports"
)

const (
	PromptWeakConcepts = "extract.weak_concepts"
	PromptConceptCards = "extract.concept_cards"

	extractorWeakConcepts = "weak_concepts"
	extractorConceptCards = "concept_cards"
)

type ExtractionConfig struct {
	Extract     StageModel
	CallTimeout time.Duration
}

// ExtractionStage enriches a completed note. It never changes note state;
// each extractor fails independently.
type ExtractionStage struct {
	llm      ports.LanguageModel
	prompts  ports.PromptStore
	decoder  ports.StructuredDecoder
	repo     ports.EnrichmentRepository
	observer ports.PipelineObserver
	cfg      ExtractionConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewExtractionStage(
	llm ports.LanguageModel,
	prompts ports.PromptStore,
	decoder ports.StructuredDecoder,
	repo ports.EnrichmentRepository,
	observer ports.PipelineObserver,
	cfg ExtractionConfig,
	logger *slog.Logger,
) *ExtractionStage {
	return &ExtractionStage{
		llm:      llm,
		prompts:  prompts,
		decoder:  decoder,
		repo:     repo,
		observer: observerOrNoop(observer),
		cfg:      cfg,
		logger:   loggerOrDefault(logger),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type weakConceptPayload struct {
	Concepts []struct {
		Concept     string `json:"concept"`
		ErrorReason string `json:"error_reason"`
	} `json:"concepts"`
}

type conceptCardPayload struct {
	Cards []struct {
		CardType       string         `json:"card_type"`
		Title          string         `json:"title"`
		Content        map[string]any `json:"content"`
		CommonMistakes []string       `json:"common_mistakes"`
		EvidenceSpans  []string       `json:"evidence_spans"`
	} `json:"cards"`
}

// Run executes both extractors concurrently on a completed note. The
// returned error joins extractor failures; callers only log it.
func (s *ExtractionStage) Run(ctx context.Context, note domain.Note) error {
	if note.Status != domain.StatusCompleted || strings.TrimSpace(note.OrganizedContent) == "" {
		return nil
	}

	var weakErr, cardErr error
	var g errgroup.Group
	if weakConceptsEnabled(note) {
		g.Go(func() error {
			weakErr = s.guard(extractorWeakConcepts, func() error { return s.extractWeakConcepts(ctx, note) })
			return nil
		})
	}
	g.Go(func() error {
		cardErr = s.guard(extractorConceptCards, func() error { return s.extractConceptCards(ctx, note) })
		return nil
	})
	_ = g.Wait()

	return errors.Join(weakErr, cardErr)
}

// Weak concept tracking needs a known user on the pro plan and an error note.
func weakConceptsEnabled(note domain.Note) bool {
	return note.DetectedNoteType == domain.NoteTypeErrorNote &&
		note.UserPlan == domain.PlanPro &&
		note.UserID != ""
}

func (s *ExtractionStage) guard(name string, fn func() error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor panic: %v", r)
		}
		if err != nil {
			err = domain.WrapError(domain.ErrExtraction, name, err)
			s.observer.ExtractionFailed(name)
			s.logger.Warn("extraction_failed",
				slog.String("extractor", name),
				slog.String("error", err.Error()),
			)
		}
		s.observer.StageFinished("extract."+name, outcomeOf(err), time.Since(start))
	}()
	return fn()
}

func (s *ExtractionStage) ask(ctx context.Context, key, schema string, note domain.Note, out any) error {
	tpl, err := resolvePrompt(ctx, s.prompts, key)
	if err != nil {
		return err
	}
	model := s.cfg.Extract.merge(tpl)

	var prompt strings.Builder
	prompt.WriteString(tpl.Instructions)
	fmt.Fprintf(&prompt, "\n\n## Subject\n%s", note.DetectedSubject)
	if note.DetectedUnit != "" {
		fmt.Fprintf(&prompt, " / %s", note.DetectedUnit)
	}
	prompt.WriteString("\n\n## Note\n")
	prompt.WriteString(note.OrganizedContent)

	resp, err := complete(ctx, s.llm, s.cfg.CallTimeout, ports.CompletionRequest{
		System:    tpl.System,
		Prompt:    prompt.String(),
		Model:     model.Model,
		MaxTokens: model.MaxTokens,
		JSON:      true,
	})
	if err != nil {
		return domain.WrapError(domain.ErrProvider, key, err)
	}
	if resp.FinishReason != ports.FinishStop {
		return fmt.Errorf("%s: unusable completion: %s", key, resp.FinishReason)
	}
	return s.decoder.Decode(schema, resp.Text, out)
}

func (s *ExtractionStage) extractWeakConcepts(ctx context.Context, note domain.Note) error {
	var payload weakConceptPayload
	if err := s.ask(ctx, PromptWeakConcepts, ports.SchemaWeakConcepts, note, &payload); err != nil {
		return err
	}

	now := s.now()
	concepts := make([]domain.WeakConcept, 0, len(payload.Concepts))
	for _, c := range payload.Concepts {
		name := strings.TrimSpace(c.Concept)
		if name == "" {
			continue
		}
		concepts = append(concepts, domain.WeakConcept{
			ID:          uuid.NewString(),
			UserID:      note.UserID,
			Subject:     note.DetectedSubject,
			Unit:        note.DetectedUnit,
			Concept:     name,
			ErrorReason: strings.TrimSpace(c.ErrorReason),
			ErrorCount:  1,
			LastNoteID:  note.ID,
			FirstSeenAt: now,
			LastSeenAt:  now,
		})
	}
	if len(concepts) == 0 {
		return nil
	}
	return s.repo.UpsertWeakConcepts(ctx, concepts)
}

func (s *ExtractionStage) extractConceptCards(ctx context.Context, note domain.Note) error {
	var payload conceptCardPayload
	if err := s.ask(ctx, PromptConceptCards, ports.SchemaConceptCards, note, &payload); err != nil {
		return err
	}

	now := s.now()
	cards := make([]domain.ConceptCard, 0, len(payload.Cards))
	for _, c := range payload.Cards {
		title := strings.TrimSpace(c.Title)
		if title == "" {
			continue
		}
		content := c.Content
		if content == nil {
			content = map[string]any{}
		}
		cards = append(cards, domain.ConceptCard{
			ID:             uuid.NewString(),
			NoteID:         note.ID,
			UserID:         note.UserID,
			CardType:       domain.NormalizeCardType(strings.ToLower(strings.TrimSpace(c.CardType))),
			Title:          title,
			Subject:        note.DetectedSubject,
			UnitName:       note.DetectedUnit,
			Content:        content,
			CommonMistakes: c.CommonMistakes,
			EvidenceSpans:  c.EvidenceSpans,
			CreatedAt:      now,
		})
	}
	return s.repo.SaveConceptCards(ctx, note.ID, cards)
}
