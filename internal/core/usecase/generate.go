package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/core/layout"
	"github.com/kirillkom/notegen/internal/core/ports"
)

// StrategyKey names a content generation prompt template.
type StrategyKey string

const (
	StrategyBasicSummary       StrategyKey = "basic_summary"
	StrategyCornell            StrategyKey = "cornell"
	StrategyErrorReviewMath    StrategyKey = "error_review.math"
	StrategyErrorReviewGeneral StrategyKey = "error_review.general"
	StrategyVocabList          StrategyKey = "vocab_list"
)

func summaryStrategy(subject domain.Subject) StrategyKey {
	if subject == domain.SubjectOther || subject == "" {
		return StrategyBasicSummary
	}
	return StrategyKey("summary." + string(subject))
}

func errorReviewStrategy(subject domain.Subject) StrategyKey {
	if subject == domain.SubjectMath {
		return StrategyErrorReviewMath
	}
	return StrategyErrorReviewGeneral
}

// SelectStrategy picks the generation template. An explicit method wins over
// the detected note type; auto follows the detected type and subject.
func SelectStrategy(method domain.OrganizeMethod, subject domain.Subject, noteType domain.NoteType) StrategyKey {
	switch method {
	case domain.MethodBasicSummary:
		return StrategyBasicSummary
	case domain.MethodCornell:
		return StrategyCornell
	case domain.MethodErrorNote:
		return errorReviewStrategy(subject)
	case domain.MethodVocab:
		return StrategyVocabList
	}

	switch noteType {
	case domain.NoteTypeErrorNote:
		return errorReviewStrategy(subject)
	case domain.NoteTypeVocab:
		return StrategyVocabList
	default:
		return summaryStrategy(subject)
	}
}

type GenerateInput struct {
	RefinedText string
	Blocks      []domain.Block
	Structure   string
	Method      domain.OrganizeMethod
	Subject     domain.Subject
	NoteType    domain.NoteType
	Unit        string
}

type GenerationConfig struct {
	Generate    StageModel
	CallTimeout time.Duration
}

// GenerationStage produces the organized note. Truncated, empty or refused
// completions are failures: partial content is never returned.
type GenerationStage struct {
	llm     ports.LanguageModel
	prompts ports.PromptStore
	cfg     GenerationConfig
	logger  *slog.Logger
}

func NewGenerationStage(
	llm ports.LanguageModel,
	prompts ports.PromptStore,
	cfg GenerationConfig,
	logger *slog.Logger,
) *GenerationStage {
	return &GenerationStage{
		llm:     llm,
		prompts: prompts,
		cfg:     cfg,
		logger:  loggerOrDefault(logger),
	}
}

func (s *GenerationStage) Generate(ctx context.Context, in GenerateInput) (string, error) {
	key := SelectStrategy(in.Method, in.Subject, in.NoteType)
	tpl, err := resolvePrompt(ctx, s.prompts, string(key))
	if err != nil {
		return "", err
	}
	model := s.cfg.Generate.merge(tpl)

	resp, err := complete(ctx, s.llm, s.cfg.CallTimeout, ports.CompletionRequest{
		System:    tpl.System,
		Prompt:    buildGenerationPrompt(tpl.Instructions, in),
		Model:     model.Model,
		MaxTokens: model.MaxTokens,
	})
	if err != nil {
		return "", domain.WrapError(domain.ErrProvider, "generate content", err)
	}

	content := strings.TrimSpace(resp.Text)
	switch {
	case resp.FinishReason == ports.FinishTruncated:
		s.logger.Warn("generation_truncated",
			slog.String("strategy", string(key)),
			slog.Int("max_tokens", model.MaxTokens),
			slog.Int("partial_len", len(content)),
		)
		return "", domain.WrapError(domain.ErrTruncated, "generate content",
			errors.New("completion reached the token limit"))
	case resp.FinishReason == ports.FinishRefused:
		return "", domain.WrapError(domain.ErrEmptyResult, "generate content",
			errors.New("completion refused by provider"))
	case content == "" || resp.FinishReason == ports.FinishEmpty:
		return "", domain.WrapError(domain.ErrEmptyResult, "generate content",
			errors.New("empty completion"))
	}

	s.logger.Info("generation_completed",
		slog.String("strategy", string(key)),
		slog.Int("content_len", len(content)),
	)
	return content, nil
}

func buildGenerationPrompt(instructions string, in GenerateInput) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n## Subject\n")
	b.WriteString(string(in.Subject))
	if in.Unit != "" {
		b.WriteString(" / ")
		b.WriteString(in.Unit)
	}
	if in.Structure != "" {
		b.WriteString("\n\n## Structure\n")
		b.WriteString(in.Structure)
	}
	b.WriteString("\n\n## Text\n")
	b.WriteString(in.RefinedText)
	if len(in.Blocks) > 0 {
		b.WriteString("\n\n## Layout blocks (id [x,y,w,h] text, 0-1000 coordinates)\n")
		b.WriteString(layout.FormatBlocks(in.Blocks))
	}
	return b.String()
}
