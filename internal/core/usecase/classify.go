package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/core/layout"
	"github.com/kirillkom/notegen/internal/core/ports"
)

const (
	PromptRefine   = "refine"
	PromptClassify = "classify"
)

type ClassificationConfig struct {
	Refine      StageModel
	Classify    StageModel
	CallTimeout time.Duration
}

// ClassificationStage cleans OCR text and detects subject, note type and
// unit. A malformed classifier response degrades to defaults instead of
// failing the pipeline.
type ClassificationStage struct {
	llm     ports.LanguageModel
	prompts ports.PromptStore
	decoder ports.StructuredDecoder
	cfg     ClassificationConfig
	logger  *slog.Logger
}

func NewClassificationStage(
	llm ports.LanguageModel,
	prompts ports.PromptStore,
	decoder ports.StructuredDecoder,
	cfg ClassificationConfig,
	logger *slog.Logger,
) *ClassificationStage {
	return &ClassificationStage{
		llm:     llm,
		prompts: prompts,
		decoder: decoder,
		cfg:     cfg,
		logger:  loggerOrDefault(logger),
	}
}

type classificationPayload struct {
	Subject   string          `json:"subject"`
	NoteType  string          `json:"note_type"`
	Unit      string          `json:"unit"`
	Structure json.RawMessage `json:"structure"`
}

// structureText accepts a plain string or any JSON value for the structure
// field and renders it as text for the generation prompt.
func structureText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return strings.TrimSpace(text)
	}
	return string(trimmed)
}

func (s *ClassificationStage) Classify(ctx context.Context, rawText string, blocks []domain.Block) (domain.Classification, error) {
	refined, err := s.refine(ctx, rawText)
	if err != nil {
		return domain.Classification{}, err
	}

	tpl, err := resolvePrompt(ctx, s.prompts, PromptClassify)
	if err != nil {
		return domain.Classification{}, err
	}
	model := s.cfg.Classify.merge(tpl)

	var prompt strings.Builder
	prompt.WriteString(tpl.Instructions)
	prompt.WriteString("\n\n## Text\n")
	prompt.WriteString(refined)
	if len(blocks) > 0 {
		prompt.WriteString("\n\n## Layout blocks (id [x,y,w,h] text, 0-1000 coordinates)\n")
		prompt.WriteString(layout.FormatBlocks(blocks))
	}

	resp, err := complete(ctx, s.llm, s.cfg.CallTimeout, ports.CompletionRequest{
		System:    tpl.System,
		Prompt:    prompt.String(),
		Model:     model.Model,
		MaxTokens: model.MaxTokens,
		JSON:      true,
	})
	if err != nil {
		return domain.Classification{}, domain.WrapError(domain.ErrProvider, "classify note", err)
	}
	if resp.FinishReason != ports.FinishStop {
		s.logger.Warn("classification_fallback",
			slog.String("reason", string(resp.FinishReason)),
		)
		return domain.DefaultClassification(refined, resp.Text), nil
	}

	var payload classificationPayload
	if err := s.decoder.Decode(ports.SchemaClassification, resp.Text, &payload); err != nil {
		s.logger.Warn("classification_fallback",
			slog.String("reason", "parse"),
			slog.String("error", err.Error()),
		)
		return domain.DefaultClassification(refined, resp.Text), nil
	}

	return domain.Classification{
		RefinedText: refined,
		Subject:     domain.NormalizeSubject(strings.ToLower(strings.TrimSpace(payload.Subject))),
		NoteType:    domain.NormalizeNoteType(strings.ToLower(strings.TrimSpace(payload.NoteType))),
		Unit:        strings.TrimSpace(payload.Unit),
		Structure:   structureText(payload.Structure),
		Source:      domain.SourceParsed,
	}, nil
}

// refine falls back to the raw text when the model returns nothing usable.
// Provider errors are fatal.
func (s *ClassificationStage) refine(ctx context.Context, rawText string) (string, error) {
	tpl, err := resolvePrompt(ctx, s.prompts, PromptRefine)
	if err != nil {
		return "", err
	}
	model := s.cfg.Refine.merge(tpl)

	resp, err := complete(ctx, s.llm, s.cfg.CallTimeout, ports.CompletionRequest{
		System:    tpl.System,
		Prompt:    tpl.Instructions + "\n\n" + rawText,
		Model:     model.Model,
		MaxTokens: model.MaxTokens,
	})
	if err != nil {
		return "", domain.WrapError(domain.ErrProvider, "refine ocr text", err)
	}

	refined := strings.TrimSpace(resp.Text)
	if resp.FinishReason != ports.FinishStop || refined == "" {
		s.logger.Warn("refine_fallback_raw_text",
			slog.String("finish_reason", string(resp.FinishReason)),
			slog.Int("raw_len", len(rawText)),
		)
		return rawText, nil
	}
	return refined, nil
}
