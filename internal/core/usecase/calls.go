package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/core/ports"
)

// StageModel is the deployment default for one model call. A prompt
// template that names its own model or token limit overrides it.
type StageModel struct {
	Model     string
	MaxTokens int
}

func (m StageModel) merge(tpl ports.PromptTemplate) StageModel {
	out := m
	if tpl.Model != "" {
		out.Model = tpl.Model
	}
	if tpl.MaxTokens > 0 {
		out.MaxTokens = tpl.MaxTokens
	}
	return out
}

// withCallTimeout bounds a single provider call. A zero timeout disables it.
func withCallTimeout[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return call(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := call(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return res, fmt.Errorf("call timed out after %s: %w", timeout, err)
	}
	return res, err
}

func complete(
	ctx context.Context,
	llm ports.LanguageModel,
	timeout time.Duration,
	req ports.CompletionRequest,
) (ports.Completion, error) {
	return withCallTimeout(ctx, timeout, func(callCtx context.Context) (ports.Completion, error) {
		return llm.Complete(callCtx, req)
	})
}

func resolvePrompt(ctx context.Context, store ports.PromptStore, key string) (ports.PromptTemplate, error) {
	tpl, err := store.Resolve(ctx, key)
	if err != nil {
		return ports.PromptTemplate{}, domain.WrapError(domain.ErrProvider, "resolve prompt "+key, err)
	}
	return tpl, nil
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

type noopObserver struct{}

func (noopObserver) StageFinished(string, string, time.Duration) {}
func (noopObserver) StatusChanged(domain.NoteStatus, domain.NoteStatus) {}
func (noopObserver) ExtractionFailed(string) {}

func observerOrNoop(o ports.PipelineObserver) ports.PipelineObserver {
	if o == nil {
		return noopObserver{}
	}
	return o
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
