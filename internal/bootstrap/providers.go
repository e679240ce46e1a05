package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/notegen/internal/config"
	"github.com/kirillkom/notegen/internal/core/ports"
	"github.com/kirillkom/notegen/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/notegen/internal/infrastructure/llm/openai"
	"github.com/kirillkom/notegen/internal/infrastructure/lock/memory"
	"github.com/kirillkom/notegen/internal/infrastructure/lock/redislock"
	"github.com/kirillkom/notegen/internal/infrastructure/ocr/googlevision"
	"github.com/kirillkom/notegen/internal/infrastructure/ocr/tesseract"
	"github.com/kirillkom/notegen/internal/infrastructure/resilience"
)

// Each dependency gets its own executor so one open breaker does not
// block the others.
func newExecutor(cfg config.Config, profile resilience.Profile, logger *slog.Logger, opts ...resilience.Option) *resilience.Executor {
	rc := resilience.ConfigFor(profile)
	if cfg.ResilienceRetryAttempts > 0 {
		rc.RetryMaxAttempts = cfg.ResilienceRetryAttempts
	}
	rc.BreakerEnabled = cfg.ResilienceBreakerEnabled
	return resilience.NewExecutorWithLogger(rc, logger, opts...)
}

// NewLocker returns a Redis-backed locker when REDIS_URL is set and an
// in-process one otherwise.
func NewLocker(ctx context.Context, cfg config.Config) (ports.NoteLocker, func(), error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return memory.New(), func() {}, nil
	}
	client, err := redislock.Open(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return redislock.New(client), func() { _ = client.Close() }, nil
}

func NewOCRProvider(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...resilience.Option) (ports.OCRProvider, func(), error) {
	switch cfg.OCRProvider {
	case "google", "vision", "":
		p, err := googlevision.New(ctx, googlevision.Options{
			CredentialsJSON:    cfg.GoogleCredentialsJSON,
			CredentialsFile:    cfg.GoogleCredentialsFile,
			LanguageHints:      visionLanguageHints(cfg.OCRLanguages),
			ResilienceExecutor: newExecutor(cfg, resilience.ProfileOCR, logger, opts...),
		})
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	case "tesseract":
		p := tesseract.New(tesseract.Options{
			Languages:     cfg.OCRLanguages,
			MaxConcurrent: int64(cfg.OCRMaxConcurrent),
		})
		return p, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown ocr provider %q", cfg.OCRProvider)
	}
}

func NewLanguageModel(cfg config.Config, logger *slog.Logger, opts ...resilience.Option) (ports.LanguageModel, error) {
	switch cfg.LLMProvider {
	case "ollama", "":
		return ollama.NewWithOptions(cfg.OllamaURL, cfg.GenerateModel, ollama.Options{
			ResilienceExecutor: newExecutor(cfg, resilience.ProfileLLM, logger, opts...),
		}), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		return openai.New(cfg.OpenAIAPIKey, cfg.GenerateModel, openai.Options{
			BaseURL:            cfg.OpenAIBaseURL,
			ResilienceExecutor: newExecutor(cfg, resilience.ProfileLLM, logger, opts...),
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}

var tesseractToBCP47 = map[string]string{
	"kor":     "ko",
	"eng":     "en",
	"jpn":     "ja",
	"chi_sim": "zh",
}

// visionLanguageHints accepts Tesseract codes so one OCR_LANGUAGES value
// serves both providers.
func visionLanguageHints(languages []string) []string {
	out := make([]string, 0, len(languages))
	for _, lang := range languages {
		lang = strings.TrimSpace(lang)
		if lang == "" {
			continue
		}
		if code, ok := tesseractToBCP47[lang]; ok {
			lang = code
		}
		out = append(out, lang)
	}
	return out
}
