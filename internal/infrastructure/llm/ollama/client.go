package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/notegen/internal/core/ports"
	"github.com/kirillkom/notegen/internal/infrastructure/resilience"
)

// Client implements ports.LanguageModel on the Ollama chat API.
type Client struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
	executor     *resilience.Executor
}

type Options struct {
	HTTPClient         *http.Client
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, defaultModel string) *Client {
	return NewWithOptions(baseURL, defaultModel, Options{})
}

func NewWithOptions(baseURL, defaultModel string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 180 * time.Second}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		httpClient:   httpClient,
		executor:     opts.ResilienceExecutor,
	}
}

type chatResponse struct {
	Model      string      `json:"model"`
	Message    chatMessage `json:"message"`
	Done       bool        `json:"done"`
	DoneReason string      `json:"done_reason"`
}

func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	body := buildChatRequest(model, req)

	resp, err := resilience.Do(ctx, c.executor, "ollama.chat", func(callCtx context.Context) (chatResponse, error) {
		var out chatResponse
		err := c.postJSON(callCtx, "/api/chat", body, &out, "chat")
		return out, err
	}, classifyOllamaError)
	if err != nil {
		return ports.Completion{}, resilience.WrapTemporary("ollama chat", err, classifyOllamaError)
	}

	text := strings.TrimSpace(resp.Message.Content)
	return ports.Completion{
		Text:         text,
		FinishReason: finishReason(resp.DoneReason, text),
		Model:        resp.Model,
	}, nil
}

func finishReason(doneReason, text string) ports.FinishReason {
	switch {
	case doneReason == "length":
		return ports.FinishTruncated
	case text == "":
		return ports.FinishEmpty
	default:
		return ports.FinishStop
	}
}
