package openai

import (
	"context"
	"errors"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/notegen/internal/core/ports"
	"github.com/kirillkom/notegen/internal/infrastructure/resilience"
)

// Client implements ports.LanguageModel on an OpenAI-compatible chat
// completions endpoint.
type Client struct {
	api          *goopenai.Client
	defaultModel string
	executor     *resilience.Executor
}

type Options struct {
	// BaseURL overrides the API root, e.g. for a compatible gateway.
	BaseURL            string
	ResilienceExecutor *resilience.Executor
}

func New(apiKey, defaultModel string, opts Options) *Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		cfg.BaseURL = strings.TrimRight(base, "/")
	}
	return &Client{
		api:          goopenai.NewClientWithConfig(cfg),
		defaultModel: defaultModel,
		executor:     opts.ResilienceExecutor,
	}
}

func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := goopenai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.JSON {
		chatReq.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := resilience.Do(ctx, c.executor, "openai.chat", func(callCtx context.Context) (goopenai.ChatCompletionResponse, error) {
		return c.api.CreateChatCompletion(callCtx, chatReq)
	}, classifyOpenAIError)
	if err != nil {
		return ports.Completion{}, resilience.WrapTemporary("openai chat", err, classifyOpenAIError)
	}
	if len(resp.Choices) == 0 {
		return ports.Completion{FinishReason: ports.FinishEmpty, Model: resp.Model}, nil
	}

	choice := resp.Choices[0]
	text := strings.TrimSpace(choice.Message.Content)
	return ports.Completion{
		Text:         text,
		FinishReason: finishReason(choice.FinishReason, text, choice.Message.Refusal),
		Model:        resp.Model,
	}, nil
}

func finishReason(reason goopenai.FinishReason, text, refusal string) ports.FinishReason {
	switch {
	case reason == goopenai.FinishReasonLength:
		return ports.FinishTruncated
	case reason == goopenai.FinishReasonContentFilter, refusal != "":
		return ports.FinishRefused
	case text == "":
		return ports.FinishEmpty
	default:
		return ports.FinishStop
	}
}

var classifyOpenAIError = resilience.WithOpenCircuit(classifyAPIError)

func classifyAPIError(err error) resilience.ErrorClassification {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return resilience.ClassifyTransportError(statusError{err: err, code: apiErr.HTTPStatusCode})
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return resilience.ClassifyTransportError(statusError{err: err, code: reqErr.HTTPStatusCode})
	}
	return resilience.ClassifyTransportError(err)
}

type statusError struct {
	err  error
	code int
}

func (e statusError) Error() string   { return e.err.Error() }
func (e statusError) Unwrap() error   { return e.err }
func (e statusError) HTTPStatus() int { return e.code }
