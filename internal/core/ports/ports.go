package ports

import (
	"context"

	"github.com/kirillkom/notegen/internal/core/domain"
)

// OCRProvider returns word-level geometry for one image.
type OCRProvider interface {
	ExtractWords(ctx context.Context, image []byte) (domain.OCRPage, error)
}

type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishTruncated FinishReason = "truncated"
	FinishRefused   FinishReason = "refused"
	FinishEmpty     FinishReason = "empty"
)

type CompletionRequest struct {
	System    string
	Prompt    string
	Model     string
	MaxTokens int
	// JSON asks the provider for a single JSON object response.
	JSON bool
}

type Completion struct {
	Text         string
	FinishReason FinishReason
	Model        string
}

// LanguageModel is a chat-completion provider.
type LanguageModel interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

type PromptTemplate struct {
	Key          string `yaml:"-"`
	System       string `yaml:"system"`
	Instructions string `yaml:"instructions"`
	Model        string `yaml:"model"`
	MaxTokens    int    `yaml:"max_tokens"`
}

// PromptStore resolves prompt templates by strategy key.
type PromptStore interface {
	Resolve(ctx context.Context, key string) (PromptTemplate, error)
}

// Response schemas known to StructuredDecoder.
const (
	SchemaClassification = "classification"
	SchemaWeakConcepts   = "weak_concepts"
	SchemaConceptCards   = "concept_cards"
)

// StructuredDecoder extracts a JSON object from a model response, validates
// it against a named schema and unmarshals it into out. Failures are
// domain.ErrParse.
type StructuredDecoder interface {
	Decode(schema string, raw string, out any) error
}
