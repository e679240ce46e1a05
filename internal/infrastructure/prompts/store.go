// Package prompts serves prompt templates from a YAML file.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/notegen/internal/core/ports"
)

var ErrPromptNotFound = errors.New("prompt template not found")

type file struct {
	Prompts map[string]ports.PromptTemplate `yaml:"prompts"`
}

// FileStore reads the template file on every Resolve. Wrap it in a
// CachedStore for production use.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Resolve(_ context.Context, key string) (ports.PromptTemplate, error) {
	templates, err := s.Load()
	if err != nil {
		return ports.PromptTemplate{}, err
	}
	tpl, ok := templates[key]
	if !ok {
		return ports.PromptTemplate{}, fmt.Errorf("%w: %s", ErrPromptNotFound, key)
	}
	return tpl, nil
}

// Load parses the whole file and returns templates keyed by strategy key.
func (s *FileStore) Load() (map[string]ports.PromptTemplate, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (map[string]ports.PromptTemplate, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse prompts file: %w", err)
	}

	out := make(map[string]ports.PromptTemplate, len(f.Prompts))
	for key, tpl := range f.Prompts {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, errors.New("parse prompts file: empty template key")
		}
		if strings.TrimSpace(tpl.System) == "" && strings.TrimSpace(tpl.Instructions) == "" {
			return nil, fmt.Errorf("parse prompts file: template %q has no system or instructions", key)
		}
		if tpl.MaxTokens < 0 {
			return nil, fmt.Errorf("parse prompts file: template %q has negative max_tokens", key)
		}
		tpl.Key = key
		tpl.System = strings.TrimSpace(tpl.System)
		tpl.Instructions = strings.TrimSpace(tpl.Instructions)
		out[key] = tpl
	}
	return out, nil
}
