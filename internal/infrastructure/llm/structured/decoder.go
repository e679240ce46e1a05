// Package structured decodes JSON answers from language models and checks
// them against the response schemas the pipeline relies on.
package structured

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/core/ports"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var knownSchemas = []string{
	ports.SchemaClassification,
	ports.SchemaWeakConcepts,
	ports.SchemaConceptCards,
}

// Decoder implements ports.StructuredDecoder. Schemas are compiled once.
type Decoder struct {
	schemas map[string]*jsonschema.Schema
}

func NewDecoder() (*Decoder, error) {
	compiler := jsonschema.NewCompiler()
	for _, name := range knownSchemas {
		raw, err := schemaFS.ReadFile(path.Join("schemas", name+".json"))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name+".json", bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}

	schemas := make(map[string]*jsonschema.Schema, len(knownSchemas))
	for _, name := range knownSchemas {
		schema, err := compiler.Compile(name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		schemas[name] = schema
	}
	return &Decoder{schemas: schemas}, nil
}

func (d *Decoder) Decode(schemaName string, raw string, out any) error {
	schema, ok := d.schemas[schemaName]
	if !ok {
		return fmt.Errorf("unknown response schema %q", schemaName)
	}

	obj, err := ExtractJSONObject(raw)
	if err != nil {
		return domain.WrapError(domain.ErrParse, "decode "+schemaName, err)
	}

	var doc any
	if err := json.Unmarshal([]byte(obj), &doc); err != nil {
		return domain.WrapError(domain.ErrParse, "decode "+schemaName, err)
	}
	if err := schema.Validate(doc); err != nil {
		return domain.WrapError(domain.ErrParse, "decode "+schemaName, fmt.Errorf("json does not match schema: %w", err))
	}
	if err := json.Unmarshal([]byte(obj), out); err != nil {
		return domain.WrapError(domain.ErrParse, "decode "+schemaName, err)
	}
	return nil
}

// ExtractJSONObject returns the outermost {...} span of a response, which
// tolerates markdown fences and chatter around the object.
func ExtractJSONObject(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", errors.New("response contains no json object")
	}
	return raw[start : end+1], nil
}
