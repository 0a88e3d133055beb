// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package library

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the library document schema.
const SchemaID = "https://blockhost.dev/schemas/library.schema.json"

var (
	schemaOnce  sync.Once
	schemaCache *jschema.Schema
	schemaErr   error
)

// GenerateSchema generates a JSON Schema from the Document struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Document{})

	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Blockhost Extension Library"
	schema.Description = "Schema for extension library documents"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// ValidateSchema validates YAML data against the library JSON Schema.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("library data is empty")
	}

	var yamlData any
	if err := yaml.Unmarshal(data, &yamlData); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	if err := sch.Validate(toJSONTypes(yamlData)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func compiledSchema() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := GenerateSchema()
		if err != nil {
			schemaErr = err
			return
		}
		doc, err := jschema.UnmarshalJSON(strings.NewReader(string(raw)))
		if err != nil {
			schemaErr = fmt.Errorf("failed to parse schema JSON: %w", err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource("library.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		schemaCache, schemaErr = c.Compile("library.schema.json")
	})
	return schemaCache, schemaErr
}

// toJSONTypes converts YAML-decoded values into the types the validator
// expects. Integers become float64 the way encoding/json would decode them.
func toJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toJSONTypes(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toJSONTypes(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	default:
		return val
	}
}

// FormatSchemaError formats a schema validation error for display.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(err.Error(), "schema validation failed: ")
}
