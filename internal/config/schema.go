package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/invopop/jsonschema"
	schemacompiler "github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// JSONSchema returns the JSON Schema for the Config struct.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag: "yaml",
		}
		schema := r.Reflect(&Config{})
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}

// ValidateRaw checks a raw (already $include-merged) config document
// against the reflected Config schema, the same way
// internal/agent/tool_registry.go validates tool call arguments against a
// tool's input schema. This catches typos and wrong-shaped values (a
// string where an object is expected, an unknown top-level key) before
// Load gets as far as the field-level validateConfig checks, which only
// run after yaml has already decoded the document into a *Config.
func ValidateRaw(raw map[string]any) error {
	schemaDoc, err := JSONSchema()
	if err != nil {
		return fmt.Errorf("build config schema: %w", err)
	}

	compiler := schemacompiler.NewCompiler()
	const resourceName = "config-schema"
	if err := compiler.AddResource(resourceName, bytesReader(schemaDoc)); err != nil {
		return fmt.Errorf("load config schema: %w", err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config document: %w", err)
	}
	var instance any
	if err := json.Unmarshal(payload, &instance); err != nil {
		return fmt.Errorf("decode config document: %w", err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("config schema validation: %w", err)
	}
	return nil
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
