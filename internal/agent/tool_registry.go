package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/agentrun/pkg/models"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// ToolRegistry holds the immutable-after-registration tool table. Tools are
// registered once at startup; lookups are read-only thereafter.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]models.Tool
	schemas map[string]*jsonschema.Schema
}

// NewToolRegistry creates a new empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]models.Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register compiles the tool's JSON-Schema and adds it to the registry. If a
// tool with the same name already exists, it is replaced. A schema that
// fails to compile is rejected; an object schema that omits
// additionalProperties has additionalProperties=false added before compiling.
func (r *ToolRegistry) Register(tool models.Tool) error {
	schema, err := compileToolSchema(tool.Name, tool.Schema)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
	r.schemas[tool.Name] = schema
	return nil
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name and whether it was found.
func (r *ToolRegistry) Get(name string) (models.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns every registered tool, for passing to an LLM provider as the
// available tool set.
func (r *ToolRegistry) List() []models.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]models.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}

// Validate checks arguments against the tool's compiled schema. Unknown keys
// are a hard error because every tool schema is compiled with
// additionalProperties=false enforced by compileToolSchema.
func (r *ToolRegistry) Validate(name string, arguments json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("tool not found: %s", name)
	}

	var v any
	if len(arguments) == 0 {
		v = map[string]any{}
	} else if err := json.Unmarshal(arguments, &v); err != nil {
		return fmt.Errorf("invalid_arguments: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("invalid_arguments: %w", err)
	}
	return nil
}

// Execute runs a tool by name with already-validated JSON parameters.
func (r *ToolRegistry) Execute(ctx context.Context, name string, arguments json.RawMessage) (*models.ToolExecResult, error) {
	if len(name) > MaxToolNameLength {
		return nil, fmt.Errorf("tool name exceeds maximum length of %d characters", MaxToolNameLength)
	}
	if len(arguments) > MaxToolParamsSize {
		return nil, fmt.Errorf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize)
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrToolNotFound
	}
	return tool.Execute(ctx, arguments)
}

func compileToolSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object","additionalProperties":false}`)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tool %s: schema is not valid JSON: %w", name, err)
	}
	if doc["type"] == "object" {
		if _, set := doc["additionalProperties"]; !set {
			doc["additionalProperties"] = false
		}
	}

	compiler := jsonschema.NewCompiler()
	resourceName := "tool:" + name
	if err := compiler.AddResource(resourceName, mapToReader(doc)); err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return schema, nil
}

func mapToReader(doc map[string]any) io.Reader {
	b, err := json.Marshal(doc)
	if err != nil {
		// doc was itself decoded from JSON, so re-encoding cannot fail.
		panic(err)
	}
	return bytes.NewReader(b)
}
