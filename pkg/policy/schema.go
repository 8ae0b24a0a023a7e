package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolSchemas validates an MCP tool call's or plugin invocation's argument
// payload against a per-tool JSON Schema before the rest of the pipeline
// runs, the same "reject malformed input at the boundary before it can do
// anything" idea the donor applies to its own request shapes. Registration
// is opt-in per tool name: a tool with no registered schema is not
// validated at all.
type ToolSchemas struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewToolSchemas creates an empty registry.
func NewToolSchemas() *ToolSchemas {
	return &ToolSchemas{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles schemaJSON (a JSON Schema document) and associates it
// with tool, replacing any schema previously registered under that name.
func (t *ToolSchemas) Register(tool, schemaJSON string) error {
	compiler := jsonschema.NewCompiler()
	resourceName := tool + ".schema.json"
	if err := compiler.AddResource(resourceName, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("policy: add schema for tool %q: %w", tool, err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("policy: compile schema for tool %q: %w", tool, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.schemas[tool] = schema
	return nil
}

// Validate checks args against tool's registered schema. A nil error with
// no registered schema means "not validated", not "passed validation" --
// callers that need to require a schema should check Registered first.
func (t *ToolSchemas) Validate(tool string, args map[string]any) error {
	t.mu.RLock()
	schema, ok := t.schemas[tool]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	return schema.ValidateInterface(args)
}

// Registered reports whether tool has a schema registered.
func (t *ToolSchemas) Registered(tool string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.schemas[tool]
	return ok
}
