// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ToolDefinitions returns the static catalogue of tools offered on every
// completion request, in the canonical OpenAI-style shape. Adapters convert
// it to their provider's native declaration format.
func ToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "get_implementation",
			Description: "Retrieve the full implementation of a function or class from the codebase.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"function_name": map[string]any{
						"type":        "string",
						"description": "Name of the function or class to retrieve (e.g., 'validateEmail' or 'UserService')",
					},
				},
				"required": []any{"function_name"},
			},
		},
	}
}

// FindTool looks up a tool definition by name.
func FindTool(name string) (ToolDefinition, bool) {
	for _, def := range ToolDefinitions() {
		if def.Name == name {
			return def, true
		}
	}
	return ToolDefinition{}, false
}

// ValidateToolArgs checks assembled tool-call arguments against the tool's
// declared parameter schema. Failures are advisory: callers log them and
// forward the call anyway.
func ValidateToolArgs(name string, args map[string]any) error {
	def, ok := FindTool(name)
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool.json", def.Parameters); err != nil {
		return fmt.Errorf("invalid parameter schema for %q: %w", name, err)
	}
	sch, err := c.Compile("tool.json")
	if err != nil {
		return fmt.Errorf("compiling parameter schema for %q: %w", name, err)
	}

	// The schema library expects the generic JSON shape produced by
	// encoding/json, which is what assembled args already are.
	if err := sch.Validate(anyMap(args)); err != nil {
		return fmt.Errorf("arguments for %q do not match schema: %w", name, err)
	}
	return nil
}

func anyMap(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
