// Package mcp executes the GitHub tools the voice model calls.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// Handler executes one tool. A returned error is unexpected (transport
// failure, exhausted retries) and is turned into a Failure by the Registry.
type Handler interface {
	Name() string
	Description() string
	Schema() *jsonschema.Schema
	Execute(ctx context.Context, arguments string, tc *ToolContext) (Result, error)
}

// tool binds a typed argument struct to its schema and run function.
type tool[A any] struct {
	name        string
	description string
	schema      *jsonschema.Schema
	resolved    *jsonschema.Resolved
	run         func(ctx context.Context, args A, raw string, tc *ToolContext) (Result, error)
}

func newTool[A any](name, description string, run func(ctx context.Context, args A, raw string, tc *ToolContext) (Result, error)) (*tool[A], error) {
	schema, err := jsonschema.For[A](nil)
	if err != nil {
		return nil, fmt.Errorf("inferring schema for %s: %w", name, err)
	}
	schema.Description = description
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving schema for %s: %w", name, err)
	}
	return &tool[A]{
		name:        name,
		description: description,
		schema:      schema,
		resolved:    resolved,
		run:         run,
	}, nil
}

func (t *tool[A]) Name() string               { return t.name }
func (t *tool[A]) Description() string        { return t.description }
func (t *tool[A]) Schema() *jsonschema.Schema { return t.schema }

func (t *tool[A]) Execute(ctx context.Context, arguments string, tc *ToolContext) (Result, error) {
	args, err := decodeArgs[A](arguments, t.resolved)
	if err != nil {
		return Failuref("Invalid arguments for %s: %v", t.name, err), nil
	}
	return t.run(ctx, args, arguments, tc)
}

// decodeArgs parses model-issued arguments. Malformed JSON gets one repair
// attempt; the result must then satisfy the schema.
func decodeArgs[A any](raw string, resolved *jsonschema.Resolved) (A, error) {
	var args A
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	data := []byte(raw)
	instance := map[string]any{}
	if err := sonic.Unmarshal(data, &instance); err != nil {
		fixed, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return args, fmt.Errorf("malformed JSON: %w", err)
		}
		data = []byte(fixed)
		instance = map[string]any{}
		if err := sonic.Unmarshal(data, &instance); err != nil {
			return args, fmt.Errorf("malformed JSON: %w", err)
		}
	}
	if resolved != nil {
		if err := resolved.Validate(instance); err != nil {
			return args, err
		}
	}
	if err := sonic.Unmarshal(data, &args); err != nil {
		return args, fmt.Errorf("decoding arguments: %w", err)
	}
	return args, nil
}

// blank returns the name of the first empty field, or "".
func blank(fields ...[2]string) string {
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			return f[0]
		}
	}
	return ""
}

// schemaMap renders a schema as a plain JSON object for tool declarations.
func schemaMap(s *jsonschema.Schema) (map[string]any, error) {
	data, err := sonic.Marshal(s)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
