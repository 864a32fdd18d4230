package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ToolHandler executes one function call requested by the speech model.
// The returned value is serialized as the function output.
type ToolHandler func(ctx context.Context, args json.RawMessage) (any, error)

// ToolSchema describes a tool to the model and to the control surface.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Registry maps tool names to handlers. Tool failures never propagate as
// errors: the model receives a structured error payload and the
// conversation continues.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]ToolHandler
	schemas  map[string]ToolSchema
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]ToolHandler),
		schemas:  make(map[string]ToolSchema),
	}
}

// DefaultRegistry returns a registry with the built-in tools.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterTool(ToolSchema{
		Name:        "get_current_time",
		Description: "Returns the current date and time in UTC.",
	}, func(ctx context.Context, _ json.RawMessage) (any, error) {
		now := time.Now().UTC()
		return map[string]any{
			"now":      now.Format(time.RFC3339),
			"timezone": "UTC",
		}, nil
	})
	r.RegisterTool(ToolSchema{
		Name:        "record_call_note",
		Description: "Records a short note about the call for later review.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"note":{"type":"string"}},"required":["note"]}`),
	}, func(ctx context.Context, args json.RawMessage) (any, error) {
		var in struct {
			Note string `json:"note"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		if in.Note == "" {
			return nil, fmt.Errorf("note is required")
		}
		// The note reaches operators through the transcript; the model
		// only needs an acknowledgement.
		return map[string]any{"saved": true}, nil
	})
	return r
}

// Register adds a handler with a bare name-only schema.
func (r *Registry) Register(name string, h ToolHandler) {
	r.RegisterTool(ToolSchema{Name: name}, h)
}

// RegisterTool adds a handler together with its schema.
func (r *Registry) RegisterTool(schema ToolSchema, h ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[schema.Name] = h
	r.schemas[schema.Name] = schema
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Schemas returns the registered tool schemas, sorted by name.
func (r *Registry) Schemas() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs the named tool and always returns a JSON string suitable for
// a function_call_output item. Unknown tools, malformed arguments and
// handler failures all produce an {"error": ...} payload.
func (r *Registry) Invoke(ctx context.Context, name, rawArgs string) string {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return errorPayload(fmt.Sprintf("unknown tool %q", name))
	}

	args := json.RawMessage("{}")
	if rawArgs != "" {
		if !json.Valid([]byte(rawArgs)) {
			return errorPayload(fmt.Sprintf("invalid arguments for tool %q", name))
		}
		args = json.RawMessage(rawArgs)
	}

	out, err := h(ctx, args)
	if err != nil {
		return errorPayload(err.Error())
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return errorPayload(fmt.Sprintf("tool %q produced unserializable output", name))
	}
	return string(raw)
}

func errorPayload(msg string) string {
	raw, _ := json.Marshal(map[string]string{"error": msg})
	return string(raw)
}
