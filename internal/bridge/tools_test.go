package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestRegistryInvoke(t *testing.T) {
	r := NewRegistry()
	r.Register("echo", func(_ context.Context, args json.RawMessage) (any, error) {
		var m map[string]any
		if err := json.Unmarshal(args, &m); err != nil {
			return nil, err
		}
		return m, nil
	})
	r.Register("broken", func(_ context.Context, _ json.RawMessage) (any, error) {
		return nil, errors.New("upstream unavailable")
	})

	tests := []struct {
		name string
		tool string
		args string
		want string
	}{
		{"success", "echo", `{"k":"v"}`, `{"k":"v"}`},
		{"empty args default to object", "echo", "", `{}`},
		{"unknown tool", "missing", `{}`, `unknown tool`},
		{"invalid arguments", "echo", `{not json`, `invalid arguments`},
		{"handler error", "broken", `{}`, `upstream unavailable`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Invoke(context.Background(), tc.tool, tc.args)
			if !json.Valid([]byte(got)) {
				t.Fatalf("output is not valid JSON: %s", got)
			}
			if !strings.Contains(got, tc.want) {
				t.Fatalf("Invoke(%s) = %s, want containing %q", tc.tool, got, tc.want)
			}
		})
	}
}

func TestDefaultRegistryHasTimeTool(t *testing.T) {
	r := DefaultRegistry()
	out := r.Invoke(context.Background(), "get_current_time", "")
	if strings.Contains(out, "error") {
		t.Fatalf("get_current_time failed: %s", out)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["timezone"] != "UTC" {
		t.Fatalf("timezone = %v", m["timezone"])
	}
}

func TestDefaultRegistryRecordsCallNote(t *testing.T) {
	r := DefaultRegistry()

	out := r.Invoke(context.Background(), "record_call_note", `{"note":"callback requested"}`)
	if !strings.Contains(out, `"saved":true`) {
		t.Fatalf("record_call_note = %s, want saved ack", out)
	}

	out = r.Invoke(context.Background(), "record_call_note", `{}`)
	if !strings.Contains(out, "note is required") {
		t.Fatalf("empty note = %s, want error payload", out)
	}
}

func TestRegistrySchemas(t *testing.T) {
	r := NewRegistry()
	r.RegisterTool(ToolSchema{Name: "b_tool", Description: "second"}, func(context.Context, json.RawMessage) (any, error) { return nil, nil })
	r.Register("a_tool", func(context.Context, json.RawMessage) (any, error) { return nil, nil })

	schemas := r.Schemas()
	if len(schemas) != 2 {
		t.Fatalf("len(schemas) = %d", len(schemas))
	}
	if schemas[0].Name != "a_tool" || schemas[1].Name != "b_tool" {
		t.Fatalf("schemas not sorted by name: %v", schemas)
	}
	if schemas[1].Description != "second" {
		t.Fatalf("description lost: %+v", schemas[1])
	}
}

func TestMergeSessionConfig(t *testing.T) {
	base := defaultSessionConfig()
	merged := mergeSessionConfig(base,
		map[string]any{"voice": "verse", "instructions": "greet"},
		map[string]any{"voice": "alloy", "temperature": 0.7},
	)

	if merged["voice"] != "alloy" {
		t.Fatalf("voice = %v, want later override to win", merged["voice"])
	}
	if merged["instructions"] != "greet" {
		t.Fatalf("instructions = %v", merged["instructions"])
	}
	if merged["temperature"] != 0.7 {
		t.Fatalf("temperature = %v", merged["temperature"])
	}
	if merged["input_audio_format"] != "g711_ulaw" {
		t.Fatalf("base key lost: %v", merged["input_audio_format"])
	}
	if base["voice"] != "ash" {
		t.Fatalf("merge mutated base: %v", base["voice"])
	}
}
