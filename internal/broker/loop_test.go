// SPDX-License-Identifier: AGPL-3.0-only
package broker

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/TenzinPlatter/nvim-llm-request/internal/protocol"
)

func decodeLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			t.Fatalf("Output line is not valid JSON: %q: %v", line, err)
		}
		events = append(events, obj)
	}
	return events
}

func TestRun_CompleteRoundTrip(t *testing.T) {
	fake := &fakeProvider{scripts: [][]protocol.Event{
		{protocol.NewCompletion("return 1"), protocol.NewDone()},
	}}
	b := newTestBroker(t, fake)

	in := strings.NewReader(`{"type":"complete","request_id":"req-1","context":"def f():","config":{"provider":"openai","api_key":"k"}}` + "\n")
	var out strings.Builder
	if err := b.Run(context.Background(), in, &out); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := decodeLines(t, out.String())
	if len(events) != 2 {
		t.Fatalf("Expected 2 output lines, got %d: %v", len(events), events)
	}
	if events[0]["type"] != "completion" || events[0]["content"] != "return 1" {
		t.Errorf("Unexpected first line: %v", events[0])
	}
	if events[1]["type"] != "done" {
		t.Errorf("Unexpected second line: %v", events[1])
	}
}

func TestRun_ToolHandshakeRoundTrip(t *testing.T) {
	fake := &fakeProvider{scripts: [][]protocol.Event{
		{
			protocol.NewToolCall("t1", "get_implementation", map[string]any{"function_name": "foo"}),
			protocol.NewDone(),
		},
		{
			protocol.NewCompletion("def foo(): return 1"),
			protocol.NewDone(),
		},
	}}
	b := newTestBroker(t, fake)

	input := `{"type":"complete","request_id":"req-1","context":"ctx","config":{"provider":"openai","api_key":"k"}}` + "\n" +
		`{"type":"tool_response","request_id":"req-1","tool_call_id":"t1","content":"def foo(): pass"}` + "\n"
	var out strings.Builder
	if err := b.Run(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := decodeLines(t, out.String())
	if len(events) != 4 {
		t.Fatalf("Expected 4 output lines, got %d: %v", len(events), events)
	}
	if events[0]["type"] != "tool_call" || events[0]["id"] != "t1" || events[0]["name"] != "get_implementation" {
		t.Errorf("Unexpected tool_call line: %v", events[0])
	}
	args, ok := events[0]["args"].(map[string]any)
	if !ok || args["function_name"] != "foo" {
		t.Errorf("Unexpected tool_call args: %v", events[0]["args"])
	}
	if events[1]["type"] != "done" {
		t.Errorf("Unexpected second line: %v", events[1])
	}
	if events[2]["type"] != "completion" || events[2]["content"] != "def foo(): return 1" {
		t.Errorf("Unexpected resume line: %v", events[2])
	}
	if events[3]["type"] != "done" {
		t.Errorf("Unexpected final line: %v", events[3])
	}
	if b.conversations.Len() != 0 {
		t.Error("Expected no conversations after the handshake completed")
	}
}

func TestRun_InvalidJSONRecovers(t *testing.T) {
	fake := &fakeProvider{scripts: [][]protocol.Event{
		{protocol.NewDone()},
	}}
	b := newTestBroker(t, fake)

	input := "{not json}\n" +
		`{"type":"complete","context":"ctx","config":{"provider":"openai","api_key":"k"}}` + "\n"
	var out strings.Builder
	if err := b.Run(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := decodeLines(t, out.String())
	if len(events) != 2 {
		t.Fatalf("Expected 2 output lines, got %d: %v", len(events), events)
	}
	if events[0]["type"] != "error" {
		t.Errorf("Expected error for malformed line, got %v", events[0])
	}
	msg, _ := events[0]["message"].(string)
	if !strings.HasPrefix(msg, "Invalid JSON:") {
		t.Errorf("Unexpected error message: %q", msg)
	}
	if events[1]["type"] != "done" {
		t.Errorf("Expected the next request to be served, got %v", events[1])
	}
}

func TestRun_OversizedLineRecovers(t *testing.T) {
	fake := &fakeProvider{scripts: [][]protocol.Event{
		{protocol.NewDone()},
	}}
	b := newTestBroker(t, fake)

	input := strings.Repeat("x", maxLineSize+1) + "\n" +
		`{"type":"complete","context":"ctx","config":{"provider":"openai","api_key":"k"}}` + "\n"
	var out strings.Builder
	if err := b.Run(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := decodeLines(t, out.String())
	if len(events) != 2 {
		t.Fatalf("Expected 2 output lines, got %d: %v", len(events), events)
	}
	if events[0]["type"] != "error" {
		t.Errorf("Expected error for oversized line, got %v", events[0])
	}
	msg, _ := events[0]["message"].(string)
	if !strings.HasPrefix(msg, "Invalid JSON:") {
		t.Errorf("Unexpected error message: %q", msg)
	}
	if events[1]["type"] != "done" {
		t.Errorf("Expected the next request to be served, got %v", events[1])
	}
}

func TestRun_SkipsBlankLines(t *testing.T) {
	fake := &fakeProvider{scripts: [][]protocol.Event{
		{protocol.NewDone()},
	}}
	b := newTestBroker(t, fake)

	input := "\n   \n" +
		`{"type":"complete","context":"ctx","config":{"provider":"openai","api_key":"k"}}` + "\n\n"
	var out strings.Builder
	if err := b.Run(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := decodeLines(t, out.String())
	if len(events) != 1 || events[0]["type"] != "done" {
		t.Errorf("Expected a single done line, got %v", events)
	}
}

func TestRun_UnknownTypeReported(t *testing.T) {
	b := newTestBroker(t, &fakeProvider{})

	in := strings.NewReader(`{"type":"frobnicate"}` + "\n")
	var out strings.Builder
	if err := b.Run(context.Background(), in, &out); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := decodeLines(t, out.String())
	if len(events) != 1 || events[0]["type"] != "error" {
		t.Fatalf("Expected a single error line, got %v", events)
	}
	if events[0]["message"] != `Unknown request type: "frobnicate"` {
		t.Errorf("Unexpected message: %v", events[0]["message"])
	}
}
