// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"strings"
	"testing"
)

func TestToolCallBuffer_FragmentsRoundTrip(t *testing.T) {
	buf := newToolCallBuffer()
	buf.start(0, "t1", "get_implementation")
	buf.appendArgs(0, `{"function_`)
	buf.appendArgs(0, `name":"val`)
	buf.appendArgs(0, `idateEmail"}`)

	call, ok := buf.finish(0)
	if !ok {
		t.Fatal("Expected a finished call")
	}
	if call.ID != "t1" || call.Name != "get_implementation" {
		t.Errorf("Unexpected call identity: %q %q", call.ID, call.Name)
	}
	if call.Args["function_name"] != "validateEmail" {
		t.Errorf("Expected decoded args, got %v", call.Args)
	}
}

func TestToolCallBuffer_MalformedArgsYieldEmptyObject(t *testing.T) {
	buf := newToolCallBuffer()
	buf.start(0, "t1", "get_implementation")
	buf.appendArgs(0, `{"function_name": "trunc`)

	call, ok := buf.finish(0)
	if !ok {
		t.Fatal("Expected a finished call")
	}
	if len(call.Args) != 0 {
		t.Errorf("Expected empty args for malformed JSON, got %v", call.Args)
	}
	if call.Args == nil {
		t.Error("Expected non-nil args map")
	}
}

func TestToolCallBuffer_EmptyArgsYieldEmptyObject(t *testing.T) {
	buf := newToolCallBuffer()
	buf.start(2, "t2", "get_implementation")

	call, ok := buf.finish(2)
	if !ok {
		t.Fatal("Expected a finished call")
	}
	if len(call.Args) != 0 || call.Args == nil {
		t.Errorf("Expected empty non-nil args, got %v", call.Args)
	}
}

func TestToolCallBuffer_FinishIsOncePerIndex(t *testing.T) {
	buf := newToolCallBuffer()
	buf.start(0, "t1", "get_implementation")

	if _, ok := buf.finish(0); !ok {
		t.Fatal("Expected first finish to succeed")
	}
	if _, ok := buf.finish(0); ok {
		t.Error("Expected second finish for the same index to be a no-op")
	}
}

func TestToolCallBuffer_FinishUnknownIndex(t *testing.T) {
	buf := newToolCallBuffer()
	if _, ok := buf.finish(7); ok {
		t.Error("Expected finish on an unknown index to be a no-op")
	}
}

func TestToolCallBuffer_StartMergesIdentity(t *testing.T) {
	// OpenAI delivers id/name on the first chunk and empty strings afterward.
	buf := newToolCallBuffer()
	buf.start(0, "t1", "get_implementation")
	buf.start(0, "", "")
	buf.appendArgs(0, `{}`)

	call, ok := buf.finish(0)
	if !ok {
		t.Fatal("Expected a finished call")
	}
	if call.ID != "t1" || call.Name != "get_implementation" {
		t.Errorf("Expected identity to survive later empty chunks, got %q %q", call.ID, call.Name)
	}
}

func TestToolCallBuffer_GeneratesMissingID(t *testing.T) {
	buf := newToolCallBuffer()
	buf.start(0, "", "get_implementation")

	call, ok := buf.finish(0)
	if !ok {
		t.Fatal("Expected a finished call")
	}
	if !strings.HasPrefix(call.ID, "call_") || len(call.ID) <= len("call_") {
		t.Errorf("Expected a generated call id, got %q", call.ID)
	}
}

func TestToolCallBuffer_FlushPreservesStartOrder(t *testing.T) {
	buf := newToolCallBuffer()
	buf.start(1, "b", "get_implementation")
	buf.start(0, "a", "get_implementation")
	buf.appendArgs(0, `{"function_name":"x"}`)

	calls := buf.flush()
	if len(calls) != 2 {
		t.Fatalf("Expected 2 calls, got %d", len(calls))
	}
	if calls[0].ID != "b" || calls[1].ID != "a" {
		t.Errorf("Expected start order b, a; got %q, %q", calls[0].ID, calls[1].ID)
	}
	if len(buf.flush()) != 0 {
		t.Error("Expected second flush to be empty")
	}
}

func TestToolCallBuffer_SizeLimitDropsFragments(t *testing.T) {
	buf := newToolCallBuffer()
	buf.start(0, "t1", "get_implementation")
	buf.appendArgs(0, strings.Repeat("x", maxToolArgBufSize))
	buf.appendArgs(0, "overflow")

	call, _ := buf.finish(0)
	// The oversized buffer is not valid JSON, so args collapse to empty.
	if len(call.Args) != 0 {
		t.Errorf("Expected empty args, got %d keys", len(call.Args))
	}
}

func TestParseToolArgs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]any
	}{
		{"valid", `{"function_name":"foo"}`, map[string]any{"function_name": "foo"}},
		{"empty", "", map[string]any{}},
		{"whitespace", "   ", map[string]any{}},
		{"malformed", `{"broken`, map[string]any{}},
		{"null", "null", map[string]any{}},
		{"non_object", `[1,2]`, map[string]any{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := parseToolArgs(tc.in)
			if got == nil {
				t.Fatal("Expected non-nil map")
			}
			if len(got) != len(tc.want) {
				t.Fatalf("Expected %v, got %v", tc.want, got)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Errorf("Expected %s=%v, got %v", k, v, got[k])
				}
			}
		})
	}
}
