// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/TenzinPlatter/nvim-llm-request/internal/logging"
	"github.com/TenzinPlatter/nvim-llm-request/internal/protocol"
)

// maxToolArgBufSize is the upper bound (in bytes) for buffered argument
// fragments per tool call.
const maxToolArgBufSize = 1 << 20 // 1 MB

// toolCallBuffer accumulates a stream's incremental tool-call fragments,
// keyed by the provider's call index. A call is assembled into exactly one
// canonical tool_call event when its stream segment completes; argument
// fragments that do not concatenate to valid JSON yield an empty argument
// object instead of failing the stream.
type toolCallBuffer struct {
	calls map[int64]*pendingToolCall
	order []int64
}

type pendingToolCall struct {
	id      string
	name    string
	args    strings.Builder
	emitted bool
}

func newToolCallBuffer() *toolCallBuffer {
	return &toolCallBuffer{calls: map[int64]*pendingToolCall{}}
}

// start registers a call at the given index, merging in the id and name
// when the provider delivers them. Safe to call repeatedly per index.
func (b *toolCallBuffer) start(index int64, id, name string) {
	call, ok := b.calls[index]
	if !ok {
		call = &pendingToolCall{}
		b.calls[index] = call
		b.order = append(b.order, index)
	}
	if id != "" {
		call.id = id
	}
	if name != "" {
		call.name = name
	}
}

// appendArgs buffers one argument fragment for the call at index.
func (b *toolCallBuffer) appendArgs(index int64, fragment string) {
	if fragment == "" {
		return
	}
	b.start(index, "", "")
	call := b.calls[index]
	if call.args.Len()+len(fragment) > maxToolArgBufSize {
		logging.GetDefaultLogger().Warnf("tool argument buffer limit exceeded for call index %d, dropping fragment", index)
		return
	}
	call.args.WriteString(fragment)
}

// finish assembles the call at index into a tool_call event. It returns
// false when no call was started at that index or it was already emitted.
func (b *toolCallBuffer) finish(index int64) (protocol.ToolCallEvent, bool) {
	call, ok := b.calls[index]
	if !ok || call.emitted {
		return protocol.ToolCallEvent{}, false
	}
	call.emitted = true

	id := call.id
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	return protocol.NewToolCall(id, call.name, parseToolArgs(call.args.String())), true
}

// flush assembles every started-but-unemitted call, in start order. Used
// when a stream terminates without per-call completion signals.
func (b *toolCallBuffer) flush() []protocol.ToolCallEvent {
	var out []protocol.ToolCallEvent
	for _, index := range b.order {
		if ev, ok := b.finish(index); ok {
			out = append(out, ev)
		}
	}
	return out
}

// parseToolArgs decodes accumulated argument text. Malformed or empty input
// yields an empty object; downstream tool execution sees no arguments
// rather than a dead stream.
func parseToolArgs(raw string) map[string]any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil || parsed == nil {
		logging.GetDefaultLogger().Warnf("malformed tool arguments (%d bytes), substituting empty object", len(trimmed))
		return map[string]any{}
	}
	return parsed
}
