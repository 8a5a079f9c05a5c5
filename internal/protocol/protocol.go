// SPDX-License-Identifier: AGPL-3.0-only

// Package protocol defines the line-delimited JSON wire format spoken over
// the plugin's stdio channel: the inbound request union and the canonical
// event vocabulary every provider stream is normalized into.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Request type tags accepted on the inbound stream.
const (
	RequestTypeComplete     = "complete"
	RequestTypeToolResponse = "tool_response"
)

// ProviderConfigBody is the optional per-request provider configuration
// carried in a complete request. All fields are overrides; anything absent
// falls back to environment or built-in defaults during resolution.
type ProviderConfigBody struct {
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	APIKey       string `json:"api_key,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`
	Timeout      int    `json:"timeout,omitempty"`
	MaxToolCalls int    `json:"max_tool_calls,omitempty"`
}

// CompleteRequest starts a new completion turn.
type CompleteRequest struct {
	RequestID string              `json:"request_id,omitempty"`
	Context   string              `json:"context"`
	Prompt    string              `json:"prompt,omitempty"`
	Config    *ProviderConfigBody `json:"config,omitempty"`
}

// ToolResponseRequest resumes a paused conversation with one tool result.
type ToolResponseRequest struct {
	RequestID  string `json:"request_id"`
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
}

// Request is the decoded inbound union. Exactly one variant is non-nil for
// a known Type; both are nil when the type tag is unrecognized.
type Request struct {
	Type         string
	Complete     *CompleteRequest
	ToolResponse *ToolResponseRequest
}

// rawRequest is the superset shape a request line is decoded into before
// the union variant is picked.
type rawRequest struct {
	Type       string              `json:"type"`
	RequestID  string              `json:"request_id"`
	Context    string              `json:"context"`
	Prompt     string              `json:"prompt"`
	Config     *ProviderConfigBody `json:"config"`
	ToolCallID string              `json:"tool_call_id"`
	Content    string              `json:"content"`
}

// ParseRequest decodes one input line into a Request. It fails only when the
// line is not a valid JSON object; an unknown type tag is returned as-is so
// the router can report it distinctly from malformed JSON.
func ParseRequest(line []byte) (*Request, error) {
	var raw rawRequest
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, err
	}

	req := &Request{Type: raw.Type}
	switch raw.Type {
	case RequestTypeComplete:
		req.Complete = &CompleteRequest{
			RequestID: raw.RequestID,
			Context:   raw.Context,
			Prompt:    raw.Prompt,
			Config:    raw.Config,
		}
	case RequestTypeToolResponse:
		req.ToolResponse = &ToolResponseRequest{
			RequestID:  raw.RequestID,
			ToolCallID: raw.ToolCallID,
			Content:    raw.Content,
		}
	}
	return req, nil
}

// Event type tags emitted on the outbound stream.
const (
	EventTypeCompletion = "completion"
	EventTypeThinking   = "thinking"
	EventTypeToolCall   = "tool_call"
	EventTypeDone       = "done"
	EventTypeError      = "error"
)

// Event is one outbound canonical event. Each variant serializes to a
// single JSON object carrying its "type" discriminator.
type Event interface {
	EventType() string
}

// CompletionEvent is an incremental text fragment in arrival order.
type CompletionEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ThinkingEvent is a provider-internal reasoning fragment.
type ThinkingEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ToolCallEvent is one fully-assembled tool invocation. Args is always a
// complete decoded object, never a partial fragment.
type ToolCallEvent struct {
	Type string         `json:"type"`
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// DoneEvent terminates one successful provider stream turn.
type DoneEvent struct {
	Type string `json:"type"`
}

// ErrorEvent terminates the current request's event sequence.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e CompletionEvent) EventType() string { return e.Type }
func (e ThinkingEvent) EventType() string   { return e.Type }
func (e ToolCallEvent) EventType() string   { return e.Type }
func (e DoneEvent) EventType() string       { return e.Type }
func (e ErrorEvent) EventType() string      { return e.Type }

// NewCompletion builds a completion event.
func NewCompletion(content string) CompletionEvent {
	return CompletionEvent{Type: EventTypeCompletion, Content: content}
}

// NewThinking builds a thinking event.
func NewThinking(content string) ThinkingEvent {
	return ThinkingEvent{Type: EventTypeThinking, Content: content}
}

// NewToolCall builds a tool_call event. A nil args map is normalized to an
// empty object so the serialized event always carries "args".
func NewToolCall(id, name string, args map[string]any) ToolCallEvent {
	if args == nil {
		args = map[string]any{}
	}
	return ToolCallEvent{Type: EventTypeToolCall, ID: id, Name: name, Args: args}
}

// NewDone builds the terminal done marker.
func NewDone() DoneEvent {
	return DoneEvent{Type: EventTypeDone}
}

// NewError builds a terminal error event.
func NewError(message string) ErrorEvent {
	return ErrorEvent{Type: EventTypeError, Message: message}
}

// Errorf builds a terminal error event from a format string.
func Errorf(format string, args ...any) ErrorEvent {
	return NewError(fmt.Sprintf(format, args...))
}

// EncodeEvent serializes an event to its single-line JSON form.
func EncodeEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
