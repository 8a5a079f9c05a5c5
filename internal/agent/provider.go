// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"context"
	"fmt"

	"github.com/TenzinPlatter/nvim-llm-request/internal/config"
	"github.com/TenzinPlatter/nvim-llm-request/internal/protocol"
)

// ToolDefinition is a provider-agnostic representation of a tool that can be
// offered to an LLM during a chat completion.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall represents a single tool invocation requested by the model.
// Arguments is the raw JSON text of the call's input.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message is a provider-agnostic chat message.
type Message struct {
	Role       string     // "user", "assistant", "tool"
	Content    string     // text content
	ToolCalls  []ToolCall // tool calls requested by the assistant
	ToolCallID string     // set when Role == "tool" to correlate with a ToolCall
}

// StreamProvider abstracts a streaming chat-completion backend. The returned
// channel carries canonical events in arrival order and is closed after a
// terminal done or error event. A tool call is emitted exactly once per
// call, fully assembled, with decoded arguments.
type StreamProvider interface {
	StreamCompletion(ctx context.Context, messages []Message, tools []ToolDefinition) <-chan protocol.Event
}

// NewStreamProvider builds the adapter matching the resolved provider
// configuration. The local provider shares the OpenAI-compatible adapter
// with a different base endpoint.
func NewStreamProvider(pc *config.ProviderConfig) (StreamProvider, error) {
	switch pc.Provider {
	case config.ProviderAnthropic:
		return NewAnthropicProvider(pc.APIKey, pc.Model, pc.Timeout), nil
	case config.ProviderOpenAI, config.ProviderLocal:
		return NewOpenAIProvider(pc.APIKey, pc.Model, pc.BaseURL, pc.Timeout), nil
	default:
		return nil, fmt.Errorf("no adapter for provider %q", pc.Provider)
	}
}

// send forwards one event unless the context is already cancelled. It
// returns false when the consumer is gone and the producer should stop.
func send(ctx context.Context, out chan<- protocol.Event, ev protocol.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
