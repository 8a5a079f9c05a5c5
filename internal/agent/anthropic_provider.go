// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/TenzinPlatter/nvim-llm-request/internal/errors"
	"github.com/TenzinPlatter/nvim-llm-request/internal/logging"
	"github.com/TenzinPlatter/nvim-llm-request/internal/protocol"
)

const anthropicMaxTokens = 4096

// AnthropicProvider implements StreamProvider using the Anthropic SDK.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicProvider creates a new Anthropic-backed StreamProvider. The
// timeout bounds each outbound API call, not event delivery.
func NewAnthropicProvider(apiKey, model string, timeout time.Duration) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicProvider{client: &client, model: model}
}

// StreamCompletion normalizes the Anthropic message stream into canonical
// events. Text and thinking deltas are forwarded as they arrive; tool-use
// blocks are buffered per content-block index and emitted once when the
// block stops.
func (p *AnthropicProvider) StreamCompletion(ctx context.Context, messages []Message, tools []ToolDefinition) <-chan protocol.Event {
	out := make(chan protocol.Event)
	go func() {
		defer close(out)
		p.stream(ctx, out, messages, tools)
	}()
	return out
}

func (p *AnthropicProvider) stream(ctx context.Context, out chan<- protocol.Event, messages []Message, tools []ToolDefinition) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  toAnthropicMessages(messages),
		MaxTokens: anthropicMaxTokens,
	}
	if len(tools) > 0 {
		params.Tools = toAnthropicTools(tools)
	}

	logger := logging.GetDefaultLogger()
	buf := newToolCallBuffer()

	stream := p.client.Messages.NewStreaming(ctx, params)
	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			if event.ContentBlock.Type == "tool_use" {
				buf.start(event.Index, event.ContentBlock.ID, event.ContentBlock.Name)
			}
		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				if !send(ctx, out, protocol.NewCompletion(event.Delta.Text)) {
					return
				}
			case "thinking_delta":
				if !send(ctx, out, protocol.NewThinking(event.Delta.Thinking)) {
					return
				}
			case "input_json_delta":
				buf.appendArgs(event.Index, event.Delta.PartialJSON)
			}
		case "content_block_stop":
			if call, ok := buf.finish(event.Index); ok {
				if err := ValidateToolArgs(call.Name, call.Args); err != nil {
					logger.Warnf("tool call %s: %v", call.ID, err)
				}
				if !send(ctx, out, call) {
					return
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		send(ctx, out, protocol.NewError(errors.ProviderFailure("anthropic", err).Error()))
		return
	}

	// A block that never saw content_block_stop still yields one call.
	for _, call := range buf.flush() {
		if !send(ctx, out, call) {
			return
		}
	}
	send(ctx, out, protocol.NewDone())
}

// toAnthropicTools converts provider-agnostic tool definitions to Anthropic
// SDK tool params, lifting the JSON-schema parameters into input_schema.
func toAnthropicTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		props, _ := t.Parameters["properties"].(map[string]any)
		if props == nil {
			props = map[string]any{}
		}
		var required []string
		switch req := t.Parameters["required"].(type) {
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		case []string:
			required = req
		}

		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   required,
				},
			},
		}
	}
	return out
}

// toAnthropicMessages converts provider-agnostic messages to Anthropic SDK
// message params.
//
// Anthropic's API requires:
//   - Only "user" and "assistant" roles (no "tool" role)
//   - Tool results are sent as user messages with ToolResultBlockParam content
//   - Assistant messages with tool calls use ToolUseBlockParam content
func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "user":
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewTextBlock(m.Content),
			))
		case "tool":
			out = append(out, anthropic.NewUserMessage(
				anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: m.ToolCallID,
						Content: []anthropic.ToolResultBlockParamContentUnion{
							{OfText: &anthropic.TextBlockParam{Text: m.Content}},
						},
					},
				},
			))
		case "assistant":
			blocks := make([]anthropic.ContentBlockParamUnion, 0)
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input json.RawMessage
				if tc.Arguments != "" {
					input = json.RawMessage(tc.Arguments)
				} else {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: input,
					},
				})
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return out
}
