// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"context"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/TenzinPlatter/nvim-llm-request/internal/errors"
	"github.com/TenzinPlatter/nvim-llm-request/internal/logging"
	"github.com/TenzinPlatter/nvim-llm-request/internal/protocol"
)

const openAISystemPrompt = "You are a code completion assistant."

// OpenAIProvider implements StreamProvider using the OpenAI SDK.
// It supports any OpenAI-compatible endpoint (OpenAI, Ollama, vLLM, Groq, etc.)
// via a configurable base URL, which is how the local provider is served.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a new OpenAI-backed StreamProvider.
// If baseURL is non-empty it overrides the default API endpoint, which allows
// pointing at any OpenAI-compatible server.
func NewOpenAIProvider(apiKey, model, baseURL string, timeout time.Duration) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client, model: model}
}

// StreamCompletion normalizes the chat-completion chunk stream into
// canonical events. Content deltas are forwarded as they arrive; tool-call
// argument fragments are buffered per chunk index and flushed when the
// finish reason arrives or the stream ends.
func (p *OpenAIProvider) StreamCompletion(ctx context.Context, messages []Message, tools []ToolDefinition) <-chan protocol.Event {
	out := make(chan protocol.Event)
	go func() {
		defer close(out)
		p.stream(ctx, out, messages, tools)
	}()
	return out
}

func (p *OpenAIProvider) stream(ctx context.Context, out chan<- protocol.Event, messages []Message, tools []ToolDefinition) {
	oaiMsgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	oaiMsgs = append(oaiMsgs, openai.SystemMessage(openAISystemPrompt))
	for _, m := range messages {
		oaiMsgs = append(oaiMsgs, toOpenAIMessage(m))
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: oaiMsgs,
	}
	if len(tools) > 0 {
		params.Tools = toOpenAITools(tools)
	}

	logger := logging.GetDefaultLogger()
	buf := newToolCallBuffer()

	emitPending := func() bool {
		for _, call := range buf.flush() {
			if err := ValidateToolArgs(call.Name, call.Args); err != nil {
				logger.Warnf("tool call %s: %v", call.ID, err)
			}
			if !send(ctx, out, call) {
				return false
			}
		}
		return true
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if !send(ctx, out, protocol.NewCompletion(choice.Delta.Content)) {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			buf.start(tc.Index, tc.ID, tc.Function.Name)
			buf.appendArgs(tc.Index, tc.Function.Arguments)
		}
		if choice.FinishReason == "tool_calls" {
			if !emitPending() {
				return
			}
		}
	}
	if err := stream.Err(); err != nil {
		send(ctx, out, protocol.NewError(errors.ProviderFailure("openai", err).Error()))
		return
	}

	// Endpoints that close the stream without a tool_calls finish reason
	// still owe us the buffered calls.
	if !emitPending() {
		return
	}
	send(ctx, out, protocol.NewDone())
}

// toOpenAITools converts provider-agnostic tool definitions to the OpenAI SDK
// representation.
func toOpenAITools(tools []ToolDefinition) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, len(tools))
	for i, t := range tools {
		out[i] = openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  shared.FunctionParameters(t.Parameters),
		})
	}
	return out
}

// toOpenAIMessage converts a provider-agnostic Message to an OpenAI SDK message
// union.
func toOpenAIMessage(m Message) openai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case "tool":
		return openai.ToolMessage(m.Content, m.ToolCallID)
	case "user":
		return openai.UserMessage(m.Content)
	default: // "assistant"
		asst := openai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = openai.String(m.Content)
		}
		if len(m.ToolCalls) > 0 {
			asst.ToolCalls = make([]openai.ChatCompletionMessageToolCallUnionParam, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				asst.ToolCalls[i] = openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					},
				}
			}
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
	}
}
