// SPDX-License-Identifier: AGPL-3.0-only

// Package broker drives the request lifecycle: it routes inbound requests,
// turns them into provider streams, forwards canonical events, and tracks
// conversations paused on a pending tool call.
package broker

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TenzinPlatter/nvim-llm-request/internal/agent"
	"github.com/TenzinPlatter/nvim-llm-request/internal/config"
	"github.com/TenzinPlatter/nvim-llm-request/internal/logging"
	"github.com/TenzinPlatter/nvim-llm-request/internal/protocol"
	"github.com/TenzinPlatter/nvim-llm-request/internal/store"
)

// errInvalidRequestID is the wire message for a resume that names a
// conversation that was never created or has already completed.
const errInvalidRequestID = "Invalid or expired request_id"

// providerFactory builds a streaming adapter from a resolved provider
// configuration. Replaced in tests.
type providerFactory func(*config.ProviderConfig) (agent.StreamProvider, error)

// Broker is the request router and state machine.
type Broker struct {
	cfg           *config.Config
	conversations *ConversationStore
	transcripts   store.TranscriptStore
	logger        *logging.Logger
	newProvider   providerFactory
}

// New creates a Broker. transcripts may be nil, which disables persistence.
func New(cfg *config.Config, transcripts store.TranscriptStore) *Broker {
	return &Broker{
		cfg:           cfg,
		conversations: NewConversationStore(),
		transcripts:   transcripts,
		logger:        logging.GetDefaultLogger(),
		newProvider:   agent.NewStreamProvider,
	}
}

// Handle processes one decoded request and returns its event sequence. The
// channel is closed after the terminal event; consumption is single-pass.
func (b *Broker) Handle(ctx context.Context, req *protocol.Request) <-chan protocol.Event {
	out := make(chan protocol.Event)
	go func() {
		defer close(out)
		switch req.Type {
		case protocol.RequestTypeComplete:
			b.handleComplete(ctx, out, req.Complete)
		case protocol.RequestTypeToolResponse:
			b.handleToolResponse(ctx, out, req.ToolResponse)
		default:
			send(ctx, out, protocol.Errorf("Unknown request type: %q", req.Type))
		}
	}()
	return out
}

// handleComplete starts a new completion turn. A conversation is created
// lazily, at the stream's first tool_call, and survives the turn only if
// the stream terminates cleanly: an errored request cannot be resumed.
func (b *Broker) handleComplete(ctx context.Context, out chan<- protocol.Event, req *protocol.CompleteRequest) {
	startTime := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := b.logger.WithField("request_id", requestID)

	pc, err := b.cfg.ResolveProvider(req.Config)
	if err != nil {
		logger.Errorf("config resolution failed: %v", err)
		send(ctx, out, protocol.NewError(err.Error()))
		return
	}

	provider, err := b.newProvider(pc)
	if err != nil {
		logger.Errorf("provider construction failed: %v", err)
		send(ctx, out, protocol.NewError(err.Error()))
		return
	}

	userMessage := req.Context
	if req.Prompt != "" {
		userMessage += "\n\n" + req.Prompt
	}

	logger.Infof("starting %s completion with model %s", pc.Provider, pc.Model)
	events := provider.StreamCompletion(ctx, []agent.Message{
		{Role: "user", Content: userMessage},
	}, agent.ToolDefinitions())

	var conv *Conversation
	var output strings.Builder
	var errMsg string
	for ev := range events {
		switch e := ev.(type) {
		case protocol.ToolCallEvent:
			if conv == nil {
				conv = &Conversation{
					ID:          requestID,
					Provider:    provider,
					Config:      pc,
					UserMessage: userMessage,
				}
				b.conversations.Create(conv)
			}
			if len(conv.PendingToolCalls) < pc.MaxToolCalls {
				conv.PendingToolCalls = append(conv.PendingToolCalls, e)
			} else {
				logger.Warnf("tool call %s exceeds max_tool_calls (%d), forwarded but not resumable", e.ID, pc.MaxToolCalls)
			}
		case protocol.CompletionEvent:
			output.WriteString(e.Content)
			if conv != nil {
				conv.AccumulatedText = append(conv.AccumulatedText, e.Content)
			}
		case protocol.ErrorEvent:
			errMsg = e.Message
			if conv != nil {
				b.conversations.Remove(conv.ID)
				conv = nil
			}
		}
		if !send(ctx, out, ev) {
			return
		}
	}

	if conv != nil {
		logger.Infof("awaiting tool result for %d pending call(s)", len(conv.PendingToolCalls))
	}
	b.recordTranscript(&store.Transcript{
		RequestID: requestID,
		Kind:      protocol.RequestTypeComplete,
		Provider:  pc.Provider,
		Model:     pc.Model,
		Prompt:    userMessage,
		Output:    output.String(),
		Error:     errMsg,
		StartTime: startTime,
		EndTime:   time.Now(),
		Duration:  time.Since(startTime).String(),
	})
}

// handleToolResponse resumes a paused conversation with one tool result.
// Resume is single-shot: once a conversation is found, its entry is removed
// regardless of how the continued stream ends.
func (b *Broker) handleToolResponse(ctx context.Context, out chan<- protocol.Event, req *protocol.ToolResponseRequest) {
	startTime := time.Now()
	logger := b.logger.WithField("request_id", req.RequestID)

	conv, ok := b.conversations.Get(req.RequestID)
	if !ok {
		logger.Warnf("tool response for unknown conversation")
		send(ctx, out, protocol.NewError(errInvalidRequestID))
		return
	}
	defer b.conversations.Remove(req.RequestID)

	var matched *protocol.ToolCallEvent
	for i := range conv.PendingToolCalls {
		if conv.PendingToolCalls[i].ID == req.ToolCallID {
			matched = &conv.PendingToolCalls[i]
			break
		}
	}
	if matched == nil {
		logger.Warnf("tool call %s not pending", req.ToolCallID)
		send(ctx, out, protocol.Errorf("Tool call %s not found", req.ToolCallID))
		return
	}

	args, err := json.Marshal(matched.Args)
	if err != nil {
		args = []byte("{}")
	}
	messages := []agent.Message{
		{Role: "user", Content: conv.UserMessage},
		{
			Role:    "assistant",
			Content: strings.Join(conv.AccumulatedText, ""),
			ToolCalls: []agent.ToolCall{
				{ID: matched.ID, Name: matched.Name, Arguments: string(args)},
			},
		},
		{Role: "tool", Content: req.Content, ToolCallID: req.ToolCallID},
	}

	logger.Infof("resuming %s conversation with result for tool call %s", conv.Config.Provider, req.ToolCallID)
	events := conv.Provider.StreamCompletion(ctx, messages, agent.ToolDefinitions())

	var output strings.Builder
	var errMsg string
	for ev := range events {
		switch e := ev.(type) {
		case protocol.CompletionEvent:
			output.WriteString(e.Content)
		case protocol.ErrorEvent:
			errMsg = e.Message
		}
		if !send(ctx, out, ev) {
			return
		}
	}

	b.recordTranscript(&store.Transcript{
		RequestID: req.RequestID,
		Kind:      protocol.RequestTypeToolResponse,
		Provider:  conv.Config.Provider,
		Model:     conv.Config.Model,
		Prompt:    req.Content,
		Output:    output.String(),
		Error:     errMsg,
		StartTime: startTime,
		EndTime:   time.Now(),
		Duration:  time.Since(startTime).String(),
	})
}

// recordTranscript persists a transcript best-effort.
func (b *Broker) recordTranscript(t *store.Transcript) {
	if b.transcripts == nil {
		return
	}
	if err := b.transcripts.SaveTranscript(t); err != nil {
		b.logger.Warnf("failed to persist transcript for request %s: %v", t.RequestID, err)
	}
}

// send forwards one event unless the context is cancelled.
func send(ctx context.Context, out chan<- protocol.Event, ev protocol.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
