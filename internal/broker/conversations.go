// SPDX-License-Identifier: AGPL-3.0-only
package broker

import (
	"sync"

	"github.com/TenzinPlatter/nvim-llm-request/internal/agent"
	"github.com/TenzinPlatter/nvim-llm-request/internal/config"
	"github.com/TenzinPlatter/nvim-llm-request/internal/protocol"
)

// Conversation is the stored state of a request paused awaiting exactly one
// tool result. It exists only between the initial stream's first tool_call
// and the end of the single resume it supports.
type Conversation struct {
	ID               string
	Provider         agent.StreamProvider
	Config           *config.ProviderConfig
	UserMessage      string
	PendingToolCalls []protocol.ToolCallEvent
	AccumulatedText  []string
}

// ConversationStore holds in-flight conversations keyed by request id. All
// map access is mutually exclusive; each entry is owned by the goroutine
// handling its request, so per-entry mutation needs no further locking.
type ConversationStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
}

// NewConversationStore creates an empty store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{conversations: make(map[string]*Conversation)}
}

// Create inserts a conversation under its id, replacing any stale entry
// with the same key.
func (s *ConversationStore) Create(conv *Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
}

// Get looks up a conversation by request id.
func (s *ConversationStore) Get(id string) (*Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	return conv, ok
}

// Remove deletes the conversation with the given id, if present.
func (s *ConversationStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
}

// Len reports the number of stored conversations.
func (s *ConversationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}
