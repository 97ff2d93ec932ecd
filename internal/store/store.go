// Package store defines the persistence capabilities consumed by the sync
// engine and provides in-memory and NATS JetStream backed implementations.
//
// The live feed contract matters more than the backend: every emission on a
// Feed is the full current message set for the conversation, never a delta.
// The timeline merger relies on that to replace-and-resort instead of
// accumulating.
package store

import (
	"context"

	"github.com/capitalize-ai/chat-sync/internal/model"
)

// Feed is a live subscription to one conversation's messages.
type Feed interface {
	// Updates delivers the full current message set on every change. The
	// channel is closed when the feed ends.
	Updates() <-chan []model.Message

	// Errs delivers connection-level problems. An error here degrades
	// realtime delivery; it does not invalidate previously delivered sets.
	Errs() <-chan error

	// Close cancels the subscription and releases its resources.
	Close()
}

// Store is the set of persistence capabilities the engine consumes.
// Implementations assign message ids at write time, insertion-ordered within
// a conversation, and bump the conversation's UpdatedAt on every append.
type Store interface {
	CreateConversation(ctx context.Context, tenantID, userID, title string) (*model.Conversation, error)
	ListConversations(ctx context.Context, tenantID string) ([]model.Conversation, error)
	GetConversation(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error)
	UpdateConversationTitle(ctx context.Context, tenantID, conversationID, title string) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, tenantID, conversationID string) error

	// CreateMessage durably writes one message and returns it with its
	// store-assigned id and timestamp. Fails with *WriteError.
	CreateMessage(ctx context.Context, tenantID, conversationID, userID, content string, author model.AuthorKind) (*model.Message, error)

	// FetchMessages is the one-shot snapshot read. Fails with *SnapshotError.
	FetchMessages(ctx context.Context, tenantID, conversationID string) ([]model.Message, error)

	// SubscribeMessages opens a live feed for one conversation.
	SubscribeMessages(ctx context.Context, tenantID, conversationID string) (Feed, error)
}
