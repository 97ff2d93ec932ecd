// Package directory maintains the ordered list of conversations for a
// viewer, independent of which conversation is open.
package directory

import (
	"context"
	"sort"

	"github.com/capitalize-ai/chat-sync/internal/model"
	"github.com/capitalize-ai/chat-sync/pkg/logger"
)

// Backend is the slice of the store the directory consumes.
type Backend interface {
	ListConversations(ctx context.Context, tenantID string) ([]model.Conversation, error)
	CreateConversation(ctx context.Context, tenantID, userID, title string) (*model.Conversation, error)
}

// Directory lists and creates conversations.
type Directory struct {
	backend Backend
	log     *logger.Logger
}

// New creates a directory over the given backend.
func New(backend Backend, log *logger.Logger) *Directory {
	return &Directory{backend: backend, log: log}
}

// List returns the viewer's conversations ordered most-recently-updated
// first. The sort is applied here even when the source claims order; the
// source's ordering is not part of its contract.
func (d *Directory) List(ctx context.Context, tenantID string) ([]model.Conversation, error) {
	convs, err := d.backend.ListConversations(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(convs, func(i, j int) bool {
		if convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].ID > convs[j].ID
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

// Create creates a conversation. An empty title gets a timestamp-derived
// default from the store. The new conversation shows up in List on the next
// refresh; selection is a local state change and goes through the session,
// not here.
func (d *Directory) Create(ctx context.Context, tenantID, userID, title string) (*model.Conversation, error) {
	return d.backend.CreateConversation(ctx, tenantID, userID, title)
}
