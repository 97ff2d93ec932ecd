// Package model defines data structures for the chat sync engine.
package model

import (
	"time"
)

// Conversation represents a titled container of messages.
type Conversation struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastMessage *Message  `json:"last_message,omitempty"`
	Deleted     bool      `json:"deleted,omitempty"`
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// UpdateConversationRequest is the request to update a conversation title.
type UpdateConversationRequest struct {
	Title string `json:"title"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}

// DefaultTitle derives a title for a conversation created without one.
func DefaultTitle(now time.Time) string {
	return "Chat " + now.Format("Jan 2, 3:04 PM")
}
