package model

import (
	"time"
)

// AuthorKind identifies who authored a message.
type AuthorKind string

const (
	AuthorHuman     AuthorKind = "human"
	AuthorAssistant AuthorKind = "assistant"
)

// Message is one immutable unit of text in a conversation. IDs are assigned
// by the store at write time and are insertion-ordered within a conversation.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	TenantID       string     `json:"tenant_id,omitempty"`
	UserID         string     `json:"user_id,omitempty"`
	Author         AuthorKind `json:"author"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Less reports whether m sorts before other in a timeline: creation
// timestamp ascending, id ascending as the tie-break. The id tie-break keeps
// the order total even when two writes land in the same clock tick.
func (m Message) Less(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// SendMessageRequest is the request to send a new user message.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// ListMessagesResponse is the response for reading a conversation timeline.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	Live     bool      `json:"live"`
}
