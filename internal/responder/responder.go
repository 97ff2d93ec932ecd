// Package responder provides the automated-responder capability: given a
// user message, produce a reply. The responder is opaque, potentially slow,
// and potentially failing; callers treat explicit failure and transport
// failure differently.
package responder

import (
	"context"
	"fmt"
)

// Result is the responder's outcome. Success=false is a normal,
// non-exceptional outcome (the responder ran and declined); transport
// failures surface as *TransportError instead.
type Result struct {
	Success      bool   `json:"success"`
	ReplyText    string `json:"response"`
	ErrorMessage string `json:"message,omitempty"`
}

// Responder generates a reply to a user message.
type Responder interface {
	Invoke(ctx context.Context, conversationID, text string) (*Result, error)
}

// TransportError indicates the responder call failed at the network layer.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("responder transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
