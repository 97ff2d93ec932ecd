// Package session owns "which conversation is currently open" for one
// viewer and wires the timeline merger and send pipeline to it.
package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-sync/internal/pipeline"
	"github.com/capitalize-ai/chat-sync/internal/timeline"
	"github.com/capitalize-ai/chat-sync/pkg/logger"
)

// ErrNoConversation is returned when a send is submitted with no open
// conversation.
var ErrNoConversation = errors.New("no open conversation")

// Session coordinates one viewer. Opening a conversation tears down the
// previous timeline activation and starts a new one; sends are routed to
// the conversation open at submit time.
type Session struct {
	merger   *timeline.Merger
	pipeline *pipeline.Pipeline
	tenantID string
	userID   string
	log      *logger.Logger

	mu       sync.Mutex
	active   *timeline.Activation
	activeID string
}

// New creates a session for one viewer.
func New(merger *timeline.Merger, p *pipeline.Pipeline, tenantID, userID string, log *logger.Logger) *Session {
	return &Session{
		merger:   merger,
		pipeline: p,
		tenantID: tenantID,
		userID:   userID,
		log:      log,
	}
}

// Open switches the session to the given conversation and returns its
// timeline activation. The previous activation is closed first, so a
// late-arriving emission for the old conversation can never leak into the
// new one. An empty id closes the timeline without opening a new one.
func (s *Session) Open(ctx context.Context, conversationID string) *timeline.Activation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.active.Close()
		s.active = nil
	}
	s.activeID = conversationID
	if conversationID == "" {
		return nil
	}

	s.log.Debug("conversation opened", zap.String("conversation_id", conversationID))
	s.active = s.merger.Activate(ctx, s.tenantID, conversationID)
	return s.active
}

// ActiveConversation returns the id of the open conversation, or "".
func (s *Session) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Close tears down the current activation.
func (s *Session) Close() {
	s.Open(context.Background(), "")
}

// Send submits text to the conversation open right now. The invocation runs
// to completion even if the viewer switches away (its writes stay valid and
// conversation-scoped), but its terminal status is delivered only while
// that conversation is still open; otherwise the channel closes empty.
func (s *Session) Send(ctx context.Context, text string) (<-chan pipeline.Result, error) {
	s.mu.Lock()
	conversationID := s.activeID
	s.mu.Unlock()

	if conversationID == "" {
		return nil, ErrNoConversation
	}

	results := make(chan pipeline.Result, 1)
	go func() {
		defer close(results)
		res := s.pipeline.Send(ctx, s.tenantID, conversationID, s.userID, text)

		if s.ActiveConversation() != conversationID {
			s.log.Debug("suppressing terminal status for closed conversation",
				zap.String("conversation_id", conversationID),
				zap.String("outcome", string(res.Outcome)),
			)
			return
		}
		results <- res
	}()
	return results, nil
}
