package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/chat-sync/internal/model"
)

// MemoryStore is an in-process Store. It backs tests and single-node
// deployments that do not need durable history.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	messages      map[string][]model.Message // conversation id -> append order
	subscribers   map[string]map[*memoryFeed]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
		subscribers:   make(map[string]map[*memoryFeed]struct{}),
	}
}

// CreateConversation creates a new conversation owned by userID.
func (s *MemoryStore) CreateConversation(ctx context.Context, tenantID, userID, title string) (*model.Conversation, error) {
	now := time.Now()
	if title == "" {
		title = model.DefaultTitle(now)
	}

	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  tenantID,
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()

	out := *conv
	return &out, nil
}

// ListConversations returns all live conversations for a tenant, in no
// particular order. Callers sort.
func (s *MemoryStore) ListConversations(ctx context.Context, tenantID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []model.Conversation
	for _, conv := range s.conversations {
		if conv.TenantID != tenantID || conv.Deleted {
			continue
		}
		convs = append(convs, *conv)
	}
	return convs, nil
}

// GetConversation retrieves a conversation by id.
func (s *MemoryStore) GetConversation(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, err := s.lookup(tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	out := *conv
	return &out, nil
}

// UpdateConversationTitle renames a conversation.
func (s *MemoryStore) UpdateConversationTitle(ctx context.Context, tenantID, conversationID, title string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.lookup(tenantID, conversationID)
	if err != nil {
		return nil, err
	}

	conv.Title = title
	conv.UpdatedAt = time.Now()
	out := *conv
	return &out, nil
}

// DeleteConversation soft deletes a conversation.
func (s *MemoryStore) DeleteConversation(ctx context.Context, tenantID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.lookup(tenantID, conversationID)
	if err != nil {
		return err
	}

	conv.Deleted = true
	conv.UpdatedAt = time.Now()
	return nil
}

// CreateMessage appends a message, assigns its id and timestamp, bumps the
// conversation's UpdatedAt, and notifies live feeds with the full new set.
func (s *MemoryStore) CreateMessage(ctx context.Context, tenantID, conversationID, userID, content string, author model.AuthorKind) (*model.Message, error) {
	s.mu.Lock()

	conv, err := s.lookup(tenantID, conversationID)
	if err != nil {
		s.mu.Unlock()
		return nil, &WriteError{Op: "message", Err: err}
	}

	now := time.Now()
	msg := model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		TenantID:       tenantID,
		UserID:         userID,
		Author:         author,
		Content:        content,
		CreatedAt:      now,
	}

	s.messages[conversationID] = append(s.messages[conversationID], msg)
	conv.LastMessage = &msg
	if now.After(conv.UpdatedAt) {
		conv.UpdatedAt = now
	}

	full := s.snapshotLocked(conversationID)
	feeds := make([]*memoryFeed, 0, len(s.subscribers[conversationID]))
	for f := range s.subscribers[conversationID] {
		feeds = append(feeds, f)
	}
	s.mu.Unlock()

	for _, f := range feeds {
		f.emit(full)
	}

	return &msg, nil
}

// FetchMessages returns the current message set for a conversation.
func (s *MemoryStore) FetchMessages(ctx context.Context, tenantID, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.lookup(tenantID, conversationID); err != nil {
		return nil, &SnapshotError{ConversationID: conversationID, Err: err}
	}
	return s.snapshotLocked(conversationID), nil
}

// SubscribeMessages opens a live feed. The first emission is sent only on
// the next change; the snapshot path covers the initial state.
func (s *MemoryStore) SubscribeMessages(ctx context.Context, tenantID, conversationID string) (Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(tenantID, conversationID); err != nil {
		return nil, &FeedError{ConversationID: conversationID, Err: err}
	}

	f := &memoryFeed{
		store:          s,
		conversationID: conversationID,
		updates:        make(chan []model.Message, 16),
		errs:           make(chan error, 1),
	}
	if s.subscribers[conversationID] == nil {
		s.subscribers[conversationID] = make(map[*memoryFeed]struct{})
	}
	s.subscribers[conversationID][f] = struct{}{}

	return f, nil
}

// lookup must be called with the lock held.
func (s *MemoryStore) lookup(tenantID, conversationID string) (*model.Conversation, error) {
	conv, ok := s.conversations[conversationID]
	if !ok || conv.Deleted || conv.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return conv, nil
}

// snapshotLocked copies the current message set. Must be called with the
// lock held (read or write).
func (s *MemoryStore) snapshotLocked(conversationID string) []model.Message {
	msgs := s.messages[conversationID]
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}

type memoryFeed struct {
	store          *MemoryStore
	conversationID string
	updates        chan []model.Message
	errs           chan error

	mu     sync.Mutex
	closed bool
}

func (f *memoryFeed) Updates() <-chan []model.Message { return f.updates }

func (f *memoryFeed) Errs() <-chan error { return f.errs }

func (f *memoryFeed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()

	f.store.mu.Lock()
	delete(f.store.subscribers[f.conversationID], f)
	f.store.mu.Unlock()
	close(f.updates)
}

// emit delivers a full message set. Each emission supersedes the previous
// one, so when the subscriber lags we drop the oldest pending set rather
// than block the writer.
func (f *memoryFeed) emit(full []model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for {
		select {
		case f.updates <- full:
			return
		default:
			select {
			case <-f.updates:
			default:
			}
		}
	}
}
