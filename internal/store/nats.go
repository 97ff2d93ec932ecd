package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-sync/internal/model"
	"github.com/capitalize-ai/chat-sync/internal/natsconn"
	"github.com/capitalize-ai/chat-sync/pkg/logger"
)

const (
	// StreamName is the JetStream stream holding all conversation messages.
	StreamName = "CHAT_MESSAGES"

	// subjectPrefix is the prefix for all message subjects.
	subjectPrefix = "chat"
)

// NATSStore persists messages in a JetStream stream. Conversation metadata
// is kept in memory alongside it (a database would take its place in a
// larger deployment); message history is durable and replayable.
type NATSStore struct {
	client *natsconn.Client
	log    *logger.Logger

	mu            sync.RWMutex
	conversations map[string]*model.Conversation
}

// NewNATSStore creates a store backed by the given NATS client and ensures
// the message stream exists.
func NewNATSStore(ctx context.Context, client *natsconn.Client, log *logger.Logger) (*NATSStore, error) {
	s := &NATSStore{
		client:        client,
		log:           log,
		conversations: make(map[string]*model.Conversation),
	}
	if err := s.ensureStream(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *NATSStore) ensureStream(ctx context.Context) error {
	js := s.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", subjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "All conversation messages",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

func messageSubject(tenantID, conversationID string, author model.AuthorKind) string {
	return fmt.Sprintf("%s.%s.%s.msg.%s", subjectPrefix, tenantID, conversationID, author)
}

func conversationFilter(tenantID, conversationID string) string {
	return fmt.Sprintf("%s.%s.%s.msg.>", subjectPrefix, tenantID, conversationID)
}

// CreateConversation creates a new conversation owned by userID.
func (s *NATSStore) CreateConversation(ctx context.Context, tenantID, userID, title string) (*model.Conversation, error) {
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

// ListConversations returns all live conversations for a tenant.
func (s *NATSStore) ListConversations(ctx context.Context, tenantID string) ([]model.Conversation, error) {
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
func (s *NATSStore) GetConversation(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error) {
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
func (s *NATSStore) UpdateConversationTitle(ctx context.Context, tenantID, conversationID, title string) (*model.Conversation, error) {
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

// DeleteConversation soft deletes a conversation. Its messages stay in the
// stream; the stream denies deletes by policy.
func (s *NATSStore) DeleteConversation(ctx context.Context, tenantID, conversationID string) error {
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

// CreateMessage publishes one message to the stream. The message is durable
// once the publish is acked; live feeds pick it up from the stream.
func (s *NATSStore) CreateMessage(ctx context.Context, tenantID, conversationID, userID, content string, author model.AuthorKind) (*model.Message, error) {
	s.mu.RLock()
	_, err := s.lookup(tenantID, conversationID)
	s.mu.RUnlock()
	if err != nil {
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

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, &WriteError{Op: "message", Err: err}
	}

	if _, err := s.client.JetStream().Publish(ctx, messageSubject(tenantID, conversationID, author), data); err != nil {
		return nil, &WriteError{Op: "message", Err: err}
	}

	s.mu.Lock()
	if conv, lerr := s.lookup(tenantID, conversationID); lerr == nil {
		conv.LastMessage = &msg
		if now.After(conv.UpdatedAt) {
			conv.UpdatedAt = now
		}
	}
	s.mu.Unlock()

	return &msg, nil
}

// FetchMessages replays the conversation's messages from the stream via an
// ephemeral consumer.
func (s *NATSStore) FetchMessages(ctx context.Context, tenantID, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	_, err := s.lookup(tenantID, conversationID)
	s.mu.RUnlock()
	if err != nil {
		return nil, &SnapshotError{ConversationID: conversationID, Err: err}
	}

	js := s.client.JetStream()
	consumer, err := js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: conversationFilter(tenantID, conversationID),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, &SnapshotError{ConversationID: conversationID, Err: err}
	}

	var messages []model.Message
	for {
		batch, err := consumer.Fetch(100, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return nil, &SnapshotError{ConversationID: conversationID, Err: err}
		}

		n := 0
		for raw := range batch.Messages() {
			var msg model.Message
			if err := json.Unmarshal(raw.Data(), &msg); err != nil {
				s.log.Warn("skipping undecodable message", zap.Error(err))
				continue
			}
			messages = append(messages, msg)
			n++
		}
		if batch.Error() != nil {
			return nil, &SnapshotError{ConversationID: conversationID, Err: batch.Error()}
		}
		if n < 100 {
			return messages, nil
		}
	}
}

// SubscribeMessages opens a live feed. JetStream delivers messages one at a
// time, replaying the conversation's history first; the feed accumulates
// deliveries and emits the full current set, holding emissions until the
// backlog present at subscribe time has drained so the merger never sees a
// prefix of the history as if it were the whole conversation.
func (s *NATSStore) SubscribeMessages(ctx context.Context, tenantID, conversationID string) (Feed, error) {
	s.mu.RLock()
	_, err := s.lookup(tenantID, conversationID)
	s.mu.RUnlock()
	if err != nil {
		return nil, &FeedError{ConversationID: conversationID, Err: err}
	}

	js := s.client.JetStream()
	consumer, err := js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: conversationFilter(tenantID, conversationID),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, &FeedError{ConversationID: conversationID, Err: err}
	}

	info, err := consumer.Info(ctx)
	if err != nil {
		return nil, &FeedError{ConversationID: conversationID, Err: err}
	}

	f := &natsFeed{
		conversationID: conversationID,
		updates:        make(chan []model.Message, 16),
		errs:           make(chan error, 1),
		replay:         info.NumPending,
	}

	cc, err := consumer.Consume(func(raw jetstream.Msg) {
		var msg model.Message
		if err := json.Unmarshal(raw.Data(), &msg); err != nil {
			s.log.Warn("skipping undecodable message", zap.Error(err))
			return
		}
		f.append(msg)
	}, jetstream.ConsumeErrHandler(func(cc jetstream.ConsumeContext, err error) {
		select {
		case f.errs <- &FeedError{ConversationID: conversationID, Err: err}:
		default:
		}
	}))
	if err != nil {
		return nil, &FeedError{ConversationID: conversationID, Err: err}
	}
	f.cc = cc

	return f, nil
}

func (s *NATSStore) lookup(tenantID, conversationID string) (*model.Conversation, error) {
	conv, ok := s.conversations[conversationID]
	if !ok || conv.Deleted || conv.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return conv, nil
}

type natsFeed struct {
	conversationID string
	cc             jetstream.ConsumeContext
	updates        chan []model.Message
	errs           chan error

	mu     sync.Mutex
	all    []model.Message
	replay uint64 // deliveries left before the backlog at subscribe is drained
	closed bool
}

func (f *natsFeed) Updates() <-chan []model.Message { return f.updates }

func (f *natsFeed) Errs() <-chan error { return f.errs }

func (f *natsFeed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()

	if f.cc != nil {
		f.cc.Stop()
	}
	close(f.updates)
}

func (f *natsFeed) append(msg model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}

	f.all = append(f.all, msg)

	// Replayed history arrives one message at a time. Emitting those
	// partial sets would break the full-set contract, so nothing goes out
	// until the replay catches up to where the stream was at subscribe.
	if f.replay > 0 {
		f.replay--
		if f.replay > 0 {
			return
		}
	}

	full := make([]model.Message, len(f.all))
	copy(full, f.all)

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
