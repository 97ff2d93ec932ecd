package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-sync/internal/model"
	"github.com/capitalize-ai/chat-sync/internal/store"
	"github.com/capitalize-ai/chat-sync/pkg/logger"
)

// fakeStore overrides only the calls a test exercises.
type fakeStore struct {
	store.Store
	fetchMessages func(ctx context.Context, tenantID, conversationID string) ([]model.Message, error)
}

func (s *fakeStore) FetchMessages(ctx context.Context, tenantID, conversationID string) ([]model.Message, error) {
	return s.fetchMessages(ctx, tenantID, conversationID)
}

func listRequest(conversationID string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/"+conversationID+"/messages", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", conversationID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestMessageListReturnsNormalizedTimeline(t *testing.T) {
	conversationID := uuid.New().String()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	st := &fakeStore{
		fetchMessages: func(ctx context.Context, tenantID, cid string) ([]model.Message, error) {
			return []model.Message{
				{ID: "m2", ConversationID: cid, Content: "second", CreatedAt: base.Add(time.Second)},
				{ID: "m1", ConversationID: cid, Content: "first", CreatedAt: base},
			}, nil
		},
	}
	h := NewMessageHandler(st, nil, logger.NewNop())

	rec := httptest.NewRecorder()
	h.List(rec, listRequest(conversationID))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp model.ListMessagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	require.Equal(t, "m1", resp.Messages[0].ID)
	require.Equal(t, "m2", resp.Messages[1].ID)
}

func TestMessageListUnknownConversation(t *testing.T) {
	st := &fakeStore{
		fetchMessages: func(ctx context.Context, tenantID, cid string) ([]model.Message, error) {
			return nil, &store.SnapshotError{ConversationID: cid, Err: store.ErrNotFound}
		},
	}
	h := NewMessageHandler(st, nil, logger.NewNop())

	rec := httptest.NewRecorder()
	h.List(rec, listRequest(uuid.New().String()))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessageListSnapshotFailureIsNotMisreportedAsMissing(t *testing.T) {
	st := &fakeStore{
		fetchMessages: func(ctx context.Context, tenantID, cid string) ([]model.Message, error) {
			return nil, &store.SnapshotError{ConversationID: cid, Err: errors.New("consumer create timed out")}
		},
	}
	h := NewMessageHandler(st, nil, logger.NewNop())

	rec := httptest.NewRecorder()
	h.List(rec, listRequest(uuid.New().String()))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "failed to load messages")
}
