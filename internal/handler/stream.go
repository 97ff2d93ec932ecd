package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/chat-sync/internal/middleware"
	"github.com/capitalize-ai/chat-sync/internal/model"
	"github.com/capitalize-ai/chat-sync/internal/pipeline"
	"github.com/capitalize-ai/chat-sync/internal/session"
	"github.com/capitalize-ai/chat-sync/internal/store"
	"github.com/capitalize-ai/chat-sync/internal/timeline"
	"github.com/capitalize-ai/chat-sync/pkg/logger"
	"github.com/capitalize-ai/chat-sync/pkg/metrics"
)

// StreamHandler serves the merged timeline over SSE. Each connection gets
// its own session whose activation lives exactly as long as the connection.
type StreamHandler struct {
	store    store.Store
	merger   *timeline.Merger
	pipeline *pipeline.Pipeline
	logger   *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(st store.Store, m *timeline.Merger, p *pipeline.Pipeline, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		store:    st,
		merger:   m,
		pipeline: p,
		logger:   log,
	}
}

// timelineEvent is the wire shape of one derived timeline state.
type timelineEvent struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []model.Message `json:"messages"`
	Live           bool            `json:"live"`
	Loaded         bool            `json:"loaded"`
	Error          string          `json:"error,omitempty"`
	FeedError      string          `json:"feed_error,omitempty"`
}

// Stream handles GET /api/v1/conversations/{id}/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.store.GetConversation(ctx, tenantID, conversationID); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sess := session.New(h.merger, h.pipeline, tenantID, userID, h.logger)
	activation := sess.Open(ctx, conversationID)
	defer sess.Close()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected")
			return

		case state, ok := <-activation.States():
			if !ok {
				return
			}
			ev := timelineEvent{
				ConversationID: state.ConversationID,
				Messages:       state.Messages,
				Live:           state.Live,
				Loaded:         state.Loaded,
			}
			if state.Err != nil {
				ev.Error = state.Err.Error()
			}
			if state.FeedErr != nil {
				ev.FeedError = state.FeedErr.Error()
			}
			sendSSEEvent(w, flusher, "timeline", ev)

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]int64{
				"ts": time.Now().Unix(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
