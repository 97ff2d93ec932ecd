package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/chat-sync/internal/middleware"
	"github.com/capitalize-ai/chat-sync/internal/model"
	"github.com/capitalize-ai/chat-sync/internal/pipeline"
	"github.com/capitalize-ai/chat-sync/internal/store"
	"github.com/capitalize-ai/chat-sync/internal/timeline"
	"github.com/capitalize-ai/chat-sync/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	store    store.Store
	pipeline *pipeline.Pipeline
	logger   *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(st store.Store, p *pipeline.Pipeline, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		store:    st,
		pipeline: p,
		logger:   log,
	}
}

// List handles GET /api/v1/conversations/{id}/messages. It is a one-shot
// read of the conversation timeline, normalized the same way the live view is.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := h.store.FetchMessages(ctx, tenantID, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		// A snapshot failure for an existing conversation is an
		// infrastructure problem, not a missing resource.
		h.logger.Error("failed to load messages")
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	writeJSON(w, http.StatusOK, &model.ListMessagesResponse{
		Messages: timeline.Normalize(msgs),
	})
}

// SendResponse reports one send invocation's terminal status. The reply
// itself reaches clients through the live stream, not this response.
type SendResponse struct {
	Outcome     pipeline.Outcome `json:"outcome"`
	UserMessage *model.Message   `json:"user_message,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
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

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := h.pipeline.Send(ctx, tenantID, conversationID, userID, req.Content)

	resp := &SendResponse{
		Outcome:     res.Outcome,
		UserMessage: res.UserMessage,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}

	writeJSON(w, statusForOutcome(res.Outcome), resp)
}

// statusForOutcome maps terminal pipeline outcomes to HTTP statuses so
// clients can phrase each failure differently.
func statusForOutcome(outcome pipeline.Outcome) int {
	switch outcome {
	case pipeline.OutcomeDone:
		return http.StatusCreated
	case pipeline.OutcomeNoop:
		return http.StatusBadRequest
	case pipeline.OutcomeFailedUserWrite:
		return http.StatusInternalServerError
	case pipeline.OutcomeFailedResponder:
		return http.StatusBadGateway
	case pipeline.OutcomeResponderRejected, pipeline.OutcomeInvalidReply:
		return http.StatusUnprocessableEntity
	case pipeline.OutcomeFailedReplyWrite:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
