package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/middleware"
	"github.com/pulse/internal/model"
	"github.com/pulse/internal/service"
	"github.com/pulse/internal/storage"
)

const maxHistoryLimit = 500

// Presence answers who is connected right now. *ws.Registry implements it.
type Presence interface {
	IsOnline(userID string) bool
	OnlineUserIDs() []string
}

type MessageHandler struct {
	users    storage.Directory
	ledger   *service.Ledger
	pipeline *service.Pipeline
	presence Presence
	maxBody  int64
}

// NewMessageHandler builds the message endpoints. maxBody bounds the send
// request, which may carry an inline image.
func NewMessageHandler(users storage.Directory, ledger *service.Ledger, pipeline *service.Pipeline, presence Presence, maxBody int64) *MessageHandler {
	return &MessageHandler{users: users, ledger: ledger, pipeline: pipeline, presence: presence, maxBody: maxBody}
}

// GetContacts returns every other user for the sidebar, most recent conversation first.
func (h *MessageHandler) GetContacts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	contacts, err := h.users.ListContacts(r.Context(), userID)
	if err != nil {
		logger.Errorf("list contacts user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to get contacts")
		return
	}
	if contacts == nil {
		contacts = []model.Contact{}
	}
	for i := range contacts {
		contacts[i].Online = h.presence.IsOnline(contacts[i].ID)
	}
	writeJSON(w, http.StatusOK, contacts)
}

// GetMessages returns the conversation with {id}, oldest first, after marking
// everything {id} sent to the caller as read.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	otherID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())
	if otherID == "" || otherID == userID {
		writeError(w, http.StatusBadRequest, "invalid conversation")
		return
	}

	limit := queryInt(r, "limit", 0)
	if limit < 0 {
		limit = 0
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	messages, err := h.ledger.OpenConversation(r.Context(), userID, otherID, limit)
	if err != nil {
		logger.Errorf("open conversation user=%s other=%s: %v", userID, otherID, err)
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	receiverID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	var req service.SendInput
	if !decodeJSON(w, r, h.maxBody, &req) {
		return
	}
	msg, err := h.pipeline.Send(r.Context(), userID, receiverID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// MarkRead marks the conversation with {id} read without fetching it.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	otherID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())
	if otherID == "" || otherID == userID {
		writeError(w, http.StatusBadRequest, "invalid conversation")
		return
	}
	updated, err := h.ledger.MarkRead(r.Context(), otherID, userID)
	if err != nil {
		logger.Errorf("mark read from=%s to=%s: %v", otherID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to mark as read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}
