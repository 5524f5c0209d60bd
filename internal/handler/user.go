package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/media"
	"github.com/pulse/internal/middleware"
	"github.com/pulse/internal/storage"
)

type UserHandler struct {
	users    storage.Directory
	media    media.Store
	presence Presence
	maxBody  int64
}

func NewUserHandler(users storage.Directory, mediaStore media.Store, presence Presence, maxBody int64) *UserHandler {
	return &UserHandler{users: users, media: mediaStore, presence: presence, maxBody: maxBody}
}

// CheckAuth returns the caller's profile.
func (h *UserHandler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		logger.Errorf("check auth user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	writeJSON(w, http.StatusOK, user.ToPublic())
}

type updateProfileRequest struct {
	ProfilePic string `json:"profilePic"`
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req updateProfileRequest
	if !decodeJSON(w, r, h.maxBody, &req) {
		return
	}
	if strings.TrimSpace(req.ProfilePic) == "" {
		writeError(w, http.StatusBadRequest, "profile pic is required")
		return
	}
	if h.media == nil {
		writeError(w, http.StatusServiceUnavailable, "media storage not configured")
		return
	}

	url, err := h.media.Upload(r.Context(), req.ProfilePic)
	if err != nil {
		if errors.Is(err, media.ErrInvalidPayload) {
			writeError(w, http.StatusBadRequest, "invalid image")
			return
		}
		logger.Errorf("update profile upload user=%s: %v", userID, err)
		writeError(w, http.StatusBadGateway, "media upload failed")
		return
	}

	user, err := h.users.UpdateProfilePic(r.Context(), userID, url)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		logger.Errorf("update profile user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, user.ToPublic())
}

// GetOnlineUsers returns the ids of every user with a live connection.
func (h *UserHandler) GetOnlineUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.presence.OnlineUserIDs())
}
