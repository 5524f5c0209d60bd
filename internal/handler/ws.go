package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pulse/internal/credential"
	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	verifier       credential.Verifier
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewWSHandler builds the WebSocket endpoint. allowedOrigins follows the CORS
// list; "*" or an empty list admits any origin.
func NewWSHandler(hub *ws.Hub, verifier credential.Verifier, allowedOrigins []string) *WSHandler {
	h := &WSHandler{hub: hub, verifier: verifier, allowedOrigins: allowedOrigins}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || len(h.allowedOrigins) == 0 {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// identity resolves who the socket belongs to. A socket without usable
// credentials is still accepted but stays out of presence and typing.
func (h *WSHandler) identity(r *http.Request) string {
	claimed := r.URL.Query().Get("userId")
	if h.verifier == nil {
		return claimed
	}
	userID, err := h.verifier.Verify(r)
	if err != nil {
		if !errors.Is(err, credential.ErrNoCredentials) {
			logger.Warnf("ws credentials rejected claimed=%s: %v", claimed, err)
		}
		return ""
	}
	if ws.TrackableUserID(claimed) && claimed != userID {
		logger.Warnf("ws userId=%s does not match credentials user=%s, using credentials", claimed, userID)
	}
	return userID
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	userID := h.identity(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn, userID)
	logger.Debugf("ws upgraded user=%s conn=%s tracked=%v", client.UserID(), client.ID(), client.Tracked())
	h.hub.Register(client)
	client.Start()
}
