package handler

import (
	"net/http"

	"github.com/pulse/internal/config"
)

// ConfigHandler exposes the client-facing part of the configuration.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// GetClientConfig returns the timings and limits the web client has to agree with.
func (h *ConfigHandler) GetClientConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{
		"typingStaleMs":   h.cfg.TypingStaleAfter.Milliseconds(),
		"maxUploadSizeMb": h.cfg.MaxUploadSize >> 20,
	})
}
