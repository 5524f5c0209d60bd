package handler

import (
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pulse/internal/fileserver"
)

// FileHandler serves stored media, either from the local upload directory or
// by proxying the files service.
type FileHandler struct {
	fileSvc    *fileserver.Service
	fileClient *http.Client
	fileBase   string
}

// NewFileHandler serves from files when serviceURL is empty and proxies to
// serviceURL otherwise.
func NewFileHandler(files *fileserver.Service, serviceURL string) *FileHandler {
	if serviceURL == "" {
		return &FileHandler{fileSvc: files}
	}
	return &FileHandler{
		fileClient: &http.Client{Timeout: 60 * time.Second},
		fileBase:   strings.TrimSuffix(serviceURL, "/"),
	}
}

func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(chi.URLParam(r, "filename"))
	if h.fileSvc != nil {
		h.fileSvc.Serve(w, r, filename)
		return
	}

	proxyURL := h.fileBase + "/files/" + url.PathEscape(filename)
	if name := r.URL.Query().Get("name"); name != "" {
		proxyURL += "?name=" + url.QueryEscape(name)
	}
	proxyReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, proxyURL, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp, err := h.fileClient.Do(proxyReq)
	if err != nil {
		writeError(w, http.StatusBadGateway, "file service unavailable")
		return
	}
	defer resp.Body.Close()
	for k, v := range resp.Header {
		if strings.EqualFold(k, "Content-Length") || strings.EqualFold(k, "Content-Type") ||
			strings.EqualFold(k, "Content-Disposition") || strings.EqualFold(k, "Cache-Control") {
			w.Header()[k] = v
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
