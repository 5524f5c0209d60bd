package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/pulse/internal/fileserver"
	"github.com/pulse/internal/logger"
)

// Remote uploads images to the files service over HTTP.
type Remote struct {
	baseURL    string
	publicBase string
	secret     string
	client     *http.Client
}

// NewRemote targets the files service at baseURL. publicBase, when set, is
// prepended to the returned path so browsers can reach it directly. secret is
// sent as X-Internal-Secret when the files service sits on another network.
func NewRemote(baseURL, publicBase, secret string, client *http.Client) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Remote{
		baseURL:    strings.TrimRight(baseURL, "/"),
		publicBase: strings.TrimRight(publicBase, "/"),
		secret:     secret,
		client:     client,
	}
}

func (r *Remote) Upload(ctx context.Context, payload string) (string, error) {
	defer logger.DeferLogDuration("media.Remote.Upload", time.Now())()
	data, ext, err := Decode(payload)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "image"+ext)
	if err != nil {
		return "", fmt.Errorf("media.Remote.Upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("media.Remote.Upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("media.Remote.Upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/upload", &body)
	if err != nil {
		return "", fmt.Errorf("media.Remote.Upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if r.secret != "" {
		req.Header.Set("X-Internal-Secret", r.secret)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("media.Remote.Upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("media.Remote.Upload: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out fileserver.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.URL == "" {
		return "", fmt.Errorf("media.Remote.Upload: bad response: %v", err)
	}
	if r.publicBase != "" && strings.HasPrefix(out.URL, "/") {
		return r.publicBase + out.URL, nil
	}
	return out.URL, nil
}
