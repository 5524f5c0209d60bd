package credential

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ServiceVerifier asks an external auth service to validate the request's
// signed session headers (X-Session-Id, X-Timestamp, X-Signature).
type ServiceVerifier struct {
	url    string
	client *http.Client
}

func NewServiceVerifier(authServiceURL string, client *http.Client) *ServiceVerifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &ServiceVerifier{url: strings.TrimRight(authServiceURL, "/"), client: client}
}

func (v *ServiceVerifier) Verify(r *http.Request) (string, error) {
	sessionID := headerOrQuery(r, "X-Session-Id", "session_id")
	timestamp := headerOrQuery(r, "X-Timestamp", "timestamp")
	signature := headerOrQuery(r, "X-Signature", "signature")
	if sessionID == "" || timestamp == "" || signature == "" {
		return "", ErrNoCredentials
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return "", fmt.Errorf("credential.ServiceVerifier read body: %w", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	// Multipart requests are signed with an empty body.
	bodyForSignature := string(body)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		bodyForSignature = ""
	}

	payload, _ := json.Marshal(map[string]string{
		"session_id": sessionID,
		"timestamp":  timestamp,
		"signature":  signature,
		"method":     r.Method,
		"path":       r.URL.Path,
		"body":       bodyForSignature,
	})
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, v.url+"/internal/validate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("credential.ServiceVerifier: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: auth service: %v", ErrInvalidCredentials, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: auth service status %d", ErrInvalidCredentials, resp.StatusCode)
	}
	var result struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.UserID == "" {
		return "", fmt.Errorf("%w: auth service response", ErrInvalidCredentials)
	}
	return result.UserID, nil
}

func headerOrQuery(r *http.Request, header, query string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(query)
}
