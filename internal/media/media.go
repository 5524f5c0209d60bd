// Package media turns inline image payloads into durable URLs.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

var ErrInvalidPayload = errors.New("invalid image payload")

// Store resolves an image payload to a durable URL.
type Store interface {
	Upload(ctx context.Context, payload string) (string, error)
}

var extByMime = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Decode accepts a data URL (data:image/png;base64,...) or bare base64 and
// returns the bytes with the file extension matching their format.
func Decode(payload string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, "", ErrInvalidPayload
	}

	declared := ""
	if strings.HasPrefix(payload, "data:") {
		meta, data, ok := strings.Cut(payload[len("data:"):], ",")
		if !ok || !strings.HasSuffix(meta, ";base64") {
			return nil, "", ErrInvalidPayload
		}
		declared = strings.ToLower(strings.TrimSuffix(meta, ";base64"))
		payload = data
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", ErrInvalidPayload
		}
	}
	if len(raw) == 0 {
		return nil, "", ErrInvalidPayload
	}

	sniffed := http.DetectContentType(raw)
	ext, ok := extByMime[sniffed]
	if !ok {
		return nil, "", ErrInvalidPayload
	}
	if declared != "" {
		if want, known := extByMime[declared]; !known || want != ext {
			return nil, "", ErrInvalidPayload
		}
	}
	return raw, ext, nil
}
