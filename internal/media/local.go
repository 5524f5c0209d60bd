package media

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/pulse/internal/fileserver"
	"github.com/pulse/internal/logger"
)

// Local stores images through an in-process fileserver.
type Local struct {
	files *fileserver.Service
}

func NewLocal(files *fileserver.Service) *Local {
	return &Local{files: files}
}

func (l *Local) Upload(ctx context.Context, payload string) (string, error) {
	defer logger.DeferLogDuration("media.Local.Upload", time.Now())()
	data, ext, err := Decode(payload)
	if err != nil {
		return "", err
	}
	url, _, err := l.files.Save(ctx, ext, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("media.Local.Upload: %w", err)
	}
	return url, nil
}
