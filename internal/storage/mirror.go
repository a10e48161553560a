package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-crawler/internal/crawler"
)

// Mirror writes every object to a primary store and, best effort, to a
// secondary one. Only the primary result is reported to callers.
type Mirror struct {
	primary   crawler.BlobStore
	secondary crawler.BlobStore
	logger    *zap.Logger
}

// NewMirror builds a Mirror. secondary may be nil, in which case the mirror
// behaves exactly like primary.
func NewMirror(primary, secondary crawler.BlobStore, logger *zap.Logger) (*Mirror, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{primary: primary, secondary: secondary, logger: logger}, nil
}

// Prepare prepares the primary store when it needs it.
func (m *Mirror) Prepare(ctx context.Context) error {
	if p, ok := m.primary.(crawler.Preparer); ok {
		if err := p.Prepare(ctx); err != nil {
			return fmt.Errorf("prepare primary store: %w", err)
		}
	}
	return nil
}

// PutObject writes to the primary store, then copies to the secondary.
func (m *Mirror) PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error) {
	payload, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read object: %w", err)
	}
	uri, err := m.primary.PutObject(ctx, path, contentType, bytes.NewReader(payload))
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	if m.secondary == nil {
		return uri, nil
	}
	mirrorURI, err := m.secondary.PutObject(ctx, path, contentType, bytes.NewReader(payload))
	if err != nil {
		m.logger.Warn("mirror write failed", zap.String("artifact", path), zap.Error(err))
		return uri, nil
	}
	m.logger.Debug("artifact mirrored", zap.String("artifact", path), zap.String("uri", mirrorURI))
	return uri, nil
}
