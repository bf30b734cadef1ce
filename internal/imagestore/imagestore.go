// Package imagestore turns generated image bytes into a reference a client can load.
package imagestore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/nerdneilsfield/dreamforge/internal/config"
)

// Providers.
const (
	ProviderLocal   = "local"
	ProviderMinIO   = "minio"
	ProviderDataURI = "datauri"
)

// ErrNotImage is returned for payloads that are not a recognizable image.
var ErrNotImage = errors.New("payload is not an image")

// Store persists image bytes and returns their reference.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
}

// New builds the store selected by cfg.Provider.
func New(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "", ProviderLocal:
		return NewLocal(cfg.LocalDir, cfg.PublicBaseURL)
	case ProviderMinIO:
		return NewMinIO(ctx, cfg.MinIO, cfg.PublicBaseURL, logger)
	case ProviderDataURI:
		return DataURI{}, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// sniff returns the detected image type for data.
func sniff(data []byte) (*mimetype.MIME, error) {
	if len(data) == 0 {
		return nil, ErrNotImage
	}
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrNotImage, mtype.String())
	}
	return mtype, nil
}

// ObjectKey 使用 BLAKE2b-128 生成内容寻址的对象名，相同图片得到相同 key
func ObjectKey(data []byte, ext string) (string, error) {
	h, err := blake2b.New(16, nil)
	if err != nil {
		return "", fmt.Errorf("create blake2b-128 hasher: %w", err)
	}
	if _, err := h.Write(data); err != nil {
		return "", fmt.Errorf("hash image: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)) + ext, nil
}
