package imagestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalRoute is the URL prefix under which local images are served.
const LocalRoute = "/images/"

// Local writes images to a directory on disk.
type Local struct {
	dir     string
	baseURL string
}

func NewLocal(dir, publicBaseURL string) (*Local, error) {
	if dir == "" {
		return nil, errors.New("local image directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}
	return &Local{dir: dir, baseURL: strings.TrimSuffix(publicBaseURL, "/")}, nil
}

func (l *Local) Dir() string { return l.dir }

func (l *Local) Put(_ context.Context, data []byte) (string, error) {
	mtype, err := sniff(data)
	if err != nil {
		return "", err
	}
	key, err := ObjectKey(data, mtype.Extension())
	if err != nil {
		return "", err
	}

	path := filepath.Join(l.dir, key)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		tmp, err := os.CreateTemp(l.dir, ".upload-*")
		if err != nil {
			return "", fmt.Errorf("create temp image: %w", err)
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return "", fmt.Errorf("write image: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return "", fmt.Errorf("close image: %w", err)
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			os.Remove(tmp.Name())
			return "", fmt.Errorf("store image: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("stat image: %w", err)
	}

	return l.baseURL + LocalRoute + key, nil
}
