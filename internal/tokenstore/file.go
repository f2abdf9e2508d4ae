package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pribylovaa/go-marketplace-client/internal/models"
)

// File - JSON-документ {"accessToken": "...", "refreshToken": "..."}.
// Запись атомарна (временный файл + rename), права 0600.
// accessTTL не сохраняется: на диске нет ничего, кроме двух ключей.
type File struct {
	mu   sync.Mutex
	path string
}

func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("tokenstore.NewFile: empty path")
	}

	return &File{path: path}, nil
}

func (f *File) AccessToken(context.Context) (string, error) {
	pair, err := f.read()
	return pair.AccessToken, err
}

func (f *File) RefreshToken(context.Context) (string, error) {
	pair, err := f.read()
	return pair.RefreshToken, err
}

func (f *File) SetTokens(_ context.Context, pair models.TokenPair, _ time.Duration) error {
	const op = "tokenstore.File.SetTokens"

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%s: mkdir: %w", op, err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("%s: temp: %w", op, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%s: write: %w", op, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%s: chmod: %w", op, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%s: close: %w", op, err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("%s: rename: %w", op, err)
	}

	return nil
}

func (f *File) ClearTokens(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("tokenstore.File.ClearTokens: %w", err)
	}

	return nil
}

func (f *File) Close() error { return nil }

func (f *File) read() (models.TokenPair, error) {
	const op = "tokenstore.File.read"

	f.mu.Lock()
	defer f.mu.Unlock()

	var pair models.TokenPair

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return pair, nil
	}
	if err != nil {
		return pair, fmt.Errorf("%s: %w", op, err)
	}

	if err := json.Unmarshal(data, &pair); err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: decode: %w", op, err)
	}

	return pair, nil
}
