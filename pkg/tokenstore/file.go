package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// File stores the token in a file, readable only by its owner.
type File struct {
	Path string

	// Now is used for expiry checks. Defaults to time.Now.
	Now func() time.Time

	logger zerolog.Logger
}

var _ Store = (*File)(nil)

func NewFile(path string, log zerolog.Logger) *File {
	return &File{Path: path, logger: log}
}

func (f *File) Load() (string, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return usable("", f.now())
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return usable(strings.TrimSpace(string(raw)), f.now())
}

// Save replaces the token atomically.
func (f *File) Save(token string) error {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("save token: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(token + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("save token: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("save token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (f *File) Clear() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}

// Watch follows the token file. The parent directory is watched so that
// atomic replacement and removal are both seen. Only changes of the usable
// value are emitted.
func (f *File) Watch(ctx context.Context) (<-chan string, error) {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("watch token: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch token: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch token: %w", err)
	}

	last, _ := f.Load()
	out := make(chan string, 1)
	target := filepath.Clean(f.Path)

	go func() {
		defer close(out)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || (ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write)) {
					continue
				}
				token, err := f.Load()
				if err != nil && !absent(err) {
					f.logger.Warn().Err(err).Str("path", f.Path).Msg("token file unreadable")
					continue
				}
				if token == last {
					continue
				}
				last = token
				f.logger.Debug().Bool("present", token != "").Msg("token changed")
				replaceLatest(out, token)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.logger.Warn().Err(err).Msg("token watch error")
			}
		}
	}()
	return out, nil
}

func (f *File) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}
