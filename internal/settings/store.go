// Package settings persists the single user-facing toggle and notifies the
// watcher when it changes on disk.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Key is the JSON field holding the flag.
const Key = "autoListenEnabled"

// FileChangeDebounce is how long to wait after a file change before reloading.
const FileChangeDebounce = 150 * time.Millisecond

// Store holds the last known value of the enabled flag.
type Store struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	enabled bool
}

// NewStore creates a store for path. The flag starts enabled until Load says otherwise.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger, enabled: true}
}

// Path is the settings file location.
func (s *Store) Path() string {
	return s.path
}

// Enabled returns the last known value.
func (s *Store) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// Load re-reads the file. On error the last known value is kept and returned.
func (s *Store) Load() (bool, error) {
	v, err := ReadEnabled(s.path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		return s.enabled, err
	}
	s.enabled = v
	return v, nil
}

// SetEnabled writes the flag, preserving any other keys in the file.
func (s *Store) SetEnabled(v bool) error {
	doc, err := readDocument(s.path)
	if err != nil {
		return err
	}
	raw, _ := json.Marshal(v)
	doc[Key] = raw

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	s.mu.Lock()
	s.enabled = v
	s.mu.Unlock()
	return nil
}

// Watch follows the settings file until ctx is done, calling onChange with
// each new value. Read failures are logged and the last value kept.
func (s *Store) Watch(ctx context.Context, onChange func(bool)) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer fsWatcher.Close()

	// Watch the directory: editors and our own writes replace the file.
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("settings dir: %w", err)
	}
	if err := fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	name := filepath.Base(s.path)

	var debounce *time.Timer
	var debounceC <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(FileChangeDebounce)
				debounceC = debounce.C
			} else {
				debounce.Reset(FileChangeDebounce)
			}

		case <-debounceC:
			debounce = nil
			debounceC = nil
			before := s.Enabled()
			after, err := s.Load()
			if err != nil {
				s.logger.Warn("settings unreadable, keeping last value",
					zap.String("path", s.path), zap.Bool("enabled", after), zap.Error(err))
				continue
			}
			if after != before {
				s.logger.Info("settings changed", zap.Bool("enabled", after))
				onChange(after)
			}

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}

// ReadEnabled reads the flag from path. A missing file or key means enabled.
func ReadEnabled(path string) (bool, error) {
	doc, err := readDocument(path)
	if err != nil {
		return true, err
	}
	raw, ok := doc[Key]
	if !ok {
		return true, nil
	}
	var v *bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return true, fmt.Errorf("%s is not a boolean: %w", Key, err)
	}
	if v == nil {
		return true, nil
	}
	return *v, nil
}

func readDocument(path string) (map[string]json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode settings %s: %w", path, err)
	}
	return doc, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
