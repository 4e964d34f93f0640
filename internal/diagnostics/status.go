package diagnostics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the serialized snapshot written on every watcher state change.
// Field names match the status object the browser extension exposed.
type Status struct {
	Version           string  `json:"version"`
	Initialized       bool    `json:"initialized"`
	Enabled           bool    `json:"enabled"`
	ListenButtonCount int     `json:"listenButtonCount"`
	IsGenerating      bool    `json:"isGenerating"`
	IsProcessing      bool    `json:"isProcessing"`
	ClickAttempts     int     `json:"clickAttempts"`
	ClickSuccesses    int     `json:"clickSuccesses"`
	ClickFailures     int     `json:"clickFailures"`
	LastEvent         string  `json:"lastEvent"`
	LastEventTime     int64   `json:"lastEventTime"` // unix milliseconds, 0 when no event yet
	Logs              []Entry `json:"logs"`
}

// Exporter keeps the latest Status and mirrors it to an inspectable file.
type Exporter struct {
	mu       sync.RWMutex
	path     string
	current  Status
	revision int
	// unsaved is set while the file lags behind current after a failed write.
	unsaved bool
	logger  *zap.Logger
}

// NewExporter creates an exporter writing to path; an empty path keeps the
// status in memory only.
func NewExporter(path string, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		path:    path,
		logger:  logger,
		current: Status{Logs: []Entry{}},
	}
}

// Publish stores status and rewrites the export file when it changed.
func (e *Exporter) Publish(status Status) error {
	if status.Logs == nil {
		status.Logs = []Entry{}
	}

	e.mu.Lock()
	if e.revision > 0 && !e.unsaved && reflect.DeepEqual(e.current, status) {
		e.mu.Unlock()
		return nil
	}
	e.current = status
	e.revision++
	e.mu.Unlock()

	if e.path == "" {
		return nil
	}
	err := writeJSONAtomic(e.path, status)

	e.mu.Lock()
	e.unsaved = err != nil
	e.mu.Unlock()
	if err != nil {
		e.logger.Warn("status export failed", zap.String("path", e.path), zap.Error(err))
		return err
	}
	return nil
}

// Revision counts the distinct statuses published so far.
func (e *Exporter) Revision() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.revision
}

// Current returns a copy of the last published status.
func (e *Exporter) Current() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := e.current
	out.Logs = append([]Entry(nil), e.current.Logs...)
	return out
}

// Path is the export file location.
func (e *Exporter) Path() string {
	return e.path
}

// ReadStatusFile loads a status previously written by an Exporter.
func ReadStatusFile(path string) (Status, error) {
	var status Status
	data, err := os.ReadFile(path)
	if err != nil {
		return status, err
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return status, fmt.Errorf("decode status %s: %w", path, err)
	}
	return status, nil
}

// LastEventAt converts LastEventTime back into a time.
func (s Status) LastEventAt() time.Time {
	if s.LastEventTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.LastEventTime)
}

// writeJSONAtomic writes via a temp file and rename so readers never see a torn file.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".status-*.json")
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
