package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// MaxRotatedFiles is how many report files survive across runs.
const MaxRotatedFiles = 3

// FileSink appends reports as JSON lines to one file per run, keeping only
// the newest MaxRotatedFiles files in dir.
type FileSink struct {
	mu      sync.Mutex
	dir     string
	file    *os.File
	encoder *json.Encoder
}

// NewFileSink creates dir and opens a fresh report file for runID.
func NewFileSink(dir, runID string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &FileSink{dir: dir}
	if err := s.rotate(); err != nil {
		return nil, fmt.Errorf("rotate reports: %w", err)
	}

	filename := fmt.Sprintf("reports_%s_%d.jsonl", runID, time.Now().UnixMilli())
	f, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return nil, err
	}
	s.file = f
	s.encoder = json.NewEncoder(f)
	return s, nil
}

// Path is the file receiving this run's reports.
func (s *FileSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ""
	}
	return s.file.Name()
}

// Report writes r as one line.
func (s *FileSink) Report(_ context.Context, r Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.encoder == nil {
		return os.ErrClosed
	}
	return s.encoder.Encode(r)
}

// rotate keeps only the newest MaxRotatedFiles-1 files to make room for a new one.
func (s *FileSink) rotate() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	type reportFile struct {
		name string
		mod  time.Time
	}
	var files []reportFile
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, reportFile{e.Name(), info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].mod.After(files[j].mod)
	})

	keep := MaxRotatedFiles - 1
	for i := keep; i < len(files); i++ {
		_ = os.Remove(filepath.Join(s.dir, files[i].name))
	}
	return nil
}

// Close finishes the current file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.encoder = nil
	return err
}
