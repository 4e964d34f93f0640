package settings

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestReadEnabledDefaults(t *testing.T) {
	dir := t.TempDir()

	v, err := ReadEnabled(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.True(t, v, "absent file means enabled")

	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"other": 1}`), 0o644))
	v, err = ReadEnabled(path)
	require.NoError(t, err)
	assert.True(t, v, "absent key means enabled")

	require.NoError(t, os.WriteFile(path, []byte(`{"autoListenEnabled": null}`), 0o644))
	v, err = ReadEnabled(path)
	require.NoError(t, err)
	assert.True(t, v)

	require.NoError(t, os.WriteFile(path, []byte(`{"autoListenEnabled": false}`), 0o644))
	v, err = ReadEnabled(path)
	require.NoError(t, err)
	assert.False(t, v)
}

func TestReadEnabledErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0o644))
	_, err := ReadEnabled(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"autoListenEnabled": "yes"}`), 0o644))
	_, err = ReadEnabled(path)
	assert.Error(t, err)
}

func TestLoadKeepsLastValueOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := NewStore(path, zaptest.NewLogger(t))
	require.NoError(t, s.SetEnabled(false))

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))
	v, err := s.Load()
	assert.Error(t, err)
	assert.False(t, v)
	assert.False(t, s.Enabled())
}

func TestSetEnabledPreservesOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"theme": "dark"}`), 0o644))

	s := NewStore(path, nil)
	require.NoError(t, s.SetEnabled(false))
	assert.False(t, s.Enabled())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "dark", doc["theme"])
	assert.Equal(t, false, doc[Key])

	require.NoError(t, s.SetEnabled(true))
	v, err := ReadEnabled(path)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestWatchReportsExternalChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "settings.json")
	s := NewStore(path, zaptest.NewLogger(t))
	_, err := s.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan bool, 4)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, func(v bool) { changes <- v })
	}()

	// A second store stands in for the CLI writing the file.
	writer := NewStore(path, nil)
	require.Eventually(t, func() bool {
		_ = writer.SetEnabled(false)
		select {
		case v := <-changes:
			return !v
		case <-time.After(300 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, s.Enabled())

	cancel()
	require.NoError(t, <-done)
}
