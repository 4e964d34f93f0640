package mcp

import (
	"context"
	"errors"
	"fmt"

	"autolisten/internal/diagnostics"
)

// StatusTool returns the published status plus the live tracking state.
type StatusTool struct {
	watcher Controller
}

func (t *StatusTool) Name() string { return "autolisten-status" }
func (t *StatusTool) Description() string {
	return `Report what the auto-listen watcher is doing.

Returns: {status: {...counters, lastEvent, logs}, state: {lastStableCount, currentCount, isProcessing, ...}}
Set include_logs=false to drop the diagnostic log from the status.`
}
func (t *StatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"include_logs": map[string]interface{}{
				"type":        "boolean",
				"description": "Include the diagnostic log (default true)",
			},
		},
	}
}
func (t *StatusTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	status := t.watcher.Status()
	if include, ok := getBoolArg(args, "include_logs"); ok && !include {
		status.Logs = []diagnostics.Entry{}
	}

	result := map[string]interface{}{"status": status}
	state, err := t.watcher.State(ctx)
	if err != nil {
		result["state_error"] = err.Error()
	} else {
		result["state"] = state
	}
	return result, nil
}

// SetEnabledTool persists the enabled flag and applies it to the watcher.
type SetEnabledTool struct {
	watcher  Controller
	settings Settings
}

func (t *SetEnabledTool) Name() string { return "autolisten-set-enabled" }
func (t *SetEnabledTool) Description() string {
	return `Turn automatic listening on or off. The value is persisted and takes effect on the next decision.

Returns: {enabled, persisted}`
}
func (t *SetEnabledTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"enabled": map[string]interface{}{
				"type":        "boolean",
				"description": "New value of the enabled flag",
			},
		},
		"required": []string{"enabled"},
	}
}
func (t *SetEnabledTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	enabled, ok := getBoolArg(args, "enabled")
	if !ok {
		return nil, errors.New("enabled must be a boolean")
	}

	persisted := false
	if t.settings != nil {
		if err := t.settings.SetEnabled(enabled); err != nil {
			return nil, fmt.Errorf("persist enabled flag: %w", err)
		}
		persisted = true
	}
	t.watcher.SetEnabled(enabled)

	return map[string]interface{}{
		"enabled":   enabled,
		"persisted": persisted,
	}, nil
}

// LogsTool returns the most recent diagnostic log entries.
type LogsTool struct {
	log *diagnostics.Log
}

func (t *LogsTool) Name() string { return "autolisten-logs" }
func (t *LogsTool) Description() string {
	return `Read the most recent diagnostic log entries, oldest first.

Returns: {count, limit, entries: [{timestamp, message}]}`
}
func (t *LogsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum entries to return (default 20)",
			},
		},
	}
}
func (t *LogsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if t.log == nil {
		return nil, errors.New("diagnostic log unavailable")
	}
	limit := clampLimit(getIntArg(args, "limit", 20), 20, t.log.Limit())
	entries := t.log.Tail(limit)
	return map[string]interface{}{
		"count":   len(entries),
		"limit":   limit,
		"entries": entries,
	}, nil
}
