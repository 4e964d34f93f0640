package mcp

import (
	"context"
	"errors"
	"strings"

	"autolisten/internal/mangle"
)

// DiagnoseTool summarizes click outcomes from the journal rules.
type DiagnoseTool struct {
	engine  *mangle.Engine
	watcher Controller
}

func (t *DiagnoseTool) Name() string { return "autolisten-diagnose" }
func (t *DiagnoseTool) Description() string {
	return `Explain recent watcher behavior using the Mangle journal.

WHAT IT DOES:
- Lists clicks confirmed on the first press, clicks that needed the retry, and clicks never confirmed.
- Lists count jumps rebased without a click and triggers skipped (disabled, hidden tab).

Returns: {status: "ok"|"warning"|"error", first_press, retried, unconfirmed, suppressed_jumps, skipped}`
}
func (t *DiagnoseTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *DiagnoseTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	queries := []struct {
		key   string
		query string
	}{
		{"first_press", "first_press_success(C)."},
		{"retried", "retried_click(C)."},
		{"unconfirmed", "unconfirmed_click(C)."},
		{"suppressed_jumps", "suppressed_jump(From, To)."},
		{"skipped", "skipped_trigger(Reason)."},
		{"confirmed_by", "confirmed_by(C, Signal)."},
	}

	result := make(map[string]interface{}, len(queries)+2)
	counts := make(map[string]int, len(queries))
	for _, q := range queries {
		rows, err := t.engine.Query(ctx, q.query)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []mangle.QueryResult{}
		}
		result[q.key] = rows
		counts[q.key] = len(rows)
	}

	status := "ok"
	switch {
	case counts["unconfirmed"] > 0:
		status = "error"
	case counts["retried"] > 0 || counts["skipped"] > 0:
		status = "warning"
	}
	result["status"] = status
	if t.watcher != nil {
		s := t.watcher.Status()
		result["counters"] = map[string]int{
			"attempts":  s.ClickAttempts,
			"successes": s.ClickSuccesses,
			"failures":  s.ClickFailures,
		}
	}
	return result, nil
}

// ReadFactsTool returns raw journal facts, newest last.
type ReadFactsTool struct {
	engine *mangle.Engine
}

func (t *ReadFactsTool) Name() string { return "autolisten-read-facts" }
func (t *ReadFactsTool) Description() string {
	return `Read recent journal facts, optionally for one predicate.

Predicates: count_change, generating, baseline_rebase, trigger, trigger_skipped,
click_attempt, click_confirmed, click_failed, recalibrated, session_reset.

Returns: {count, facts: [{predicate, args, timestamp}]}`
}
func (t *ReadFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Only facts of this predicate",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum facts to return (default 50, max 500)",
			},
		},
	}
}
func (t *ReadFactsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := strings.TrimSpace(getStringArg(args, "predicate"))
	limit := clampLimit(getIntArg(args, "limit", 50), 50, 500)
	facts := recentFacts(t.engine, predicate, limit)
	return map[string]interface{}{
		"count": len(facts),
		"facts": facts,
	}, nil
}

// QueryFactsTool runs an arbitrary Mangle query against the journal.
type QueryFactsTool struct {
	engine *mangle.Engine
}

func (t *QueryFactsTool) Name() string { return "autolisten-query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Run a Mangle query such as "click_confirmed(C, Signal, Ts)." against the journal.

Returns: {count, results: [{Var: value}]}`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Mangle atom to match; use _ for ignored arguments",
			},
		},
		"required": []string{"query"},
	}
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := strings.TrimSpace(getStringArg(args, "query"))
	if query == "" {
		return nil, errors.New("query is required")
	}
	rows, err := t.engine.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []mangle.QueryResult{}
	}
	return map[string]interface{}{
		"count":   len(rows),
		"results": rows,
	}, nil
}
