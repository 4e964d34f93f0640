package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"autolisten/internal/mangle"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
	statusURI        = "autolisten://status"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"autolisten://about",
			"Auto-listen About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info and usage notes."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResource(
		mcp.NewResource(
			statusURI,
			"Auto-listen Status",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Latest watcher status: counters, flags, last event and the diagnostic log."),
		),
		s.handleStatusResource,
	)

	if s.engine != nil {
		s.mcpServer.AddResourceTemplate(
			mcp.NewResourceTemplate(
				"autolisten://facts/{predicate}{?limit}",
				"Journal Facts",
				mcp.WithTemplateMIMEType(resourceMIMEJSON),
				mcp.WithTemplateDescription("Most recent journal facts for one predicate (e.g. click_attempt, baseline_rebase)."),
			),
			s.handleFactsResource,
		)
	}
}

func jsonContents(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload := map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"notes": []string{
			"Resources are read-only; use autolisten-set-enabled to change the enabled flag.",
			"autolisten://status mirrors the status file written by the watcher.",
			"Journal facts carry a unix millisecond timestamp as their last argument.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}
	return jsonContents(request.Params.URI, payload)
}

func (s *Server) handleStatusResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(request.Params.URI, s.watcher.Status())
}

func (s *Server) handleFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	predicate := argString(request.Params.Arguments["predicate"])
	if predicate == "" {
		return nil, fmt.Errorf("missing predicate")
	}
	limit := clampLimit(asInt(request.Params.Arguments["limit"]), 25, 500)

	facts := recentFacts(s.engine, predicate, limit)
	payload := map[string]interface{}{
		"predicate": predicate,
		"limit":     limit,
		"count":     len(facts),
		"facts":     facts,
	}
	return jsonContents(request.Params.URI, payload)
}

// recentFacts returns up to limit of the newest facts, oldest first.
func recentFacts(engine *mangle.Engine, predicate string, limit int) []mangle.Fact {
	if engine == nil || limit <= 0 {
		return []mangle.Fact{}
	}

	var source []mangle.Fact
	if predicate != "" {
		source = engine.FactsByPredicate(predicate)
	} else {
		source = engine.Facts()
	}

	start := len(source) - limit
	if start < 0 {
		start = 0
	}
	out := make([]mangle.Fact, len(source)-start)
	copy(out, source[start:])
	return out
}
