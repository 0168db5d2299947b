package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"smartanswer/internal/mangle"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"smartanswer://about",
			"Smart Answer About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info, the engine's mode and the browser connection."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"smartanswer://container/{containerId}/facts{?predicate,limit}",
			"Container Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Pipeline facts recorded for one container (optionally filtered by predicate)."),
		),
		s.handleContainerFactsResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload := map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"mode":    s.answers.Mode(),
		"notes": []string{
			"Use rescan to force a scan; claimed containers are never processed twice.",
			"Use query-facts with in_flight or settled to see pipeline progress.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}
	if s.browser != nil {
		payload["browser"] = map[string]interface{}{
			"connected":   s.browser.IsConnected(),
			"control_url": s.browser.ControlURL(),
			"sessions":    s.browser.List(),
		}
	}

	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func (s *Server) handleContainerFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.facts == nil {
		return nil, fmt.Errorf("fact store disabled")
	}

	containerID := argString(request.Params.Arguments["containerId"])
	if containerID == "" {
		return nil, fmt.Errorf("missing containerId")
	}
	predicate := argString(request.Params.Arguments["predicate"])
	limit := asInt(request.Params.Arguments["limit"])
	if limit <= 0 {
		limit = 25
	}
	if limit > 500 {
		limit = 500
	}

	facts := selectRecentFacts(s.facts, containerID, predicate, time.Time{}, limit)

	payload := map[string]interface{}{
		"container": containerID,
		"predicate": predicate,
		"limit":     limit,
		"count":     len(facts),
		"facts":     facts,
	}
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

// selectRecentFacts returns up to limit of the newest facts recorded after
// since, oldest first. Empty containerID, predicate or zero since disables
// that filter.
func selectRecentFacts(store *mangle.Engine, containerID, predicate string, since time.Time, limit int) []mangle.Fact {
	if store == nil || limit <= 0 {
		return []mangle.Fact{}
	}

	source := store.QueryTemporal(predicate, since, time.Time{})

	out := make([]mangle.Fact, 0, min(limit, len(source)))
	for i := len(source) - 1; i >= 0 && len(out) < limit; i-- {
		f := source[i]
		if containerID != "" {
			if len(f.Args) == 0 || fmt.Sprintf("%v", f.Args[0]) != containerID {
				continue
			}
		}
		out = append(out, f)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
