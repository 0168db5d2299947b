package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"smartanswer/internal/mangle"
)

type QueryFactsTool struct {
	facts *mangle.Engine
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Query the pipeline fact store.

Either pass a single-atom Mangle query such as "answered(C, Option)." and get
one variable binding per match, or pass a predicate name such as "in_flight"
to get every fact of it, derived or recorded.

Predicates: container_claimed, question_extracted, extraction_failed,
solve_failed, judgment_received, answer_shown, answer_applied, answer_skipped,
settled, in_flight, answered.`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Mangle atom with variables, e.g. answer_skipped(C, Reason).",
			},
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate to evaluate in full",
			},
		},
	}
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.facts == nil {
		return nil, fmt.Errorf("fact store disabled")
	}

	if query := strings.TrimSpace(getStringArg(args, "query")); query != "" {
		if !strings.HasSuffix(query, ".") {
			query += "."
		}
		results, err := t.facts.Query(ctx, query)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"query": query, "count": len(results), "results": results}, nil
	}

	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("query or predicate is required")
	}
	facts, err := t.facts.Evaluate(ctx, predicate)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"predicate": predicate, "count": len(facts), "facts": facts}, nil
}

type ReadFactsTool struct {
	facts *mangle.Engine
}

func (t *ReadFactsTool) Name() string { return "read-facts" }
func (t *ReadFactsTool) Description() string {
	return `Read recorded pipeline facts, oldest first.

Optional filters: container (first argument of every pipeline fact),
predicate and since (RFC3339 time, or a duration such as "5m" meaning that
long ago). limit keeps the most recent matches (default: 100, max: 1000).`
}
func (t *ReadFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"container": map[string]interface{}{
				"type":        "string",
				"description": "Container id to filter by",
			},
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate to filter by",
			},
			"since": map[string]interface{}{
				"type":        "string",
				"description": "Only facts recorded after this RFC3339 time or duration ago",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum facts to return",
			},
		},
	}
}
func (t *ReadFactsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if t.facts == nil {
		return nil, fmt.Errorf("fact store disabled")
	}
	limit := getIntArg(args, "limit", 100)
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	since, err := parseSince(getStringArg(args, "since"), time.Now())
	if err != nil {
		return nil, err
	}
	facts := selectRecentFacts(t.facts, getStringArg(args, "container"), getStringArg(args, "predicate"), since, limit)
	return map[string]interface{}{"count": len(facts), "facts": facts}, nil
}

// parseSince accepts an RFC3339 timestamp or a duration measured back from now.
func parseSince(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("since must be an RFC3339 time or a positive duration: %q", raw)
	}
	return now.Add(-d), nil
}
