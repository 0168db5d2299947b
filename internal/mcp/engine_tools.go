package mcp

import (
	"context"
	"fmt"

	"smartanswer/internal/engine"
)

type EngineStatusTool struct {
	answers AnswerEngine
}

func (t *EngineStatusTool) Name() string { return "engine-status" }
func (t *EngineStatusTool) Description() string {
	return `Report the answer engine's counters.

Returns: {mode, running, scans, signals, claimed, in_flight, by_result}.
by_result counts finished containers per result (shown, applied, no_match, ...).`
}
func (t *EngineStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *EngineStatusTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return t.answers.Status(), nil
}

type RescanTool struct {
	answers AnswerEngine
}

func (t *RescanTool) Name() string { return "rescan" }
func (t *RescanTool) Description() string {
	return `Scan the page for question containers now, as if new content had appeared.

Containers already claimed are never claimed again, so this is safe to repeat.
With wait=true the call returns once every started pipeline has finished.

Returns: {claimed, outcomes?}.`
}
func (t *RescanTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"wait": map[string]interface{}{
				"type":        "boolean",
				"description": "Block until the claimed containers are settled (default: false)",
			},
		},
	}
}
func (t *RescanTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	claimed, err := t.answers.Rescan(ctx)
	if err != nil {
		return nil, fmt.Errorf("rescan: %w", err)
	}
	result := map[string]interface{}{"claimed": claimed}
	if getBoolArg(args, "wait", false) {
		t.answers.Wait()
		result["outcomes"] = t.answers.Outcomes()
	}
	return result, nil
}

type ListOutcomesTool struct {
	answers AnswerEngine
}

func (t *ListOutcomesTool) Name() string { return "list-outcomes" }
func (t *ListOutcomesTool) Description() string {
	return `List per-container outcomes in claim order.

Filter by container id or result; limit keeps the most recent entries.

Returns: {count, outcomes: [{id, result, question, options, answer, confidence, selected, via, error}]}.`
}
func (t *ListOutcomesTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Return only this container",
			},
			"result": map[string]interface{}{
				"type":        "string",
				"description": "Only outcomes with this result (pending, unusable, solve_failed, shown, below_gate, no_match, applied, already_chosen, failed)",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum outcomes to return, newest kept (default: 50)",
			},
		},
	}
}
func (t *ListOutcomesTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if id := getStringArg(args, "id"); id != "" {
		o, ok := t.answers.Outcome(id)
		if !ok {
			return nil, fmt.Errorf("unknown container %q", id)
		}
		return map[string]interface{}{"count": 1, "outcomes": []engine.Outcome{o}}, nil
	}

	want := engine.Result(getStringArg(args, "result"))
	limit := getIntArg(args, "limit", 50)

	all := t.answers.Outcomes()
	out := make([]engine.Outcome, 0, len(all))
	for _, o := range all {
		if want != "" && o.Result != want {
			continue
		}
		out = append(out, o)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return map[string]interface{}{"count": len(out), "outcomes": out}, nil
}
