package engine

import (
	"context"
	"fmt"
	"time"

	"smartanswer/internal/dom"

	"github.com/google/uuid"
)

type claim struct {
	id   string
	node dom.Node
}

// scan claims every unmarked container in document order, then starts one
// pipeline per claim. All markers are written before any pipeline starts.
// Claims are never undone.
func (e *Engine) scan(ctx context.Context) (int, error) {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()

	e.mu.Lock()
	e.scans++
	e.mu.Unlock()

	nodes, err := e.doc.QueryAll(e.cfg.UnclaimedSelector())
	if err != nil {
		return 0, fmt.Errorf("query containers: %w", err)
	}

	claims := make([]claim, 0, len(nodes))
	for _, n := range nodes {
		// Another engine on the same document may have got here first.
		if v, ok, err := n.Attr(e.cfg.MarkerAttribute); err != nil || (ok && v == "true") {
			continue
		}
		if err := n.SetAttr(e.cfg.MarkerAttribute, "true"); err != nil {
			e.logger.Warn("claim container failed", "error", err)
			continue
		}
		c := claim{id: uuid.NewString(), node: n}
		now := time.Now()
		e.register(&Outcome{ID: c.id, ClaimedAt: now, Result: ResultPending})
		e.emit(ctx, c.id, "container_claimed", now.UnixMilli())
		claims = append(claims, c)
	}

	for _, c := range claims {
		e.wg.Add(1)
		go e.process(ctx, c)
	}
	if len(claims) > 0 {
		e.logger.Debug("containers claimed", "count", len(claims))
	}
	return len(claims), nil
}
