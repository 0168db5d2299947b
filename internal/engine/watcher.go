package engine

import (
	"context"
	"fmt"
)

// Run subscribes to the document, scans once eagerly, then rescans once for
// every batch that inserted nodes. Removed-only batches are ignored. Run
// returns when ctx is done or the subscription closes; pipelines already
// started keep going (see Wait).
func (e *Engine) Run(ctx context.Context) error {
	batches, err := e.doc.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to document: %w", err)
	}

	e.setRunning(true)
	defer e.setRunning(false)

	e.logger.Info("engine watching", "containers", e.cfg.ContainerSelectors)
	if _, err := e.scan(ctx); err != nil {
		e.logger.Warn("cold-start scan failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			if !batch.HasInsertions() {
				continue
			}
			e.mu.Lock()
			e.signals++
			e.mu.Unlock()
			if _, err := e.scan(ctx); err != nil {
				e.logger.Warn("rescan failed", "error", err)
			}
		}
	}
}

// Rescan runs one scan outside the watch loop and returns how many
// containers it claimed.
func (e *Engine) Rescan(ctx context.Context) (int, error) {
	return e.scan(ctx)
}

func (e *Engine) setRunning(v bool) {
	e.mu.Lock()
	e.running = v
	e.mu.Unlock()
}
