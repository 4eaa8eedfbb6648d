package sensei

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/hothotzd123/sensei/engine"
)

// Prune applies the current pruner to every started engine that supports
// pruning and returns the number of documents removed. Engines are pruned
// concurrently within the background worker slots of the resource
// controller; failures are aggregated.
func (c *Core) Prune(ctx context.Context) (int, error) {
	s := c.current.Load()
	if s == nil {
		return 0, &EngineError{Op: "prune", Err: ErrNotRunning}
	}
	p := c.IndexPruner()
	began := time.Now()

	var (
		mu      sync.Mutex
		removed int
		result  *multierror.Error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range s.engines.Engines() {
		prunable, ok := e.(engine.Prunable)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := c.opts.resources.AcquireBackground(gctx); err != nil {
				return err
			}
			defer c.opts.resources.ReleaseBackground()

			n, err := prunable.Prune(gctx, p)
			mu.Lock()
			defer mu.Unlock()
			removed += n
			if err != nil {
				result = multierror.Append(result, &EngineError{Op: "prune", Engine: e.Name(), Err: err})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		result = multierror.Append(result, err)
	}

	err := result.ErrorOrNil()
	c.opts.metricsCollector.RecordPrune(removed, time.Since(began), err)
	c.log.LogPrune(ctx, p.Name(), removed, err)
	return removed, err
}

// startPruneLoop runs Prune every prune interval. Called with lifecycle held.
func (c *Core) startPruneLoop() {
	if c.opts.pruneInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.pruneCancel = cancel
	c.pruneDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.opts.pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = c.Prune(ctx)
			}
		}
	}()
}

// stopPruneLoop stops the loop started by startPruneLoop and waits for it.
func (c *Core) stopPruneLoop() {
	if c.pruneCancel == nil {
		return
	}
	c.pruneCancel()
	<-c.pruneDone
	c.pruneCancel = nil
	c.pruneDone = nil
}
