package engine

import (
	"context"

	"github.com/hothotzd123/sensei/pruner"
)

// Prunable is implemented by engines that can discard historical data.
type Prunable interface {
	// Prune offers every live document to p and removes the ones it selects.
	// It returns the number of documents removed.
	Prune(ctx context.Context, p pruner.Pruner) (int, error)
}
