// Package pruner defines retention policies that decide which indexed
// documents an engine may discard.
package pruner

import (
	"context"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

// Candidate is an indexed document offered to a Pruner.
type Candidate struct {
	// DocID is the engine-local document id.
	DocID     uint32
	UID       int64
	Version   string
	IndexedAt time.Time
}

// Pruner selects the documents an engine may discard.
// Implementations must be stateless and safe for concurrent use.
type Pruner interface {
	// Name identifies the policy in logs and metrics.
	Name() string

	// Select returns the DocIDs of the candidates that may be discarded.
	Select(ctx context.Context, candidates []Candidate) (*roaring.Bitmap, error)
}

// Noop is the default policy. It discards nothing.
type Noop struct{}

// Name implements Pruner.
func (Noop) Name() string { return "noop" }

// Select implements Pruner.
func (Noop) Select(context.Context, []Candidate) (*roaring.Bitmap, error) {
	return roaring.New(), nil
}

// Retention discards documents indexed longer ago than MaxAge.
type Retention struct {
	MaxAge time.Duration
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// NewRetention creates a Retention policy keeping the given number of days.
func NewRetention(days int) (*Retention, error) {
	if days <= 0 {
		return nil, fmt.Errorf("pruner: retention days must be positive, got %d", days)
	}
	return &Retention{MaxAge: time.Duration(days) * 24 * time.Hour}, nil
}

// Name implements Pruner.
func (r *Retention) Name() string { return "retention" }

// Select implements Pruner.
func (r *Retention) Select(ctx context.Context, candidates []Candidate) (*roaring.Bitmap, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	cutoff := now().Add(-r.MaxAge)

	selected := roaring.New()
	for i, c := range candidates {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if c.IndexedAt.Before(cutoff) {
			selected.Add(c.DocID)
		}
	}
	return selected, nil
}

// ByName builds a policy from its configuration name.
func ByName(name string, retentionDays int) (Pruner, error) {
	switch name {
	case "", "none", "noop":
		return Noop{}, nil
	case "retention":
		return NewRetention(retentionDays)
	default:
		return nil, fmt.Errorf("pruner: unknown policy %q", name)
	}
}
