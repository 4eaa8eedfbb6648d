package pruner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopSelectsNothing(t *testing.T) {
	candidates := []Candidate{
		{DocID: 1, IndexedAt: time.Unix(0, 0)},
		{DocID: 2, IndexedAt: time.Now()},
	}

	selected, err := Noop{}.Select(context.Background(), candidates)
	require.NoError(t, err)
	assert.True(t, selected.IsEmpty())
}

func TestRetentionSelectsExpired(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	r, err := NewRetention(2)
	require.NoError(t, err)
	r.Now = func() time.Time { return now }

	candidates := []Candidate{
		{DocID: 1, IndexedAt: now.Add(-72 * time.Hour)},
		{DocID: 2, IndexedAt: now.Add(-47 * time.Hour)},
		{DocID: 3, IndexedAt: now.Add(-49 * time.Hour)},
		{DocID: 4, IndexedAt: now},
	}

	selected, err := r.Select(context.Background(), candidates)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 3}, selected.ToArray())
}

func TestRetentionHonorsContext(t *testing.T) {
	r := &Retention{MaxAge: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Select(ctx, []Candidate{{DocID: 1}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRetentionRejectsNonPositive(t *testing.T) {
	_, err := NewRetention(0)
	require.Error(t, err)
}

func TestByName(t *testing.T) {
	p, err := ByName("", 0)
	require.NoError(t, err)
	assert.Equal(t, "noop", p.Name())

	p, err = ByName("retention", 7)
	require.NoError(t, err)
	assert.Equal(t, "retention", p.Name())

	_, err = ByName("retention", 0)
	require.Error(t, err)

	_, err = ByName("other", 1)
	require.Error(t, err)
}
