package testutil

import (
	"math"
	"math/rand"
	"strconv"
	"sync"

	"github.com/hothotzd123/sensei/engine"
)

// RNG is a seeded, thread-safe random source for generating test data.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Seed returns the seed the RNG was created with.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Zipf returns a rank in [0,n) following a Zipf distribution with exponent s.
// Small ranks are the most frequent.
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

func (r *RNG) zipfLocked(n int, s float64) int {
	if n <= 1 {
		return 0
	}
	// Inverse transform over the normalized harmonic weights.
	var total float64
	for k := 1; k <= n; k++ {
		total += 1 / math.Pow(float64(k), s)
	}
	target := r.rand.Float64() * total
	var acc float64
	for k := 1; k <= n; k++ {
		acc += 1 / math.Pow(float64(k), s)
		if acc >= target {
			return k - 1
		}
	}
	return n - 1
}

// Events returns n upsert events with uids in [0,uids) and numeric versions
// 1..n in order.
func (r *RNG) Events(n, uids int) []engine.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]engine.Event, n)
	for i := range out {
		uid := int64(r.rand.Intn(uids))
		out[i] = engine.Event{
			Version: strconv.Itoa(i + 1),
			Document: engine.Document{
				UID:    uid,
				Fields: map[string]any{"n": i},
			},
		}
	}
	return out
}

// SkewedEvents is Events with Zipf distributed uids, so a few uids see most
// of the updates.
func (r *RNG) SkewedEvents(n, uids int, s float64) []engine.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]engine.Event, n)
	for i := range out {
		out[i] = engine.Event{
			Version:  strconv.Itoa(i + 1),
			Document: engine.Document{UID: int64(r.zipfLocked(uids, s))},
		}
	}
	return out
}
