package indexing

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hothotzd123/sensei/codec"
	"github.com/hothotzd123/sensei/engine"
	"github.com/hothotzd123/sensei/version"
)

// ErrQueueFull is returned by Publish when the pending events would exceed the
// queue capacity.
var ErrQueueFull = errors.New("event queue full")

// MemoryProvider is an in-process DataProvider fed through Publish.
type MemoryProvider struct {
	ordering   version.Ordering
	batchSize  int
	delay      time.Duration
	maxPending int

	mu     sync.Mutex
	queue  []engine.Event
	offset string
	closed bool
	notify chan struct{}
}

var (
	_ DataProvider = (*MemoryProvider)(nil)
	_ Resumable    = (*MemoryProvider)(nil)
)

// NewMemoryProvider creates a provider handing out at most batchSize events
// per Next call. A non-positive batchSize means unbounded.
func NewMemoryProvider(o version.Ordering, batchSize int) *MemoryProvider {
	if o == nil {
		o = version.Default
	}
	return &MemoryProvider{
		ordering:  o,
		batchSize: batchSize,
		notify:    make(chan struct{}),
	}
}

// SetBatchDelay makes Next wait up to d after the first pending event for
// the batch to fill up.
func (p *MemoryProvider) SetBatchDelay(d time.Duration) {
	p.mu.Lock()
	p.delay = d
	p.mu.Unlock()
}

// SetMaxPending caps the number of queued events. Zero means unbounded.
func (p *MemoryProvider) SetMaxPending(n int) {
	p.mu.Lock()
	p.maxPending = max(n, 0)
	p.mu.Unlock()
}

// Publish appends events. It fails with ErrQueueFull when they do not fit and
// with io.ErrClosedPipe once the provider is closed.
func (p *MemoryProvider) Publish(events ...engine.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.admitLocked(len(events)); err != nil {
		return err
	}
	if p.maxPending > 0 && len(p.queue)+len(events) > p.maxPending {
		return fmt.Errorf("publish %d events with %d of %d pending: %w", len(events), len(p.queue), p.maxPending, ErrQueueFull)
	}
	p.queue = append(p.queue, events...)
	p.wakeLocked()
	return nil
}

// PublishWait is Publish blocking until the queue has room or ctx is done.
func (p *MemoryProvider) PublishWait(ctx context.Context, events ...engine.Event) error {
	for {
		p.mu.Lock()
		if err := p.admitLocked(len(events)); err != nil {
			p.mu.Unlock()
			return err
		}
		if p.maxPending == 0 || len(p.queue)+len(events) <= p.maxPending {
			p.queue = append(p.queue, events...)
			p.wakeLocked()
			p.mu.Unlock()
			return nil
		}
		notify := p.notify
		p.mu.Unlock()

		if err := wait(ctx, notify, false, time.Time{}); err != nil {
			return err
		}
	}
}

// admitLocked rejects publishing to a closed provider and batches that can
// never fit.
func (p *MemoryProvider) admitLocked(n int) error {
	if p.closed {
		return fmt.Errorf("publish: %w", io.ErrClosedPipe)
	}
	if p.maxPending > 0 && n > p.maxPending {
		return fmt.Errorf("publish %d events exceeds queue capacity %d: %w", n, p.maxPending, ErrQueueFull)
	}
	return nil
}

// Close ends the stream. Next drains pending events and then returns io.EOF.
func (p *MemoryProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.wakeLocked()
	}
	return nil
}

func (p *MemoryProvider) wakeLocked() {
	close(p.notify)
	p.notify = make(chan struct{})
}

// SetStartingOffset implements Resumable.
func (p *MemoryProvider) SetStartingOffset(v string) {
	p.mu.Lock()
	p.offset = v
	p.mu.Unlock()
}

// Pending returns the number of queued events.
func (p *MemoryProvider) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Next implements DataProvider.
func (p *MemoryProvider) Next(ctx context.Context) ([]engine.Event, error) {
	var deadline time.Time
	for {
		p.mu.Lock()
		pending := len(p.queue)
		closed := p.closed
		notify := p.notify
		if pending > 0 && deadline.IsZero() {
			deadline = time.Now().Add(p.delay)
		}
		full := p.batchSize > 0 && pending >= p.batchSize
		if pending > 0 && (closed || full || !time.Now().Before(deadline)) {
			batch := p.takeLocked()
			p.mu.Unlock()
			if len(batch) > 0 {
				return batch, nil
			}
			deadline = time.Time{}
			continue
		}
		p.mu.Unlock()

		if pending == 0 && closed {
			return nil, io.EOF
		}

		if err := wait(ctx, notify, pending > 0, deadline); err != nil {
			return nil, err
		}
	}
}

// wait blocks until notify is closed, ctx is done or, when timed, until
// deadline passes.
func wait(ctx context.Context, notify <-chan struct{}, timed bool, deadline time.Time) error {
	var timeout <-chan time.Time
	if timed {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-notify:
	case <-timeout:
	}
	return nil
}

// takeLocked dequeues the next batch and wakes publishers waiting for room.
func (p *MemoryProvider) takeLocked() []engine.Event {
	var batch []engine.Event
	for len(p.queue) > 0 && (p.batchSize <= 0 || len(batch) < p.batchSize) {
		ev := p.queue[0]
		p.queue = p.queue[1:]
		if p.offset != "" && p.ordering.Compare(ev.Version, p.offset) <= 0 {
			continue
		}
		batch = append(batch, ev)
	}
	p.wakeLocked()
	return batch
}

// JSONLinesProvider replays events encoded one JSON object per line.
type JSONLinesProvider struct {
	ordering  version.Ordering
	batchSize int
	closer    io.Closer

	mu      sync.Mutex
	scanner *bufio.Scanner
	line    int
	offset  string
	// err is reported by the call after a partial batch.
	err error
}

var (
	_ DataProvider = (*JSONLinesProvider)(nil)
	_ Resumable    = (*JSONLinesProvider)(nil)
)

const maxLineBytes = 4 << 20

// NewJSONLinesProvider reads events from r. If r is an io.Closer it is closed
// by Close.
func NewJSONLinesProvider(r io.Reader, o version.Ordering, batchSize int) *JSONLinesProvider {
	if o == nil {
		o = version.Default
	}
	if batchSize <= 0 {
		batchSize = 256
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	p := &JSONLinesProvider{
		ordering:  o,
		batchSize: batchSize,
		scanner:   sc,
	}
	if c, ok := r.(io.Closer); ok {
		p.closer = c
	}
	return p
}

// OpenJSONLines opens a file of JSON lines.
func OpenJSONLines(path string, o version.Ordering, batchSize int) (*JSONLinesProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return NewJSONLinesProvider(f, o, batchSize), nil
}

// SetStartingOffset implements Resumable.
func (p *JSONLinesProvider) SetStartingOffset(v string) {
	p.mu.Lock()
	p.offset = v
	p.mu.Unlock()
}

// Next implements DataProvider. It returns io.EOF at the end of input.
func (p *JSONLinesProvider) Next(ctx context.Context) ([]engine.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.err; err != nil {
		p.err = nil
		return nil, err
	}

	var batch []engine.Event
	for len(batch) < p.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !p.scanner.Scan() {
			if err := p.scanner.Err(); err != nil {
				return p.fail(batch, fmt.Errorf("read event log line %d: %w", p.line+1, err))
			}
			break
		}
		p.line++

		raw := p.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev engine.Event
		if err := (codec.JSON{}).Unmarshal(raw, &ev); err != nil {
			return p.fail(batch, fmt.Errorf("decode event log line %d: %w", p.line, err))
		}
		if p.offset != "" && p.ordering.Compare(ev.Version, p.offset) <= 0 {
			continue
		}
		batch = append(batch, ev)
	}
	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

// fail hands out the events decoded before err and defers err to the next
// call. Called with mu held.
func (p *JSONLinesProvider) fail(batch []engine.Event, err error) ([]engine.Event, error) {
	if len(batch) == 0 {
		return nil, err
	}
	p.err = err
	return batch, nil
}

// Close releases the underlying reader.
func (p *JSONLinesProvider) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
