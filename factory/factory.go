// Package factory provisions index engines for (node, partition) pairs.
//
// A factory resolves each pair to a storage location and caches one engine
// per location, so repeated requests for the same location return the same
// instance. With a shared location every partition of a node is backed by a
// single engine.
package factory

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/hothotzd123/sensei/blobstore"
	"github.com/hothotzd123/sensei/engine"
	"github.com/hothotzd123/sensei/engine/realtime"
	"github.com/hothotzd123/sensei/engine/rolling"
	"github.com/hothotzd123/sensei/internal/resource"
	"github.com/hothotzd123/sensei/version"
)

// Factory creates engines and exposes the metadata shared by all of them.
type Factory interface {
	// Engine returns the engine for the given node and partition. Calls that
	// resolve to the same location return the same instance.
	Engine(nodeID, partition int) (engine.Engine, error)

	// Location returns the storage location used for the node and partition.
	Location(nodeID, partition int) string

	// Decoration returns the facet metadata of the engines.
	Decoration() engine.Decoration

	// VersionOrdering returns the ordering of version tokens.
	VersionOrdering() version.Ordering
}

// Kind selects the engine flavor.
type Kind string

const (
	KindRealtime Kind = realtime.Name
	KindRolling  Kind = rolling.Name
)

// ParseKind parses an engine flavor name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindRealtime, KindRolling:
		return Kind(s), nil
	case "":
		return KindRealtime, nil
	default:
		return "", fmt.Errorf("factory: unknown engine kind %q", s)
	}
}

// StoreFunc returns the blob store rooted at a location.
type StoreFunc func(location string) (blobstore.Store, error)

type options struct {
	dir          string
	store        blobstore.Store
	storeFunc    StoreFunc
	shared       bool
	ordering     version.Ordering
	decoration   engine.Decoration
	logger       *slog.Logger
	resources    *resource.Controller
	realtimeOpts []realtime.Option
	rollingOpts  []rolling.Option
}

// Option configures a Factory.
type Option func(*options)

// WithDirectory sets the base directory for engine data.
func WithDirectory(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// WithStore sets the blob store used by rolling engines. Each location gets
// its own prefix within it.
func WithStore(s blobstore.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithStoreFunc sets a per-location store constructor for rolling engines.
// It takes precedence over WithStore.
func WithStoreFunc(fn StoreFunc) Option {
	return func(o *options) {
		o.storeFunc = fn
	}
}

// WithSharedLocation makes all partitions of a node share one engine.
func WithSharedLocation(shared bool) Option {
	return func(o *options) {
		o.shared = shared
	}
}

// WithOrdering sets the version ordering passed to engines.
func WithOrdering(ord version.Ordering) Option {
	return func(o *options) {
		if ord != nil {
			o.ordering = ord
		}
	}
}

// WithDecoration sets the facet metadata.
func WithDecoration(d engine.Decoration) Option {
	return func(o *options) {
		o.decoration = d
	}
}

// WithLogger sets the logger passed to engines.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithResourceController shares node-wide limits with rolling engines.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithRealtimeOptions appends options for realtime engines.
func WithRealtimeOptions(opts ...realtime.Option) Option {
	return func(o *options) {
		o.realtimeOpts = append(o.realtimeOpts, opts...)
	}
}

// WithRollingOptions appends options for rolling engines.
func WithRollingOptions(opts ...rolling.Option) Option {
	return func(o *options) {
		o.rollingOpts = append(o.rollingOpts, opts...)
	}
}

// Cached is the Factory for the built-in engine flavors.
type Cached struct {
	kind Kind
	opts options

	mu      sync.Mutex
	engines map[string]engine.Engine
}

var _ Factory = (*Cached)(nil)

// New creates a factory for kind.
func New(kind Kind, opts ...Option) (*Cached, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	o := options{ordering: version.Default}
	for _, opt := range opts {
		opt(&o)
	}
	if kind == KindRealtime && o.dir == "" {
		return nil, errors.New("factory: realtime engines need a directory")
	}
	if kind == KindRolling && o.dir == "" && o.store == nil && o.storeFunc == nil {
		return nil, errors.New("factory: rolling engines need a directory or a store")
	}
	return &Cached{
		kind:    kind,
		opts:    o,
		engines: make(map[string]engine.Engine),
	}, nil
}

// Kind returns the engine flavor.
func (f *Cached) Kind() Kind { return f.kind }

// key returns the slash-separated location key.
func (f *Cached) key(nodeID, partition int) string {
	if f.opts.shared {
		return fmt.Sprintf("node%d", nodeID)
	}
	return path.Join(fmt.Sprintf("node%d", nodeID), fmt.Sprintf("shard%d", partition))
}

// Location implements Factory. Directory-backed engines report a filesystem
// path; store-backed engines report the key prefix within the store.
func (f *Cached) Location(nodeID, partition int) string {
	key := f.key(nodeID, partition)
	if f.kind == KindRolling && (f.opts.store != nil || f.opts.storeFunc != nil) {
		return key
	}
	return filepath.Join(f.opts.dir, filepath.FromSlash(key))
}

// Engine implements Factory.
func (f *Cached) Engine(nodeID, partition int) (engine.Engine, error) {
	loc := f.Location(nodeID, partition)
	if nodeID < 0 || partition < 0 {
		return nil, &engine.ProvisioningError{
			NodeID:    nodeID,
			Partition: partition,
			Location:  loc,
			Err:       fmt.Errorf("negative node id or partition"),
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if e, ok := f.engines[loc]; ok {
		return e, nil
	}

	e, err := f.create(loc)
	if err != nil {
		return nil, &engine.ProvisioningError{NodeID: nodeID, Partition: partition, Location: loc, Err: err}
	}
	f.engines[loc] = e

	if f.opts.logger != nil {
		f.opts.logger.Debug("engine provisioned", "kind", string(f.kind), "location", loc, "node", nodeID, "partition", partition)
	}
	return e, nil
}

func (f *Cached) create(loc string) (engine.Engine, error) {
	logger := f.opts.logger
	if logger != nil {
		logger = logger.With("location", loc)
	}

	switch f.kind {
	case KindRealtime:
		if err := os.MkdirAll(loc, 0o750); err != nil {
			return nil, err
		}
		opts := append([]realtime.Option{
			realtime.WithOrdering(f.opts.ordering),
			realtime.WithLogger(logger),
		}, f.opts.realtimeOpts...)
		return realtime.New(loc, opts...), nil

	case KindRolling:
		store, err := f.storeFor(loc)
		if err != nil {
			return nil, err
		}
		opts := append([]rolling.Option{
			rolling.WithOrdering(f.opts.ordering),
			rolling.WithLogger(logger),
			rolling.WithResourceController(f.opts.resources),
		}, f.opts.rollingOpts...)
		return rolling.New(store, opts...), nil
	}
	return nil, fmt.Errorf("unknown engine kind %q", f.kind)
}

func (f *Cached) storeFor(loc string) (blobstore.Store, error) {
	switch {
	case f.opts.storeFunc != nil:
		return f.opts.storeFunc(loc)
	case f.opts.store != nil:
		return blobstore.NewPrefixStore(f.opts.store, loc), nil
	default:
		if err := os.MkdirAll(loc, 0o750); err != nil {
			return nil, err
		}
		return blobstore.NewLocalStore(loc), nil
	}
}

// Decoration implements Factory.
func (f *Cached) Decoration() engine.Decoration { return f.opts.decoration }

// VersionOrdering implements Factory.
func (f *Cached) VersionOrdering() version.Ordering { return f.opts.ordering }

// Engines returns the number of engines created so far.
func (f *Cached) Engines() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}
