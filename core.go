package sensei

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/hothotzd123/sensei/engine"
	"github.com/hothotzd123/sensei/factory"
	"github.com/hothotzd123/sensei/indexing"
	"github.com/hothotzd123/sensei/pruner"
	"github.com/hothotzd123/sensei/version"
)

// State is the lifecycle state of a Core.
type State int32

const (
	StateStopped State = iota
	// StateStarting is entered when Start begins. A Start that fails leaves
	// the Core in this state until Shutdown.
	StateStarting
	StateStarted
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// snapshot is the binding table published to readers once started.
type snapshot struct {
	cycle    string
	bindings map[int]engine.Engine
	engines  *EngineSet
}

// Core owns the lifecycle of the partitions of one node.
type Core struct {
	nodeID     int
	partitions []int
	factory    factory.Factory
	manager    indexing.Manager
	opts       options
	log        *Logger

	// lifecycle serializes Start and Shutdown.
	lifecycle sync.Mutex
	state     atomic.Int32
	// engines and bindings accumulate during Start; guarded by lifecycle.
	engines  *EngineSet
	bindings map[int]engine.Engine
	current  atomic.Pointer[snapshot]

	pruner atomic.Pointer[pruner.Pruner]

	facetsOnce sync.Once
	facets     []FacetInfo

	pruneCancel context.CancelFunc
	pruneDone   chan struct{}
}

// New creates a stopped Core for nodeID owning partitions.
func New(nodeID int, partitions []int, f factory.Factory, m indexing.Manager, optFns ...Option) (*Core, error) {
	if f == nil {
		return nil, errors.New("sensei: factory is required")
	}
	if m == nil {
		return nil, errors.New("sensei: indexing manager is required")
	}
	if nodeID < 0 {
		return nil, fmt.Errorf("sensei: invalid node id %d", nodeID)
	}

	owned := slices.Clone(partitions)
	slices.Sort(owned)
	owned = slices.Compact(owned)
	if len(owned) > 0 && owned[0] < 0 {
		return nil, fmt.Errorf("sensei: invalid partition id %d", owned[0])
	}

	o := applyOptions(optFns)
	c := &Core{
		nodeID:     nodeID,
		partitions: owned,
		factory:    f,
		manager:    m,
		opts:       o,
		log:        o.logger.WithNode(nodeID),
	}
	c.SetIndexPruner(o.pruner)
	return c, nil
}

// NodeID returns the node id.
func (c *Core) NodeID() int { return c.nodeID }

// Partitions returns the owned partitions in ascending order.
func (c *Core) Partitions() []int { return slices.Clone(c.partitions) }

// State returns the lifecycle state.
func (c *Core) State() State { return State(c.state.Load()) }

// Started reports whether the Core is started.
func (c *Core) Started() bool { return c.State() == StateStarted }

// CycleID identifies the current start cycle, or "" when not started.
func (c *Core) CycleID() string {
	if s := c.current.Load(); s != nil {
		return s.cycle
	}
	return ""
}

// DataProvider returns the data provider of the indexing manager.
func (c *Core) DataProvider() indexing.DataProvider { return c.manager.DataProvider() }

// QueryBuilderFactory returns the handle passed with WithQueryBuilderFactory.
func (c *Core) QueryBuilderFactory() QueryBuilderFactory { return c.opts.queryBuilders }

// VersionOrdering returns the ordering of the factory.
func (c *Core) VersionOrdering() version.Ordering { return c.factory.VersionOrdering() }

// Start provisions and starts the engine of every owned partition, then
// starts ingestion. It is a no-op when already started.
//
// Start fails fast: the first failure is returned as a *StartupError and the
// engines started so far keep running. The Core must then be shut down
// before it can be started again.
func (c *Core) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	switch c.State() {
	case StateStarted:
		return nil
	case StateStarting:
		return &StartupError{NodeID: c.nodeID, Partition: -1, Err: fmt.Errorf("previous start failed, shutdown required: %w", ErrIllegalState)}
	}

	began := time.Now()
	c.state.Store(int32(StateStarting))
	c.engines = NewEngineSet()
	c.bindings = make(map[int]engine.Engine, len(c.partitions))

	err := c.start(ctx)
	c.opts.metricsCollector.RecordStart(c.engines.Len(), time.Since(began), err)
	return err
}

func (c *Core) start(ctx context.Context) error {
	cycle := uuid.NewString()
	log := c.log.WithCycle(cycle)

	for _, p := range c.partitions {
		if err := ctx.Err(); err != nil {
			return &StartupError{NodeID: c.nodeID, Partition: p, Err: err}
		}

		e, err := c.factory.Engine(c.nodeID, p)
		if err != nil {
			log.LogEngineStart(ctx, "", p, err)
			return &StartupError{NodeID: c.nodeID, Partition: p, Err: err}
		}
		added, err := c.engines.Add(e)
		if err != nil {
			err = &ProvisioningError{NodeID: c.nodeID, Partition: p, Location: c.factory.Location(c.nodeID, p), Err: err}
			log.LogEngineStart(ctx, "", p, err)
			return &StartupError{NodeID: c.nodeID, Partition: p, Err: err}
		}
		if added {
			// Tracked before Start so that Shutdown also cleans up an engine
			// that failed halfway.
			err := e.Start(ctx)
			log.LogEngineStart(ctx, e.Name(), p, err)
			if err != nil {
				return &StartupError{NodeID: c.nodeID, Partition: p, Err: err}
			}
		}
		c.bindings[p] = e
	}

	if err := c.manager.Initialize(c.bindings); err != nil {
		return &StartupError{NodeID: c.nodeID, Partition: -1, Err: err}
	}
	if err := c.manager.Start(ctx); err != nil {
		return &StartupError{NodeID: c.nodeID, Partition: -1, Err: err}
	}

	c.current.Store(&snapshot{
		cycle:    cycle,
		bindings: c.bindings,
		engines:  c.engines,
	})
	c.state.Store(int32(StateStarted))
	c.startPruneLoop()

	log.InfoContext(ctx, "node started",
		"partitions", len(c.partitions),
		"engines", c.engines.Len(),
	)
	return nil
}

// Shutdown stops ingestion and then every distinct engine exactly once. It is
// a no-op when stopped. Engine failures are aggregated and do not stop the
// teardown; the Core is stopped afterwards in every case.
func (c *Core) Shutdown(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.State() == StateStopped {
		return nil
	}

	began := time.Now()
	c.stopPruneLoop()
	c.current.Store(nil)

	var result *multierror.Error
	if err := c.manager.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("shutdown indexing manager: %w", err))
	}
	engines := c.engines.Engines()
	for _, e := range engines {
		if err := e.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}

	c.engines = nil
	c.bindings = nil
	c.state.Store(int32(StateStopped))

	err := result.ErrorOrNil()
	c.opts.metricsCollector.RecordShutdown(len(engines), time.Since(began), err)
	c.log.LogShutdown(ctx, len(engines), err)
	return err
}

// SetIndexPruner replaces the pruner. A nil pruner restores the default,
// which discards nothing.
func (c *Core) SetIndexPruner(p pruner.Pruner) {
	if p == nil {
		p = pruner.Noop{}
	}
	c.pruner.Store(&p)
}

// IndexPruner returns the current pruner.
func (c *Core) IndexPruner() pruner.Pruner {
	return *c.pruner.Load()
}

// IndexEngine returns the engine bound to partition. It reports false when
// the partition is not owned or the Core is not started.
func (c *Core) IndexEngine(partition int) (engine.Engine, bool) {
	s := c.current.Load()
	if s == nil {
		return nil, false
	}
	e, ok := s.bindings[partition]
	return e, ok
}

// Engines returns the distinct started engines.
func (c *Core) Engines() []engine.Engine {
	s := c.current.Load()
	if s == nil {
		return nil
	}
	return s.engines.Engines()
}

// SyncWithVersion waits until every owned partition reached v or timeout
// elapses. It fails with an *EngineError wrapping ErrNotRunning when the Core
// is not started.
func (c *Core) SyncWithVersion(ctx context.Context, timeout time.Duration, v string) error {
	if c.current.Load() == nil {
		return &EngineError{Op: "sync", Engine: "node " + strconv.Itoa(c.nodeID), Err: ErrNotRunning}
	}

	began := time.Now()
	err := c.manager.SyncWithVersion(ctx, timeout, v)
	elapsed := time.Since(began)
	c.opts.metricsCollector.RecordSync(elapsed, err)
	c.log.LogSync(ctx, v, elapsed, err)
	return err
}

// ManagedEngine is an engine registered under a stable management name.
type ManagedEngine struct {
	// Name is "<engine-name>-<node>-<partition>".
	Name      string
	Partition int
	Engine    engine.Engine
}

// ManagedEngines returns one entry per bound partition in partition order.
// A shared engine appears under every partition that references it.
func (c *Core) ManagedEngines() []ManagedEngine {
	s := c.current.Load()
	if s == nil {
		return nil
	}
	out := make([]ManagedEngine, 0, len(s.bindings))
	for _, p := range c.partitions {
		e, ok := s.bindings[p]
		if !ok {
			continue
		}
		out = append(out, ManagedEngine{
			Name:      fmt.Sprintf("%s-%d-%d", e.Name(), c.nodeID, p),
			Partition: p,
			Engine:    e,
		})
	}
	return out
}
