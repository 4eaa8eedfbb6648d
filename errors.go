package sensei

import (
	"fmt"

	"github.com/hothotzd123/sensei/engine"
)

var (
	// ErrNotRunning is returned when an operation needs a running engine or core.
	ErrNotRunning = engine.ErrNotRunning

	// ErrIllegalState is returned when an operation is invoked in a state that
	// forbids it.
	ErrIllegalState = engine.ErrIllegalState
)

type (
	// EngineError reports an engine failure surfaced during a core operation.
	EngineError = engine.EngineError
	// ProvisioningError reports that an engine could not be created or opened.
	ProvisioningError = engine.ProvisioningError
	// SyncTimeoutError reports the partitions still lagging at a sync deadline.
	SyncTimeoutError = engine.SyncTimeoutError
	// PartitionLag is the last observed version of a lagging partition.
	PartitionLag = engine.PartitionLag
)

// IsSyncTimeout reports whether err is, or wraps, a *SyncTimeoutError.
func IsSyncTimeout(err error) bool {
	return engine.IsSyncTimeout(err)
}

// StartupError is returned by Core.Start. Engines started before the failure
// keep running until Shutdown is called.
//
// The original underlying error can be accessed via errors.Unwrap.
type StartupError struct {
	NodeID int
	// Partition is the partition being started, or -1 when the indexing
	// manager failed.
	Partition int
	Err       error
}

func (e *StartupError) Error() string {
	if e.Partition < 0 {
		return fmt.Sprintf("start node %d: %v", e.NodeID, e.Err)
	}
	return fmt.Sprintf("start node %d partition %d: %v", e.NodeID, e.Partition, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }
