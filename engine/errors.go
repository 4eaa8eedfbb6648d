package engine

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

var (
	// ErrNotRunning is returned when an operation needs a running engine.
	ErrNotRunning = errors.New("engine not running")

	// ErrIllegalState is returned when an operation is invoked in a state that
	// forbids it, e.g. initializing an indexing manager twice.
	ErrIllegalState = errors.New("illegal state")

	// ErrInvalidHandle is returned for engines that cannot be tracked by
	// identity because they are not non-nil pointers.
	ErrInvalidHandle = errors.New("engine handle must be a non-nil pointer")
)

// CheckHandle reports whether e can be tracked by identity. Engines are
// deduplicated by pointer, so value types are rejected.
func CheckHandle(e Engine) error {
	v := reflect.ValueOf(e)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("%w: got %T", ErrInvalidHandle, e)
	}
	return nil
}

// EngineError reports an engine failure surfaced during an operation.
//
// The original underlying error can be accessed via errors.Unwrap.
type EngineError struct {
	Op     string
	Engine string
	Err    error
}

func (e *EngineError) Error() string {
	if e.Engine == "" {
		return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("engine %s %s: %v", e.Engine, e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// ProvisioningError reports that the storage location of an engine could not
// be created or opened.
type ProvisioningError struct {
	NodeID    int
	Partition int
	Location  string
	Err       error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision engine for node %d partition %d at %q: %v", e.NodeID, e.Partition, e.Location, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// PartitionLag describes a partition that had not reached the target version.
type PartitionLag struct {
	Partition int
	// Observed is the last version observed for the partition.
	Observed string
}

// SyncTimeoutError is returned when a version sync deadline is reached before
// the target version was incorporated.
//
// A single engine reports Observed; an indexing manager reports every lagging
// partition in Lagging, sorted by partition id.
type SyncTimeoutError struct {
	Version  string
	Timeout  time.Duration
	Observed string
	Lagging  []PartitionLag
}

func (e *SyncTimeoutError) Error() string {
	if len(e.Lagging) == 0 {
		return fmt.Sprintf("sync to version %q timed out after %s (observed %q)", e.Version, e.Timeout, e.Observed)
	}
	parts := make([]string, len(e.Lagging))
	for i, l := range e.Lagging {
		parts[i] = fmt.Sprintf("%d@%q", l.Partition, l.Observed)
	}
	return fmt.Sprintf("sync to version %q timed out after %s, lagging partitions: %s", e.Version, e.Timeout, strings.Join(parts, ", "))
}

// IsSyncTimeout reports whether err is, or wraps, a *SyncTimeoutError.
func IsSyncTimeout(err error) bool {
	var ste *SyncTimeoutError
	return errors.As(err, &ste)
}
