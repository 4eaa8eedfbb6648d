package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSyncTimeoutError_Message(t *testing.T) {
	single := &SyncTimeoutError{Version: "10", Timeout: 100 * time.Millisecond, Observed: "3"}
	assert.Contains(t, single.Error(), `observed "3"`)

	multi := &SyncTimeoutError{
		Version: "10",
		Timeout: time.Second,
		Lagging: []PartitionLag{{Partition: 0, Observed: "3"}, {Partition: 2, Observed: "7"}},
	}
	assert.Contains(t, multi.Error(), `0@"3"`)
	assert.Contains(t, multi.Error(), `2@"7"`)
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")

	pe := &ProvisioningError{NodeID: 1, Partition: 2, Location: "/tmp/x", Err: cause}
	assert.ErrorIs(t, pe, cause)
	assert.Contains(t, pe.Error(), "partition 2")

	ee := &EngineError{Op: "start", Engine: "realtime", Err: ErrNotRunning}
	assert.ErrorIs(t, ee, ErrNotRunning)
	assert.Contains(t, ee.Error(), "realtime start")
}

func TestNewDecoration(t *testing.T) {
	d := NewDecoration([]string{"color", "price"}, []string{"distance"})
	assert.Len(t, d.FacetHandlers, 2)
	assert.Len(t, d.RuntimeFacetHandlerFactories, 1)
	assert.Equal(t, "distance", d.RuntimeFacetHandlerFactories[0].Name())
}
