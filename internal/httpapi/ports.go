package httpapi

import (
	"context"

	"lumen-gatherer/internal/discovery"
	"lumen-gatherer/internal/planner"
	"lumen-gatherer/internal/protocol"
	"lumen-gatherer/internal/watch"
)

type InfoGatherer interface {
	GatherAll(ctx context.Context, plans planner.Plans, ref discovery.Reference, opts ...planner.CallOption) (map[protocol.Serial]planner.DeviceResult, error)
}

// Snapshots is the read side of a watcher.
type Snapshots interface {
	Latest() watch.Snapshot
	Device(serial protocol.Serial) (planner.DeviceResult, bool)
}
