package port

import "github.com/berfenger/solarwatt2mqtt/internal/core/domain"

type Renderable interface {
	OnSnapshotChanged(snapshot domain.Snapshot)
}

// EntitySink receives entity lifecycle notifications from the materializer.
type EntitySink interface {
	EntityAdded(entity domain.SensorEntity)
	EntityUpdated(entity domain.SensorEntity)
}
