package service

import (
	"github.com/berfenger/solarwatt2mqtt/internal/core/domain"
	"github.com/berfenger/solarwatt2mqtt/internal/core/port"

	"go.uber.org/zap"
)

// Materializer keeps one Sensor per eligible item name ever observed.
// Sensors are never removed.
type Materializer struct {
	device  domain.Device
	sink    port.EntitySink
	sensors map[string]*Sensor
	order   []string
	logger  *zap.Logger
}

func NewMaterializer(device domain.Device, sink port.EntitySink, logger *zap.Logger) *Materializer {
	return &Materializer{
		device:  device,
		sink:    sink,
		sensors: make(map[string]*Sensor),
		logger:  logger,
	}
}

func (m *Materializer) Device() domain.Device {
	return m.device
}

func (m *Materializer) OnSnapshotChanged(snapshot domain.Snapshot) {
	var added []string
	for _, item := range snapshot.Items {
		if _, ok := m.sensors[item.Name]; ok {
			continue
		}
		if !Eligible(item) {
			m.logger.Debug("materializer skip item", zap.String("name", item.Name), zap.String("type", item.Type))
			continue
		}
		m.sensors[item.Name] = NewSensor(domain.EntityUniqueId(m.device, item.Name), item)
		m.order = append(m.order, item.Name)
		added = append(added, item.Name)
	}

	for _, name := range added {
		m.logger.Info("materializer new entity", zap.String("name", name))
		if m.sink != nil {
			m.sink.EntityAdded(m.sensors[name].Entity())
		}
	}

	for _, name := range m.order {
		sensor := m.sensors[name]
		sensor.OnSnapshotChanged(snapshot)
		if m.sink != nil {
			m.sink.EntityUpdated(sensor.Entity())
		}
	}
}

// Entities returns the known entities in order of first sighting.
func (m *Materializer) Entities() []domain.SensorEntity {
	entities := make([]domain.SensorEntity, 0, len(m.order))
	for _, name := range m.order {
		entities = append(entities, m.sensors[name].Entity())
	}
	return entities
}

func (m *Materializer) Len() int {
	return len(m.order)
}

// ensure interface compliance
var _ port.Renderable = &Materializer{}
