package service

import (
	"github.com/berfenger/solarwatt2mqtt/internal/core/domain"
	"github.com/berfenger/solarwatt2mqtt/internal/core/port"
	"github.com/berfenger/solarwatt2mqtt/pkg/solarwatt"
)

// Sensor is the entity view of one item name.
type Sensor struct {
	entity domain.SensorEntity
}

func NewSensor(uniqueId string, item solarwatt.Item) *Sensor {
	s := &Sensor{
		entity: domain.SensorEntity{
			UniqueId: uniqueId,
			ItemName: item.Name,
		},
	}
	s.apply(item)
	return s
}

func (s *Sensor) ItemName() string {
	return s.entity.ItemName
}

func (s *Sensor) Entity() domain.SensorEntity {
	entity := s.entity
	if s.entity.NativeValue != nil {
		value := *s.entity.NativeValue
		entity.NativeValue = &value
	}
	return entity
}

func (s *Sensor) OnSnapshotChanged(snapshot domain.Snapshot) {
	item, ok := snapshot.Find(s.entity.ItemName)
	if !ok {
		// last value and attributes are kept
		s.entity.Available = false
		return
	}
	s.apply(item)
}

func (s *Sensor) apply(item solarwatt.Item) {
	state := string(item.State)
	unit, deviceClass := Classify(item.Type, state)

	s.entity.DisplayName = item.Label
	if s.entity.DisplayName == "" {
		s.entity.DisplayName = item.Name
	}
	s.entity.Unit = unit
	s.entity.DeviceClass = deviceClass
	s.entity.StateClass = ""
	s.entity.NativeValue = nil
	if value, ok := ParseNumericState(state); ok {
		s.entity.NativeValue = &value
		s.entity.StateClass = domain.STATE_CLASS_MEASUREMENT
	}
	s.entity.ExtraAttributes = domain.EntityAttributes{
		RawState: state,
		Type:     item.Type,
		Label:    item.Label,
	}
	s.entity.Available = true
}

// ensure interface compliance
var _ port.Renderable = &Sensor{}
