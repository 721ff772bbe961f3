package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/solarwatt2mqtt/pkg/solarwatt"
)

// Snapshot is the set of items captured by one poll. Published snapshots are never mutated.
type Snapshot struct {
	Items     []solarwatt.Item `json:"items"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func NewSnapshot(items []solarwatt.Item, at time.Time) Snapshot {
	cp := make([]solarwatt.Item, len(items))
	copy(cp, items)
	return Snapshot{Items: cp, UpdatedAt: at}
}

// Find returns the first item with the given name.
func (s Snapshot) Find(name string) (solarwatt.Item, bool) {
	for i := range s.Items {
		if s.Items[i].Name == name {
			return s.Items[i], true
		}
	}
	return solarwatt.Item{}, false
}

func (s Snapshot) Len() int {
	return len(s.Items)
}

func (s Snapshot) IsZero() bool {
	return s.UpdatedAt.IsZero() && len(s.Items) == 0
}

// UpdateFailedError is what the polling layer reports for any failed refresh.
type UpdateFailedError struct {
	Err error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("update failed: %v", e.Err)
}

func (e *UpdateFailedError) Unwrap() error {
	return e.Err
}

func UpdateFailed(err error) error {
	if err == nil {
		return nil
	}
	var uf *UpdateFailedError
	if errors.As(err, &uf) {
		return err
	}
	return &UpdateFailedError{Err: err}
}

type DeviceClass string

const (
	DEVICE_CLASS_NONE    DeviceClass = ""
	DEVICE_CLASS_POWER   DeviceClass = "power"
	DEVICE_CLASS_BATTERY DeviceClass = "battery"
)

type EntityAttributes struct {
	RawState string `json:"raw_state"`
	Type     string `json:"type"`
	Label    string `json:"label"`
}

// SensorEntity is the rendered view of one item.
type SensorEntity struct {
	UniqueId        string           `json:"unique_id"`
	ItemName        string           `json:"item_name"`
	DisplayName     string           `json:"display_name"`
	NativeValue     *float64         `json:"native_value"`
	Unit            string           `json:"unit,omitempty"`
	DeviceClass     DeviceClass      `json:"device_class,omitempty"`
	StateClass      string           `json:"state_class,omitempty"`
	ExtraAttributes EntityAttributes `json:"extra_attributes"`
	Available       bool             `json:"available"`
}
