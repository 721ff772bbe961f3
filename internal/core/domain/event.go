package domain

import "fmt"

type EntryEvent interface {
	EntryEvent() string
}

// SnapshotUpdatedEvent is published on the entry event stream after every successful refresh.
type SnapshotUpdatedEvent struct {
	Snapshot Snapshot
}

func (e SnapshotUpdatedEvent) EntryEvent() string {
	return fmt.Sprintf("%T", e)
}

// RefreshFailedEvent is published when a scheduled refresh fails. The snapshot is left untouched.
type RefreshFailedEvent struct {
	Error error
	First bool
}

func (e RefreshFailedEvent) EntryEvent() string {
	return fmt.Sprintf("%T", e)
}

// ensure interface compliance
var (
	_ EntryEvent = SnapshotUpdatedEvent{}
	_ EntryEvent = RefreshFailedEvent{}
)
