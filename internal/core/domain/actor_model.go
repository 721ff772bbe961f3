package domain

import "github.com/berfenger/solarwatt2mqtt/pkg/solarwatt"

const (
	ACTOR_ID_ENTRY        = "entry"
	ACTOR_ID_GATEWAY      = "gateway"
	ACTOR_ID_COORDINATOR  = "coordinator"
	ACTOR_ID_MATERIALIZER = "materializer"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

// RefreshRequest asks for a new snapshot. Sent to the coordinator it refreshes the
// published snapshot, sent to the gateway it only fetches.
type RefreshRequest struct {
	ActorRequestMixIn
}

type RefreshResponse struct {
	ActorResponseMixIn
	Snapshot Snapshot
}

type FetchItemRequest struct {
	ActorRequestMixIn
	Name string
}

type FetchItemResponse struct {
	ActorResponseMixIn
	Item solarwatt.Item
}

// FirstRefreshResult is sent by the coordinator to its parent once the startup refresh completes.
type FirstRefreshResult struct {
	ActorResponseMixIn
	Snapshot Snapshot
}

type GetSnapshotRequest struct {
	ActorRequestMixIn
}

type GetSnapshotResponse struct {
	ActorResponseMixIn
	Snapshot          Snapshot
	HasSnapshot       bool
	Refreshing        bool
	LastUpdateSuccess bool
	LastError         string
}

type GetEntitiesRequest struct {
	ActorRequestMixIn
}

type GetEntitiesResponse struct {
	ActorResponseMixIn
	Entities []SensorEntity
}

// EntrySetupRequest is answered once entry setup has succeeded or failed.
type EntrySetupRequest struct {
	ActorRequestMixIn
}

type EntrySetupResponse struct {
	ActorResponseMixIn
	EntryId   string
	ItemCount int
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishEntityStateRequest struct {
	ActorRequestMixIn
	Entity SensorEntity
}

type PublishEntityStateResponse struct {
	ActorResponseMixIn
}

type PublishBridgeStateRequest struct {
	ActorRequestMixIn
	Online bool
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
	Buttons []GenericButton
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
