package actor

import (
	"fmt"
	"reflect"

	"github.com/berfenger/solarwatt2mqtt/internal/core/domain"
	"github.com/berfenger/solarwatt2mqtt/internal/core/port"
	"github.com/berfenger/solarwatt2mqtt/internal/core/service"
	"github.com/berfenger/solarwatt2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// MaterializerActor turns snapshots into entities and pushes them to the MQTT actor.
type MaterializerActor struct {
	entry        *EntryContext
	behavior     actor.Behavior
	mqttActor    *actor.PID
	materializer *service.Materializer
	sink         *mqttEntitySink
	logger       *zap.Logger
}

// mqttEntitySink forwards entity changes to the MQTT actor. Discovery is
// published when an entity appears and again whenever its description changes.
type mqttEntitySink struct {
	ctx       actor.Context
	mqttActor *actor.PID
	device    domain.Device
	discovery bool
	published map[string]domain.GenericSensor
	logger    *zap.Logger
}

func NewMaterializerActor(entry *EntryContext, mqttActor *actor.PID) *MaterializerActor {
	logger := actorutil.ActorLogger(domain.ACTOR_ID_MATERIALIZER, entry.Logger)

	device := domain.GatewayDevice(entry.Config.Gateway.Host)
	device.ViaDevice = domain.BridgeDevice(entry.Config.MQTT.BaseTopic).Id

	sink := &mqttEntitySink{
		mqttActor: mqttActor,
		device:    device,
		discovery: entry.Config.MQTT.HADiscoveryEnable,
		published: make(map[string]domain.GenericSensor),
		logger:    logger,
	}
	act := &MaterializerActor{
		entry:        entry,
		behavior:     actor.NewBehavior(),
		mqttActor:    mqttActor,
		materializer: service.NewMaterializer(device, sink, logger),
		sink:         sink,
		logger:       logger,
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *MaterializerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MaterializerActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("materializer@default started")
	case domain.SnapshotUpdatedEvent:
		state.sink.ctx = ctx
		state.materializer.OnSnapshotChanged(msg.Snapshot)
		state.sink.ctx = nil
		state.logger.Debug("materializer@default snapshot applied", zap.Int("entities", state.materializer.Len()))
	case domain.RefreshFailedEvent:
		// entities keep their last state
		state.logger.Debug("materializer@default refresh failed", zap.Error(msg.Error))
	case domain.GetEntitiesRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.GetEntitiesResponse{
			Entities: state.materializer.Entities(),
		})
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MATERIALIZER,
			Healthy: true,
			State:   "default",
		})
	default:
		state.logger.Debug("materializer@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// SubscribeEntryEvents forwards every EntryEvent of the entry to pid. The caller
// owns the subscription and must create it before anything is published.
func SubscribeEntryEvents(entry *EntryContext, system *actor.ActorSystem, pid *actor.PID) *eventstream.Subscription {
	return entry.EventStream.Subscribe(func(evt any) {
		if _, ok := evt.(domain.EntryEvent); ok {
			system.Root.Send(pid, evt)
		}
	})
}

func (s *mqttEntitySink) EntityAdded(entity domain.SensorEntity) {
	s.publishDiscovery(entity)
}

func (s *mqttEntitySink) EntityUpdated(entity domain.SensorEntity) {
	s.publishDiscovery(entity)
	if s.ctx != nil {
		s.ctx.Send(s.mqttActor, domain.PublishEntityStateRequest{Entity: entity})
	}
}

func (s *mqttEntitySink) publishDiscovery(entity domain.SensorEntity) {
	if !s.discovery || s.ctx == nil {
		return
	}
	sensor := domain.EntitySensor(s.device, entity)
	if last, ok := s.published[entity.UniqueId]; ok && reflect.DeepEqual(last, sensor) {
		return
	}
	s.logger.Debug("materializer publish discovery", zap.String("unique_id", sensor.UniqueId), zap.String("device_class", sensor.DeviceClass))
	s.published[entity.UniqueId] = sensor
	s.ctx.Send(s.mqttActor, domain.PublishDiscoveryRequest{Sensors: []domain.GenericSensor{sensor}})
}

// ensure interface compliance
var _ port.EntitySink = &mqttEntitySink{}
