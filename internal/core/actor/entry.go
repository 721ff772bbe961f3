package actor

import (
	"errors"
	"fmt"
	"time"

	adactor "github.com/berfenger/solarwatt2mqtt/internal/adapter/actor"
	"github.com/berfenger/solarwatt2mqtt/internal/config"
	"github.com/berfenger/solarwatt2mqtt/internal/core/domain"
	"github.com/berfenger/solarwatt2mqtt/internal/mqtt"
	. "github.com/berfenger/solarwatt2mqtt/internal/util/actorutil"
	"github.com/berfenger/solarwatt2mqtt/pkg/solarwatt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrEntryNotLoaded = errors.New("entry not loaded")

// EntryContext is shared by every actor of one configured gateway.
type EntryContext struct {
	EntryId     string
	Config      config.Config
	EventStream *eventstream.EventStream
	Logger      *zap.Logger
}

func NewEntryContext(cfg config.Config, logger *zap.Logger) *EntryContext {
	id := uuid.NewString()
	return &EntryContext{
		EntryId:     id,
		Config:      cfg,
		EventStream: &eventstream.EventStream{},
		Logger:      logger.With(zap.String("entry", id)),
	}
}

type GatewayActorProvider func(entry *EntryContext) *adactor.GatewayActor

type MQTTActorProvider func(entry *EntryContext) *adactor.MQTTActor

func SolarwattGatewayActorProvider(endpoint solarwatt.Endpoint) GatewayActorProvider {
	return func(entry *EntryContext) *adactor.GatewayActor {
		timeout := entry.Config.RequestTimeout()
		return adactor.NewGatewayActor(adactor.SolarwattClientProvider(endpoint, timeout, entry.Logger), entry.Config.GatewayTaskTimeout(), entry.Logger)
	}
}

func PahoMQTTActorProvider() MQTTActorProvider {
	return func(entry *EntryContext) *adactor.MQTTActor {
		return adactor.NewMQTTActor(&entry.Config, entry.Logger)
	}
}

// EntryActor owns the lifecycle of one entry: setup, run and unload.
type EntryActor struct {
	ActorWithStates
	entry *EntryContext
	stash *Stash

	currentHealthCheck   healthCheckResult
	gatewayActor         *actor.PID
	mqttActor            *actor.PID
	coordinatorActor     *actor.PID
	materializerActor    *actor.PID
	materializerEvents   *eventstream.Subscription
	gatewayActorProvider GatewayActorProvider
	mqttActorProvider    MQTTActorProvider

	setupError error
	itemCount  int
	logger     *zap.Logger
}

type healthCheckResult struct {
	healthy        map[string]bool
	checksReceived int
	respondTo      *actor.PID
}

func NewEntryActor(entry *EntryContext, gatewayActorProvider GatewayActorProvider, mqttActorProvider MQTTActorProvider) *EntryActor {
	act := &EntryActor{
		ActorWithStates:      NewActorWithStates(),
		entry:                entry,
		stash:                &Stash{},
		gatewayActorProvider: gatewayActorProvider,
		mqttActorProvider:    mqttActorProvider,
		logger:               ActorLogger(domain.ACTOR_ID_ENTRY, entry.Logger),
	}
	act.Become(NamedState{StateName: "starting", Fn: act.StartingReceive})
	return act
}

func (state *EntryActor) Receive(context actor.Context) {
	if _, ok := context.Message().(*actor.Stopping); ok {
		state.unsubscribeMaterializer()
	}
	state.Behavior.Receive(context)
}

func (state *EntryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("entry@starting started")

		// gateway first, the coordinator needs it
		gatewayActorPID, err := state.startGatewayActor(ctx)
		if err != nil {
			panic(err)
		}
		state.gatewayActor = gatewayActorPID

		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		// the materializer subscribes before the first snapshot is published
		materializerActorPID, err := state.startMaterializerActor(ctx)
		if err != nil {
			panic(err)
		}
		state.materializerActor = materializerActorPID
		state.materializerEvents = SubscribeEntryEvents(state.entry, ctx.ActorSystem(), materializerActorPID)

		coordinatorActorPID, err := state.startCoordinatorActor(ctx)
		if err != nil {
			panic(err)
		}
		state.coordinatorActor = coordinatorActorPID

		state.Become(NamedState{StateName: "waiting_first_refresh", Fn: state.WaitingFirstRefreshReceive})
	default:
		state.logger.Debug("entry@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *EntryActor) WaitingFirstRefreshReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.FirstRefreshResult:
		if msg.HasResponseError() {
			state.logger.Error("entry@waiting setup failed", zap.Error(msg.GetResponseError()))
			state.setupError = msg.GetResponseError()
			state.stopChildren(ctx)
			state.Become(NamedState{StateName: "failed", Fn: state.FailedReceive})
			state.stash.UnstashAll(ctx)
			return
		}
		state.itemCount = msg.Snapshot.Len()
		state.logger.Info("entry@waiting setup completed", zap.Int("items", state.itemCount))

		if state.entry.Config.MQTT.HADiscoveryEnable {
			if _, err := state.startHADiscoveryActor(ctx); err != nil {
				panic(err)
			}
		}

		state.Become(NamedState{StateName: "default", Fn: state.DefaultReceive})
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_ENTRY,
			Healthy: false,
			State:   state.StateName(),
		})
	case *actor.Terminated:
		state.logger.Debug("entry@waiting child terminated", zap.String("who", msg.Who.Id))
	default:
		state.logger.Debug("entry@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *EntryActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.EntrySetupRequest:
		ForRequest(msg).Respond(ctx, domain.EntrySetupResponse{
			EntryId:   state.entry.EntryId,
			ItemCount: state.itemCount,
		})
	case domain.GetSnapshotRequest, domain.RefreshRequest:
		ctx.Forward(state.coordinatorActor)
	case domain.GetEntitiesRequest:
		ctx.Forward(state.materializerActor)
	case domain.FetchItemRequest:
		ctx.Forward(state.gatewayActor)
	case adactor.ParsedCommand:
		state.logger.Debug("entry@default parsedCommand", zap.Any("command", msg.Command))
		if isRefreshPress(msg.Command) {
			ctx.Send(state.coordinatorActor, domain.RefreshRequest{})
		}
	case domain.FirstRefreshResult:
		// coordinator was restarted by its supervisor
		state.logger.Info("entry@default coordinator restarted", zap.Bool("failed", msg.HasResponseError()))
		if msg.HasResponseError() {
			ctx.Send(state.coordinatorActor, startPolling{})
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("entry@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		for id, pid := range map[string]*actor.PID{
			domain.ACTOR_ID_GATEWAY:     state.gatewayActor,
			domain.ACTOR_ID_MQTT:        state.mqttActor,
			domain.ACTOR_ID_COORDINATOR: state.coordinatorActor,
		} {
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      id,
					Healthy: false,
				}
			})
		}
		ctx.SetReceiveTimeout(1 * time.Second)
		state.BecomeStacked(NamedState{StateName: "healthcheck", Fn: state.HealthCheckReceive})
	case *actor.Terminated:
		state.logger.Error("entry@default child terminated", zap.String("who", msg.Who.Id))
		if msg.Who.Equal(state.gatewayActor) {
			panic(errors.New("gateway terminated"))
		}
	default:
		state.logger.Debug("entry@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *EntryActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.finishHealthCheck(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("entry@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		state.currentHealthCheck.healthy[msg.Id] = msg.Healthy
		if state.currentHealthCheck.allReceived() {
			state.finishHealthCheck(ctx)
		}
	default:
		state.logger.Debug("entry@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// FailedReceive answers every request with the setup error until the entry is stopped.
func (state *EntryActor) FailedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.EntrySetupRequest:
		ForRequest(msg).Respond(ctx, domain.EntrySetupResponse{
			ActorResponseMixIn: domain.ErrorResponse(state.setupError),
			EntryId:            state.entry.EntryId,
		})
	case domain.GetSnapshotRequest:
		ForRequest(msg).Respond(ctx, domain.GetSnapshotResponse{
			ActorResponseMixIn: domain.ErrorResponse(ErrEntryNotLoaded),
			LastError:          state.setupError.Error(),
		})
	case domain.RefreshRequest:
		ForRequest(msg).Respond(ctx, domain.RefreshResponse{ActorResponseMixIn: domain.ErrorResponse(ErrEntryNotLoaded)})
	case domain.GetEntitiesRequest:
		ForRequest(msg).Respond(ctx, domain.GetEntitiesResponse{ActorResponseMixIn: domain.ErrorResponse(ErrEntryNotLoaded)})
	case domain.FetchItemRequest:
		ForRequest(msg).Respond(ctx, domain.FetchItemResponse{ActorResponseMixIn: domain.ErrorResponse(ErrEntryNotLoaded)})
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_ENTRY,
			Healthy: false,
			State:   state.StateName(),
		})
	default:
		state.logger.Debug("entry@failed default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *EntryActor) finishHealthCheck(ctx actor.Context) {
	ctx.CancelReceiveTimeout()
	state.currentHealthCheck.respond(ctx)
	state.UnbecomeStacked()
	state.stash.UnstashAll(ctx)
}

func (state *EntryActor) stopChildren(ctx actor.Context) {
	state.unsubscribeMaterializer()
	for _, pid := range []*actor.PID{state.coordinatorActor, state.materializerActor, state.mqttActor, state.gatewayActor} {
		if pid != nil {
			ctx.Stop(pid)
		}
	}
}

func (state *EntryActor) unsubscribeMaterializer() {
	if state.materializerEvents != nil {
		state.entry.EventStream.Unsubscribe(state.materializerEvents)
		state.materializerEvents = nil
	}
}

func (state *EntryActor) decider(reason interface{}) actor.Directive {
	state.logger.Warn("entry: handling failure for child", zap.Any("reason", reason))
	return actor.RestartDirective
}

func (state *EntryActor) startGatewayActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	gatewayProps := actor.PropsFromProducer(func() actor.Actor {
		return state.gatewayActorProvider(state.entry)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(gatewayProps, domain.ACTOR_ID_GATEWAY)
}

func (state *EntryActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.entry)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
}

func (state *EntryActor) startMaterializerActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, state.decider)

	mqttActor := state.mqttActor
	materializerProps := actor.PropsFromProducer(func() actor.Actor {
		return NewMaterializerActor(state.entry, mqttActor)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(materializerProps, domain.ACTOR_ID_MATERIALIZER)
}

func (state *EntryActor) startCoordinatorActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, state.decider)

	gatewayActor := state.gatewayActor
	coordinatorProps := actor.PropsFromProducer(func() actor.Actor {
		return NewCoordinatorActor(state.entry, gatewayActor)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(coordinatorProps, domain.ACTOR_ID_COORDINATOR)
}

func (state *EntryActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, state.decider)

	gatewayActor, mqttActor := state.gatewayActor, state.mqttActor
	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.entry.Config, gatewayActor, mqttActor, state.entry.Logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
}

func isRefreshPress(cmd *mqtt.ParsedMQTTCommand) bool {
	return cmd != nil &&
		cmd.Command == "button" &&
		cmd.DeviceId == domain.BUTTON_ID_REFRESH &&
		cmd.Payload == mqtt.MQTT_PAYLOAD_PRESS
}

func (state *healthCheckResult) reset() {
	state.healthy = make(map[string]bool)
	state.checksReceived = 0
	state.respondTo = nil
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 3
}

func (state *healthCheckResult) allHealthy() bool {
	for _, id := range []string{domain.ACTOR_ID_GATEWAY, domain.ACTOR_ID_MQTT, domain.ACTOR_ID_COORDINATOR} {
		if !state.healthy[id] {
			return false
		}
	}
	return true
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_ENTRY,
		Healthy: state.allHealthy(),
		State:   "default",
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
