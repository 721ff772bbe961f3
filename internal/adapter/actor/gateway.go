package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/solarwatt2mqtt/internal/core/domain"
	"github.com/berfenger/solarwatt2mqtt/internal/core/port"
	"github.com/berfenger/solarwatt2mqtt/internal/core/service"
	"github.com/berfenger/solarwatt2mqtt/internal/util/actorutil"
	"github.com/berfenger/solarwatt2mqtt/pkg/solarwatt"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// GatewayClient is what the gateway actor needs from a session client.
type GatewayClient interface {
	port.ItemFetcher
	Close() error
}

type GatewayClientProvider func() (GatewayClient, error)

// GatewayActor owns the gateway session. Requests are served one at a time.
type GatewayActor struct {
	actorutil.ActorWithStates
	stash     *actorutil.Stash
	provider  GatewayClientProvider
	client    GatewayClient
	refresher port.Refreshable
	timeout   time.Duration
	logger    *zap.Logger
}

type gatewayTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewGatewayActor(provider GatewayClientProvider, timeout time.Duration, logger *zap.Logger) *GatewayActor {
	act := &GatewayActor{
		ActorWithStates: actorutil.NewActorWithStates(),
		stash:           &actorutil.Stash{},
		provider:        provider,
		timeout:         timeout,
		logger:          actorutil.ActorLogger(domain.ACTOR_ID_GATEWAY, logger),
	}
	act.Become(actorutil.NamedState{StateName: "starting", Fn: act.StartingReceive})
	return act
}

// SolarwattClientProvider builds a session client for the given endpoint.
func SolarwattClientProvider(endpoint solarwatt.Endpoint, timeout time.Duration, logger *zap.Logger) GatewayClientProvider {
	return func() (GatewayClient, error) {
		client, err := solarwatt.NewClient(endpoint, timeout, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func (state *GatewayActor) Receive(ctx actor.Context) {
	state.Behavior.Receive(ctx)
}

func (state *GatewayActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("gateway@starting started")
		client, err := state.provider()
		if err != nil {
			panic(err)
		}
		state.client = client
		state.refresher = service.NewGatewayRefresher(client)
		state.Become(actorutil.NamedState{StateName: "idle", Fn: state.DefaultReceive})
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.close()
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("gateway@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *GatewayActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("gateway@default ActorHealthRequest")
		ctx.Respond(state.health())
	case domain.RefreshRequest:
		state.logger.Debug("gateway@default RefreshRequest")
		replyTo := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.NewBackgroundTaskCtx(ctx, func(taskCtx context.Context) (*gatewayTaskResult, error) {
			snapshot, err := state.refresher.Refresh(taskCtx)
			return &gatewayTaskResult{
				message: domain.RefreshResponse{
					ActorResponseMixIn: domain.ErrorResponse(err),
					Snapshot:           snapshot,
				},
				replyTo: replyTo,
			}, nil
		}).Recover(func(err error) gatewayTaskResult {
			return gatewayTaskResult{
				message: domain.RefreshResponse{
					ActorResponseMixIn: domain.ErrorResponse(domain.UpdateFailed(err)),
				},
				replyTo: replyTo,
			}
		}).WithTimeout(state.timeout).PipeTo(ctx.Self())
		state.BecomeStacked(actorutil.NamedState{StateName: "fetching", Fn: state.WaitingGateway})
	case domain.FetchItemRequest:
		state.logger.Debug("gateway@default FetchItemRequest", zap.String("name", msg.Name))
		replyTo := actorutil.ForRequest(msg).ReplyTo(ctx)
		name := msg.Name
		actorutil.NewBackgroundTaskCtx(ctx, func(taskCtx context.Context) (*gatewayTaskResult, error) {
			item, err := state.client.FetchItem(taskCtx, name)
			return &gatewayTaskResult{
				message: domain.FetchItemResponse{
					ActorResponseMixIn: domain.ErrorResponse(err),
					Item:               item,
				},
				replyTo: replyTo,
			}, nil
		}).Recover(func(err error) gatewayTaskResult {
			return gatewayTaskResult{
				message: domain.FetchItemResponse{
					ActorResponseMixIn: domain.ErrorResponse(err),
				},
				replyTo: replyTo,
			}
		}).WithTimeout(state.timeout).PipeTo(ctx.Self())
		state.BecomeStacked(actorutil.NamedState{StateName: "fetching", Fn: state.WaitingGateway})
	case *actor.Restarting:
		state.close()
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("gateway@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *GatewayActor) WaitingGateway(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case gatewayTaskResult:
		state.logger.Debug("gateway@fetching gatewayTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if resp, ok := msg.message.(domain.ActorResponse); ok && resp.HasResponseError() {
			state.logger.Warn("gateway@fetching request failed", zap.Error(resp.GetResponseError()))
		}
		actorutil.Reply(ctx, msg.replyTo, msg.message)
		state.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(state.health())
	case *actor.Restarting:
		state.close()
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("gateway@fetching stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *GatewayActor) health() domain.ActorHealthResponse {
	return domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_GATEWAY,
		Healthy: state.client != nil,
		State:   state.StateName(),
	}
}

// close releases the session. The client tolerates repeated calls.
func (state *GatewayActor) close() {
	if state.client == nil {
		return
	}
	state.logger.Debug("gateway: close session")
	if err := state.client.Close(); err != nil {
		state.logger.Warn("gateway: close session failed", zap.Error(err))
	}
}
