package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/solarwatt2mqtt/internal/core/domain"
	"github.com/berfenger/solarwatt2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	POLL_JOB_KEY = "solarwatt_poll"
)

// CoordinatorActor owns the published snapshot. It refreshes it on start, on every
// poll tick and on explicit request, never running two fetches at once.
type CoordinatorActor struct {
	actorutil.ActorWithStates
	stash    *actorutil.Stash
	entry    *EntryContext
	gateway  *actor.PID
	interval time.Duration
	timeout  time.Duration
	ticker   *actorutil.QuartzTicker

	snapshot          domain.Snapshot
	hasSnapshot       bool
	lastUpdateSuccess bool
	lastError         error
	firstDone         bool
	waiting           []*actor.PID

	logger *zap.Logger
}

type pollTick struct {
}

// startPolling schedules the poll ticker even though the first refresh failed.
type startPolling struct {
}

func NewCoordinatorActor(entry *EntryContext, gateway *actor.PID) *CoordinatorActor {
	act := &CoordinatorActor{
		ActorWithStates: actorutil.NewActorWithStates(),
		stash:           &actorutil.Stash{},
		entry:           entry,
		gateway:         gateway,
		interval:        entry.Config.ScanIntervalDuration(),
		timeout:         entry.Config.CoordinatorTimeout(),
		logger:          actorutil.ActorLogger(domain.ACTOR_ID_COORDINATOR, entry.Logger),
	}
	act.Become(actorutil.NamedState{StateName: "idle", Fn: act.DefaultReceive})
	return act
}

func (state *CoordinatorActor) Receive(ctx actor.Context) {
	state.Behavior.Receive(ctx)
}

func (state *CoordinatorActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("coordinator@idle started")
		state.startRefresh(ctx, nil)
	case pollTick:
		state.logger.Debug("coordinator@idle tick")
		state.startRefresh(ctx, nil)
	case startPolling:
		state.ensureTicker(ctx)
	case domain.RefreshRequest:
		state.logger.Debug("coordinator@idle RefreshRequest")
		state.startRefresh(ctx, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.GetSnapshotRequest:
		actorutil.ForRequest(msg).Respond(ctx, state.snapshotResponse())
	case domain.ActorHealthRequest:
		ctx.Respond(state.health())
	case *actor.Stopping:
		state.stopTicker()
	case *actor.Restarting:
		state.stopTicker()
	default:
		state.logger.Debug("coordinator@idle default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *CoordinatorActor) RefreshingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.RefreshResponse:
		err := state.applyRefresh(ctx, msg)
		for _, pid := range state.waiting {
			actorutil.Reply(ctx, pid, domain.RefreshResponse{
				ActorResponseMixIn: domain.ErrorResponse(err),
				Snapshot:           state.snapshot,
			})
		}
		state.waiting = nil
		state.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case pollTick:
		// single flight: the running fetch already covers this tick
		state.logger.Debug("coordinator@refreshing tick skipped")
	case startPolling:
		state.ensureTicker(ctx)
	case domain.RefreshRequest:
		state.logger.Debug("coordinator@refreshing stash RefreshRequest")
		state.stash.Stash(ctx, msg)
	case domain.GetSnapshotRequest:
		actorutil.ForRequest(msg).Respond(ctx, state.snapshotResponse())
	case domain.ActorHealthRequest:
		ctx.Respond(state.health())
	case *actor.Stopping:
		state.stopTicker()
	case *actor.Restarting:
		state.stopTicker()
	default:
		state.logger.Debug("coordinator@refreshing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *CoordinatorActor) startRefresh(ctx actor.Context, replyTo *actor.PID) {
	if replyTo != nil {
		state.waiting = append(state.waiting, replyTo)
	}
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.gateway, domain.RefreshRequest{}, state.timeout), func(err error) any {
		return domain.RefreshResponse{
			ActorResponseMixIn: domain.ErrorResponse(domain.UpdateFailed(err)),
		}
	})
	state.BecomeStacked(actorutil.NamedState{StateName: "refreshing", Fn: state.RefreshingReceive})
}

// applyRefresh records the outcome of a fetch and returns the UpdateFailed error, if any.
func (state *CoordinatorActor) applyRefresh(ctx actor.Context, msg domain.RefreshResponse) error {
	first := !state.firstDone
	state.firstDone = true

	if msg.HasResponseError() {
		err := domain.UpdateFailed(msg.GetResponseError())
		state.lastUpdateSuccess = false
		state.lastError = err
		// published snapshot stays untouched
		state.logger.Error("coordinator@refreshing update failed", zap.Bool("first", first), zap.Error(err))
		state.entry.EventStream.Publish(domain.RefreshFailedEvent{Error: err, First: first})
		if first {
			state.notifyParent(ctx, domain.FirstRefreshResult{ActorResponseMixIn: domain.ErrorResponse(err)})
		}
		return err
	}

	state.snapshot = msg.Snapshot
	state.hasSnapshot = true
	state.lastUpdateSuccess = true
	state.lastError = nil
	state.logger.Debug("coordinator@refreshing snapshot updated", zap.Int("items", msg.Snapshot.Len()))
	state.entry.EventStream.Publish(domain.SnapshotUpdatedEvent{Snapshot: msg.Snapshot})

	if first {
		state.ensureTicker(ctx)
		state.notifyParent(ctx, domain.FirstRefreshResult{Snapshot: msg.Snapshot})
	}
	return nil
}

func (state *CoordinatorActor) notifyParent(ctx actor.Context, msg domain.FirstRefreshResult) {
	if ctx.Parent() != nil {
		ctx.Send(ctx.Parent(), msg)
	}
}

func (state *CoordinatorActor) ensureTicker(ctx actor.Context) {
	if state.ticker != nil {
		return
	}
	ticker, err := actorutil.StartQuartzTicker(ctx.ActorSystem(), ctx.Self(), POLL_JOB_KEY, state.interval, pollTick{})
	if err != nil {
		panic(err)
	}
	state.ticker = ticker
	state.logger.Info("coordinator polling scheduled", zap.Duration("interval", state.interval))
}

func (state *CoordinatorActor) stopTicker() {
	if state.ticker != nil {
		state.ticker.Stop()
		state.ticker = nil
	}
}

func (state *CoordinatorActor) snapshotResponse() domain.GetSnapshotResponse {
	resp := domain.GetSnapshotResponse{
		Snapshot:          state.snapshot,
		HasSnapshot:       state.hasSnapshot,
		Refreshing:        state.StateName() == "refreshing",
		LastUpdateSuccess: state.lastUpdateSuccess,
	}
	if state.lastError != nil {
		resp.LastError = state.lastError.Error()
	}
	return resp
}

func (state *CoordinatorActor) health() domain.ActorHealthResponse {
	return domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_COORDINATOR,
		Healthy: state.lastUpdateSuccess,
		State:   state.StateName(),
	}
}
