package actor

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/berfenger/solarwatt2mqtt/internal/core/domain"
	"github.com/berfenger/solarwatt2mqtt/internal/util"
	"github.com/berfenger/solarwatt2mqtt/internal/util/actorutil"
	"github.com/berfenger/solarwatt2mqtt/pkg/solarwatt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeGateway answers RefreshRequests from a script, after delay.
type fakeGateway struct {
	mu        sync.Mutex
	responses []domain.RefreshResponse
	delay     time.Duration
	calls     atomic.Int32
	inflight  atomic.Int32
	maxFlight atomic.Int32
}

func (g *fakeGateway) next() domain.RefreshResponse {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.responses) == 0 {
		return domain.RefreshResponse{ActorResponseMixIn: domain.ErrorResponse(errors.New("no more responses"))}
	}
	resp := g.responses[0]
	if len(g.responses) > 1 {
		g.responses = g.responses[1:]
	}
	return resp
}

func (g *fakeGateway) props() *actor.Props {
	return actor.PropsFromFunc(func(ctx actor.Context) {
		switch ctx.Message().(type) {
		case domain.RefreshRequest:
			g.calls.Add(1)
			n := g.inflight.Add(1)
			if n > g.maxFlight.Load() {
				g.maxFlight.Store(n)
			}
			root, sender := ctx.ActorSystem().Root, ctx.Sender()
			resp := g.next()
			go func() {
				time.Sleep(g.delay)
				g.inflight.Add(-1)
				root.Send(sender, resp)
			}()
		}
	})
}

func snapshotOf(state string) domain.Snapshot {
	return domain.NewSnapshot([]solarwatt.Item{
		{Name: "Grid", Type: "Number:Power", State: solarwatt.State(state), Label: "Grid"},
	}, time.Now())
}

func newTestEntry(t *testing.T) *EntryContext {
	cfg := util.LoadTestConfig()
	return NewEntryContext(cfg, zap.Must(zap.NewDevelopment()))
}

func getSnapshot(t *testing.T, as *actor.ActorSystem, pid *actor.PID) domain.GetSnapshotResponse {
	result, err := as.Root.RequestFuture(pid, domain.GetSnapshotRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	resp, ok := result.(domain.GetSnapshotResponse)
	require.True(t, ok)
	return resp
}

func TestCoordinatorKeepsSnapshotOnFailure(t *testing.T) {

	entry := newTestEntry(t)
	as := actorutil.NewActorSystemWithZapLogger(entry.Logger)
	defer as.Shutdown()

	var events []domain.EntryEvent
	var evMu sync.Mutex
	sub := entry.EventStream.Subscribe(func(evt any) {
		if e, ok := evt.(domain.EntryEvent); ok {
			evMu.Lock()
			events = append(events, e)
			evMu.Unlock()
		}
	})
	defer entry.EventStream.Unsubscribe(sub)

	gw := &fakeGateway{responses: []domain.RefreshResponse{
		{Snapshot: snapshotOf("100 W")},
		{ActorResponseMixIn: domain.ErrorResponse(&solarwatt.FetchError{Resource: "items", StatusCode: 500})},
	}}
	gwPID := as.Root.Spawn(gw.props())
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return NewCoordinatorActor(entry, gwPID) }))

	assert.Eventually(t, func() bool { return getSnapshot(t, as, pid).HasSnapshot }, 5*time.Second, 50*time.Millisecond)
	first := getSnapshot(t, as, pid)
	assert.True(t, first.LastUpdateSuccess)

	result, err := as.Root.RequestFuture(pid, domain.RefreshRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.RefreshResponse)
	require.True(t, resp.HasResponseError())
	var uf *domain.UpdateFailedError
	assert.True(t, errors.As(resp.GetResponseError(), &uf))

	after := getSnapshot(t, as, pid)
	assert.True(t, after.HasSnapshot)
	assert.False(t, after.LastUpdateSuccess)
	assert.NotEmpty(t, after.LastError)
	assert.Equal(t, first.Snapshot.UpdatedAt, after.Snapshot.UpdatedAt)
	item, ok := after.Snapshot.Find("Grid")
	require.True(t, ok)
	assert.Equal(t, solarwatt.State("100 W"), item.State)

	health, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.False(t, health.(domain.ActorHealthResponse).Healthy)

	evMu.Lock()
	defer evMu.Unlock()
	require.Len(t, events, 2)
	_, ok = events[0].(domain.SnapshotUpdatedEvent)
	assert.True(t, ok)
	failed, ok := events[1].(domain.RefreshFailedEvent)
	assert.True(t, ok)
	assert.False(t, failed.First)
}

func TestCoordinatorSingleFlight(t *testing.T) {

	entry := newTestEntry(t)
	as := actorutil.NewActorSystemWithZapLogger(entry.Logger)
	defer as.Shutdown()

	gw := &fakeGateway{
		responses: []domain.RefreshResponse{{Snapshot: snapshotOf("1 W")}},
		delay:     200 * time.Millisecond,
	}
	gwPID := as.Root.Spawn(gw.props())
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return NewCoordinatorActor(entry, gwPID) }))

	// ticks during the startup refresh are dropped
	for i := 0; i < 5; i++ {
		as.Root.Send(pid, pollTick{})
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := as.Root.RequestFuture(pid, domain.RefreshRequest{}, 5*time.Second).Result()
			assert.NoError(t, err)
			assert.False(t, result.(domain.RefreshResponse).HasResponseError())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), gw.maxFlight.Load())
	// startup refresh plus one per explicit request
	assert.Equal(t, int32(4), gw.calls.Load())
	assert.False(t, getSnapshot(t, as, pid).Refreshing)
}

func TestCoordinatorTimeout(t *testing.T) {

	entry := newTestEntry(t)
	entry.Config.Gateway.RequestTimeoutMillis = 100
	as := actorutil.NewActorSystemWithZapLogger(entry.Logger)
	defer as.Shutdown()

	// the gateway never answers
	gwPID := as.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {}))
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return NewCoordinatorActor(entry, gwPID) }))

	result, err := as.Root.RequestFuture(pid, domain.RefreshRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	assert.True(t, result.(domain.RefreshResponse).HasResponseError())

	resp := getSnapshot(t, as, pid)
	assert.False(t, resp.HasSnapshot)
	assert.False(t, resp.LastUpdateSuccess)
}

func TestCoordinatorScheduledPolling(t *testing.T) {

	entry := newTestEntry(t)
	entry.Config.ScanInterval = 1
	as := actorutil.NewActorSystemWithZapLogger(entry.Logger)
	defer as.Shutdown()

	gw := &fakeGateway{responses: []domain.RefreshResponse{
		{Snapshot: snapshotOf("100 W")},
		{ActorResponseMixIn: domain.ErrorResponse(&solarwatt.FetchError{Resource: "items", StatusCode: 500})},
		{Snapshot: snapshotOf("200 W")},
	}}
	gwPID := as.Root.Spawn(gw.props())
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return NewCoordinatorActor(entry, gwPID) }))

	// the first scheduled poll fails
	assert.Eventually(t, func() bool {
		return gw.calls.Load() >= 2 && !getSnapshot(t, as, pid).LastUpdateSuccess
	}, 5*time.Second, 20*time.Millisecond)

	stale := getSnapshot(t, as, pid)
	require.True(t, stale.HasSnapshot)
	assert.NotEmpty(t, stale.LastError)
	item, ok := stale.Snapshot.Find("Grid")
	require.True(t, ok)
	assert.Equal(t, solarwatt.State("100 W"), item.State)

	// polling goes on after the failure
	assert.Eventually(t, func() bool {
		resp := getSnapshot(t, as, pid)
		item, ok := resp.Snapshot.Find("Grid")
		return resp.LastUpdateSuccess && ok && item.State == "200 W"
	}, 5*time.Second, 50*time.Millisecond)
	assert.GreaterOrEqual(t, gw.calls.Load(), int32(3))
}

func TestCoordinatorStartPollingAfterFailedFirstRefresh(t *testing.T) {

	entry := newTestEntry(t)
	entry.Config.ScanInterval = 1
	as := actorutil.NewActorSystemWithZapLogger(entry.Logger)
	defer as.Shutdown()

	gw := &fakeGateway{responses: []domain.RefreshResponse{
		{ActorResponseMixIn: domain.ErrorResponse(&solarwatt.FetchError{Resource: "items", StatusCode: 500})},
		{Snapshot: snapshotOf("100 W")},
	}}
	gwPID := as.Root.Spawn(gw.props())
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return NewCoordinatorActor(entry, gwPID) }))

	assert.Eventually(t, func() bool { return getSnapshot(t, as, pid).LastError != "" }, 5*time.Second, 20*time.Millisecond)

	// no ticker after a failed first refresh
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, int32(1), gw.calls.Load())

	as.Root.Send(pid, startPolling{})
	as.Root.Send(pid, startPolling{})

	assert.Eventually(t, func() bool {
		resp := getSnapshot(t, as, pid)
		return resp.HasSnapshot && resp.LastUpdateSuccess
	}, 5*time.Second, 50*time.Millisecond)
}
