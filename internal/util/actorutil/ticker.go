package actorutil

import (
	"context"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
)

// QuartzTicker sends msg to an actor at a fixed interval. The first message is sent
// one interval after Start.
type QuartzTicker struct {
	scheduler quartz.Scheduler
	cancel    context.CancelFunc
}

func StartQuartzTicker(system *actor.ActorSystem, pid *actor.PID, name string, interval time.Duration, msg any) (*QuartzTicker, error) {
	sched, err := quartz.NewStdScheduler()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)

	tick := job.NewFunctionJob(func(context.Context) (bool, error) {
		system.Root.Send(pid, msg)
		return true, nil
	})
	if err := sched.ScheduleJob(quartz.NewJobDetail(tick, quartz.NewJobKey(name)), quartz.NewSimpleTrigger(interval)); err != nil {
		cancel()
		sched.Stop()
		return nil, err
	}
	return &QuartzTicker{scheduler: sched, cancel: cancel}, nil
}

func (t *QuartzTicker) Stop() {
	if t == nil {
		return
	}
	t.scheduler.Stop()
	t.cancel()
	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	t.scheduler.Wait(waitCtx)
}
