// Package worker runs the background loops of the gateway: charge dispatch,
// timeout sweeping, tenant callback delivery, cash-out aggregation and
// wallet reconciliation.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ikwen/paygate/internal/observability"
	"go.uber.org/zap"
)

// loop is the ticker loop shared by all workers. A signal on wake runs the
// job before the next tick.
type loop struct {
	name      string
	interval  time.Duration
	immediate bool
	wake      chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func newLoop(name string, interval time.Duration, immediate bool) loop {
	return loop{
		name:      name,
		interval:  interval,
		immediate: immediate,
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

func (l *loop) setInterval(interval time.Duration) {
	if interval > 0 {
		l.interval = interval
	}
}

// run blocks until ctx is canceled or stop is called.
func (l *loop) run(ctx context.Context, job func(ctx context.Context) error) {
	zap.L().Info("worker starting", zap.String("worker", l.name), zap.Duration("interval", l.interval))
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	if l.immediate {
		l.once(ctx, job)
	}
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("worker context canceled", zap.String("worker", l.name))
			return
		case <-l.stopCh:
			zap.L().Info("worker stop signal received", zap.String("worker", l.name))
			return
		case <-ticker.C:
			l.once(ctx, job)
		case <-l.wake:
			l.once(ctx, job)
		}
	}
}

func (l *loop) once(ctx context.Context, job func(ctx context.Context) error) {
	if err := job(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		observability.IncrementWorkerRun(l.name, "failed")
		zap.L().Error("worker run failed", zap.String("worker", l.name), zap.Error(err))
		return
	}
	observability.IncrementWorkerRun(l.name, "success")
}

// notify requests an early run without blocking.
func (l *loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *loop) stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}
