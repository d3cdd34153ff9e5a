package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper settles charges that never received a provider answer.
type Sweeper interface {
	SweepTimeouts(ctx context.Context, olderThan time.Duration, batch int32) (int, error)
}

// TimeoutWorker periodically moves abandoned Running charges to Timeout.
type TimeoutWorker struct {
	loop
	sweeper   Sweeper
	olderThan time.Duration
	batchSize int32
}

func NewTimeoutWorker(sweeper Sweeper, olderThan time.Duration) *TimeoutWorker {
	return &TimeoutWorker{
		loop:      newLoop("timeout", time.Minute, false),
		sweeper:   sweeper,
		olderThan: olderThan,
		batchSize: 200,
	}
}

func (w *TimeoutWorker) WithInterval(interval time.Duration) *TimeoutWorker {
	w.setInterval(interval)
	return w
}

func (w *TimeoutWorker) Start(ctx context.Context) { w.run(ctx, w.ProcessOnce) }

func (w *TimeoutWorker) Stop() { w.stop() }

func (w *TimeoutWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *TimeoutWorker) ProcessOnce(ctx context.Context) error {
	n, err := w.sweeper.SweepTimeouts(ctx, w.olderThan, w.batchSize)
	if n > 0 {
		zap.L().Info("timed out charges swept", zap.Int("count", n))
	}
	return err
}
