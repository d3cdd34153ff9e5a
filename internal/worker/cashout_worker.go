package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Aggregator interface {
	Aggregate(ctx context.Context) (int, error)
}

// CashOutWorker periodically turns wallet balances into cash-out requests.
type CashOutWorker struct {
	loop
	aggregator Aggregator
}

func NewCashOutWorker(aggregator Aggregator) *CashOutWorker {
	return &CashOutWorker{
		loop:       newLoop("cashout", 24*time.Hour, false),
		aggregator: aggregator,
	}
}

func (w *CashOutWorker) WithInterval(interval time.Duration) *CashOutWorker {
	w.setInterval(interval)
	return w
}

func (w *CashOutWorker) Start(ctx context.Context) { w.run(ctx, w.ProcessOnce) }

func (w *CashOutWorker) Stop() { w.stop() }

func (w *CashOutWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *CashOutWorker) ProcessOnce(ctx context.Context) error {
	n, err := w.aggregator.Aggregate(ctx)
	if n > 0 {
		zap.L().Info("cash-out requests created", zap.Int("count", n))
	}
	return err
}
