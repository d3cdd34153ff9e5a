package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ikwen/paygate/internal/models"
	"github.com/ikwen/paygate/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Charger claims and executes push charges.
type Charger interface {
	ClaimCharges(ctx context.Context, batch int32) ([]models.Transaction, error)
	ExecuteCharge(ctx context.Context, tx models.Transaction) error
}

// ChargeWorker sends push charges to providers. It polls, and is also woken
// by Notify as soon as a charge is recorded. Safe for concurrent instances
// thanks to FOR UPDATE SKIP LOCKED.
type ChargeWorker struct {
	loop
	charger     Charger
	batchSize   int32
	concurrency int
}

func NewChargeWorker(charger Charger) *ChargeWorker {
	return &ChargeWorker{
		loop:        newLoop("charge", 2*time.Second, true),
		charger:     charger,
		batchSize:   20,
		concurrency: 8,
	}
}

func (w *ChargeWorker) WithPollInterval(interval time.Duration) *ChargeWorker {
	w.setInterval(interval)
	return w
}

func (w *ChargeWorker) WithBatchSize(size int32) *ChargeWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

func (w *ChargeWorker) WithConcurrency(n int) *ChargeWorker {
	if n > 0 {
		w.concurrency = n
	}
	return w
}

// Notify wakes the worker. It never blocks.
func (w *ChargeWorker) Notify() { w.notify() }

func (w *ChargeWorker) Start(ctx context.Context) { w.run(ctx, w.ProcessOnce) }

func (w *ChargeWorker) Stop() { w.stop() }

// Run starts the worker in a goroutine and returns a stop function.
func (w *ChargeWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce claims one batch and executes it with bounded concurrency.
// A full batch triggers another run right away.
func (w *ChargeWorker) ProcessOnce(ctx context.Context) error {
	claimed, err := w.charger.ClaimCharges(ctx, w.batchSize)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, tx := range claimed {
		g.Go(func() error {
			observability.AddChargesInFlight(1)
			defer observability.AddChargesInFlight(-1)
			if err := w.charger.ExecuteCharge(gctx, tx); err != nil {
				zap.L().Error("execute charge",
					zap.String("transaction_id", tx.ID.String()),
					zap.String("provider", string(tx.Provider)),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	if int32(len(claimed)) == w.batchSize {
		w.notify()
	}
	return nil
}

func (w *ChargeWorker) String() string {
	return fmt.Sprintf("ChargeWorker(interval=%v, batch=%d, concurrency=%d)", w.interval, w.batchSize, w.concurrency)
}
