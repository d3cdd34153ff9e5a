package worker

import (
	"context"
	"time"

	"github.com/ikwen/paygate/internal/models"
)

type Reconciler interface {
	Run(ctx context.Context) ([]models.WalletDrift, error)
}

// ReconciliationWorker runs periodic wallet reconciliation checks.
type ReconciliationWorker struct {
	loop
	svc Reconciler
}

// NewReconciliationWorker constructs a worker with a default daily interval.
// It also runs once at startup.
func NewReconciliationWorker(svc Reconciler) *ReconciliationWorker {
	return &ReconciliationWorker{
		loop: newLoop("reconciliation", 24*time.Hour, true),
		svc:  svc,
	}
}

// WithInterval updates the run interval.
func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	w.setInterval(interval)
	return w
}

// Start blocks and runs reconciliation at the configured interval.
func (w *ReconciliationWorker) Start(ctx context.Context) { w.run(ctx, w.ProcessOnce) }

// Stop stops the running worker loop.
func (w *ReconciliationWorker) Stop() { w.stop() }

// Run starts the worker in a goroutine and returns a stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *ReconciliationWorker) ProcessOnce(ctx context.Context) error {
	_, err := w.svc.Run(ctx)
	return err
}
