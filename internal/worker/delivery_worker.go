package worker

import (
	"context"
	"time"
)

// Dispatcher sends queued tenant callbacks.
type Dispatcher interface {
	DispatchDue(ctx context.Context, batch int32) (int, error)
}

// DeliveryWorker drains the tenant callback outbox.
type DeliveryWorker struct {
	loop
	dispatcher Dispatcher
	batchSize  int32
}

func NewDeliveryWorker(dispatcher Dispatcher) *DeliveryWorker {
	return &DeliveryWorker{
		loop:       newLoop("delivery", 5*time.Second, true),
		dispatcher: dispatcher,
		batchSize:  50,
	}
}

func (w *DeliveryWorker) WithPollInterval(interval time.Duration) *DeliveryWorker {
	w.setInterval(interval)
	return w
}

func (w *DeliveryWorker) WithBatchSize(size int32) *DeliveryWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

func (w *DeliveryWorker) Start(ctx context.Context) { w.run(ctx, w.ProcessOnce) }

func (w *DeliveryWorker) Stop() { w.stop() }

func (w *DeliveryWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *DeliveryWorker) ProcessOnce(ctx context.Context) error {
	_, err := w.dispatcher.DispatchDue(ctx, w.batchSize)
	return err
}
