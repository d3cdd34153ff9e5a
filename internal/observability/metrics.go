package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpDurationHistogram  *prometheus.HistogramVec
	gatewayCallHistogram   *prometheus.HistogramVec
	transitionCounter      *prometheus.CounterVec
	providerCallbackCount  *prometheus.CounterVec
	deliveryCounter        *prometheus.CounterVec
	cashOutCounter         *prometheus.CounterVec
	cashOutAmountCounter   *prometheus.CounterVec
	walletImbalanceCounter *prometheus.CounterVec
	idempotencyCounter     *prometheus.CounterVec
	chargesInFlightGauge   prometheus.Gauge
	workerRunCounter       *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		gatewayCallHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Outbound provider call latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider", "outcome"})

		transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transaction_transitions_total",
			Help: "Transaction status transitions by provider and resulting status",
		}, []string{"provider", "status"})

		providerCallbackCount = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_callbacks_total",
			Help: "Inbound provider callbacks by outcome",
		}, []string{"provider", "outcome"})

		deliveryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callback_deliveries_total",
			Help: "Outbound tenant callback delivery attempts by outcome",
		}, []string{"outcome"})

		cashOutCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cashouts_total",
			Help: "Cash-out requests by provider and status",
		}, []string{"provider", "status"})

		cashOutAmountCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cashout_amount_micros_total",
			Help: "Gross amount moved into cash-out requests",
		}, []string{"currency"})

		walletImbalanceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_imbalance_total",
			Help: "Number of times a wallet balance diverged from its transaction history",
		}, []string{"currency"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		chargesInFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "charges_in_flight",
			Help: "Push charges currently being sent to providers",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			gatewayCallHistogram,
			transitionCounter,
			providerCallbackCount,
			deliveryCounter,
			cashOutCounter,
			cashOutAmountCounter,
			walletImbalanceCounter,
			idempotencyCounter,
			chargesInFlightGauge,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func ObserveGatewayCall(provider, outcome string, duration time.Duration) {
	if gatewayCallHistogram == nil {
		return
	}
	gatewayCallHistogram.WithLabelValues(provider, outcome).Observe(duration.Seconds())
}

func IncrementTransition(provider, status string) {
	if transitionCounter == nil {
		return
	}
	transitionCounter.WithLabelValues(provider, status).Inc()
}

func IncrementProviderCallback(provider, outcome string) {
	if providerCallbackCount == nil {
		return
	}
	providerCallbackCount.WithLabelValues(provider, outcome).Inc()
}

func IncrementDelivery(outcome string) {
	if deliveryCounter == nil {
		return
	}
	deliveryCounter.WithLabelValues(outcome).Inc()
}

func RecordCashOut(provider, status, currency string, amountMicros int64) {
	if cashOutCounter == nil {
		return
	}
	cashOutCounter.WithLabelValues(provider, status).Inc()
	if amountMicros > 0 {
		cashOutAmountCounter.WithLabelValues(currency).Add(float64(amountMicros))
	}
}

func IncrementWalletImbalance(currency string) {
	if walletImbalanceCounter == nil {
		return
	}
	walletImbalanceCounter.WithLabelValues(currency).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func AddChargesInFlight(delta float64) {
	if chargesInFlightGauge == nil {
		return
	}
	chargesInFlightGauge.Add(delta)
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
