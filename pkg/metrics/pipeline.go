package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Webhook outcome labels.
const (
	WebhookOutcomeProcessed = "processed"
	WebhookOutcomeDuplicate = "duplicate"
	WebhookOutcomeIgnored   = "ignored"
	WebhookOutcomeRejected  = "rejected"
)

// Stock commit result labels.
const (
	StockCommitApplied = "applied"
	StockCommitShort   = "short"
	StockCommitFailed  = "failed"
)

// PipelineMetrics records counters for the order and payment pipeline.
type PipelineMetrics struct {
	ordersCreated   prometheus.Counter
	intentsCreated  prometheus.Counter
	webhookEvents   *prometheus.CounterVec
	webhookDuration *prometheus.HistogramVec
	stockCommits    *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	ordersCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Orders created with frozen totals.",
	})
	intentsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_intents_created_total",
		Help: "Payment intents created at the gateway.",
	})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook deliveries by outcome.",
	}, []string{"outcome"})
	webhookDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_duration_seconds",
		Help:    "Duration of webhook handling in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	stockCommits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_commits_total",
		Help: "Stock decrement attempts by result.",
	}, []string{"result"})
	reg.MustRegister(ordersCreated, intentsCreated, webhookEvents, webhookDuration, stockCommits)
	return &PipelineMetrics{
		ordersCreated:   ordersCreated,
		intentsCreated:  intentsCreated,
		webhookEvents:   webhookEvents,
		webhookDuration: webhookDuration,
		stockCommits:    stockCommits,
	}
}

// IncOrderCreated increments the order creation counter.
func (p *PipelineMetrics) IncOrderCreated() {
	if p == nil || p.ordersCreated == nil {
		return
	}
	p.ordersCreated.Inc()
}

// IncIntentCreated increments the payment intent counter.
func (p *PipelineMetrics) IncIntentCreated() {
	if p == nil || p.intentsCreated == nil {
		return
	}
	p.intentsCreated.Inc()
}

// ObserveWebhook records one webhook delivery with its outcome and duration.
func (p *PipelineMetrics) ObserveWebhook(outcome string, duration time.Duration) {
	if p == nil || p.webhookEvents == nil {
		return
	}
	outcome = normalizeLabel(outcome)
	p.webhookEvents.WithLabelValues(outcome).Inc()
	p.webhookDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncStockCommit records one stock decrement attempt by result.
func (p *PipelineMetrics) IncStockCommit(result string) {
	if p == nil || p.stockCommits == nil {
		return
	}
	p.stockCommits.WithLabelValues(normalizeLabel(result)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
