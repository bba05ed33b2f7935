package scheduler

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ManuelReschke/StudioDesk/internal/pkg/paymentplan"
)

// PromStats exports tick reports as Prometheus metrics.
type PromStats struct {
	runs     *prometheus.CounterVec
	items    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPromStats registers the tick metrics on registerer, or on the default
// registerer when nil.
func NewPromStats(registerer prometheus.Registerer) *PromStats {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studiodesk_payment_tick_runs_total",
			Help: "Payment scheduler runs by cadence.",
		},
		[]string{"cadence"},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studiodesk_payment_tick_items_total",
			Help: "Installments handled by payment scheduler runs.",
		},
		[]string{"operation", "result"}, // done | failed
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studiodesk_payment_tick_duration_seconds",
			Help:    "Wall time of one payment scheduler run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"cadence"},
	)

	registerer.MustRegister(runs, items, duration)
	return &PromStats{runs: runs, items: items, duration: duration}
}

// Record implements StatsRecorder.
func (p *PromStats) Record(_ context.Context, cadence Cadence, report paymentplan.TickReport) {
	if p == nil {
		return
	}
	c := string(cadence)
	p.runs.WithLabelValues(c).Inc()
	p.duration.WithLabelValues(c).Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	p.items.WithLabelValues(string(paymentplan.OperationInvoice), "done").Add(float64(report.InvoicesSent))
	p.items.WithLabelValues(string(paymentplan.OperationReminder), "done").Add(float64(report.RemindersSent))
	p.items.WithLabelValues(string(paymentplan.OperationOverdue), "done").Add(float64(report.OverdueUpdated))
	for _, item := range report.Errors {
		p.items.WithLabelValues(string(item.Operation), "failed").Inc()
	}
}

type multiStats []StatsRecorder

func (m multiStats) Record(ctx context.Context, cadence Cadence, report paymentplan.TickReport) {
	for _, r := range m {
		r.Record(ctx, cadence, report)
	}
}

// MultiStats fans every report out to all recorders.
func MultiStats(recorders ...StatsRecorder) StatsRecorder {
	return multiStats(recorders)
}
