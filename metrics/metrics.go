// Package metrics exposes engine outcomes as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/currency-engine/economy"
)

// Collector implements economy.Instrumentation.
type Collector struct {
	Transactions       *prometheus.CounterVec
	TransactionLatency *prometheus.HistogramVec
	Management         *prometheus.CounterVec
	AuditWrites        *prometheus.CounterVec
	Currencies         prometheus.GaugeFunc

	registry *prometheus.Registry
}

// NewCollector registers the engine metrics on a fresh registry. currencies
// reports the registry size; it may be nil.
func NewCollector(currencies func() int) *Collector {
	registry := prometheus.NewRegistry()
	if currencies == nil {
		currencies = func() int { return 0 }
	}

	c := &Collector{
		Transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "economy_transactions_total",
				Help: "Deposits and withdrawals by outcome.",
			},
			[]string{"operation", "status", "kind"},
		),
		TransactionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "economy_transaction_duration_seconds",
				Help:    "Time from submission to result.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		Management: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "economy_management_actions_total",
				Help: "Currency and player administration by outcome.",
			},
			[]string{"action", "status"},
		),
		AuditWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "economy_audit_writes_total",
				Help: "Audit log writes by outcome.",
			},
			[]string{"status"},
		),
		Currencies: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "economy_currencies",
				Help: "Currencies in the registry.",
			},
			func() float64 { return float64(currencies()) },
		),
		registry: registry,
	}

	registry.MustRegister(
		c.Transactions,
		c.TransactionLatency,
		c.Management,
		c.AuditWrites,
		c.Currencies,
		collectors.NewGoCollector(),
	)
	return c
}

// Registry lets other packages (events) register on the same registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) TransactionCompleted(res economy.TransactionResult, elapsed time.Duration) {
	if c == nil {
		return
	}
	kind := string(res.Kind)
	if kind == "" {
		kind = "none"
	}
	c.Transactions.WithLabelValues(string(res.Operation), string(res.Status), kind).Inc()
	c.TransactionLatency.WithLabelValues(string(res.Operation)).Observe(elapsed.Seconds())
}

func (c *Collector) ManagementCompleted(action string, res economy.ManagementResult) {
	if c == nil {
		return
	}
	c.Management.WithLabelValues(action, status(res.OK)).Inc()
}

func (c *Collector) AuditWritten(err error) {
	if c == nil {
		return
	}
	c.AuditWrites.WithLabelValues(status(err == nil)).Inc()
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

var _ economy.Instrumentation = (*Collector)(nil)
