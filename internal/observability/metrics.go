package observability

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the process counters exposed on the optional /metrics
// endpoint. Each instance carries a private registry so tests and repeated
// construction never collide.
type Metrics struct {
	registry *prometheus.Registry

	AccountsFetched *prometheus.CounterVec
	StatsInserted   *prometheus.CounterVec
	ReplaysCrawled  prometheus.Counter
	StatsPruned     *prometheus.CounterVec
	Errors          *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
}

// metricBuilder accumulates registration errors, enabling batch
// construction with a single error check.
type metricBuilder struct {
	registry *prometheus.Registry
	err      error
}

func (b *metricBuilder) counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	b.register(name, c)

	return c
}

func (b *metricBuilder) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	b.register(name, c)

	return c
}

func (b *metricBuilder) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	b.register(name, g)

	return g
}

// register records the first registration error.
func (b *metricBuilder) register(name string, c prometheus.Collector) {
	if err := b.registry.Register(c); err != nil && b.err == nil {
		b.err = fmt.Errorf("register %s: %w", name, err)
	}
}

// NewMetrics creates the statmill metric set on a fresh registry.
func NewMetrics() (*Metrics, error) {
	b := &metricBuilder{registry: prometheus.NewRegistry()}

	m := &Metrics{
		registry: b.registry,
		AccountsFetched: b.counterVec("statmill_accounts_fetched_total",
			"Accounts processed by the stats fetcher.", "kind"),
		StatsInserted: b.counterVec("statmill_stats_inserted_total",
			"Stat rows written to the backend.", "kind"),
		ReplaysCrawled: b.counter("statmill_replays_crawled_total",
			"Replays fetched and stored by the crawler."),
		StatsPruned: b.counterVec("statmill_stats_pruned_total",
			"Duplicate stat rows deleted by the pruner.", "kind"),
		Errors: b.counterVec("statmill_errors_total",
			"Errors by pipeline stage.", "stage"),
		QueueDepth: b.gaugeVec("statmill_queue_depth",
			"Current queue fill level.", "queue"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return m, nil
}

// Handler serves this metric set for Prometheus scrapes.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr in a background goroutine. Used by the
// long-running fetch and crawl commands when --metrics is given.
func (m *Metrics) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		// Metrics are best-effort; the pipeline keeps running.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics endpoint failed", "addr", addr, "error", err)
		}
	}()

	return srv
}
