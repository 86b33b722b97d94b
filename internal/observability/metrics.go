// Package observability — metrics.go
//
// Prometheus metrics for the mower coordination core.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback by default; the address comes from configuration.
//
// Metric naming convention: mowercore_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the mower core.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Event bus (C3) ───────────────────────────────────────────────────────

	// EventsPublishedTotal counts events published to the bus, by type.
	EventsPublishedTotal *prometheus.CounterVec

	// EventsDroppedTotal counts events dropped due to a full subscriber queue.
	EventsDroppedTotal *prometheus.CounterVec

	// EventQueueDepth is the current depth of each subscriber's queue.
	EventQueueDepth *prometheus.GaugeVec

	// ─── Sensors (C2) ─────────────────────────────────────────────────────────

	// SensorReadLatency records per-sensor read latency.
	SensorReadLatency *prometheus.HistogramVec

	// SensorReadFailuresTotal counts failed sensor reads, by sensor name.
	SensorReadFailuresTotal *prometheus.CounterVec

	// ─── State machine (C4) ───────────────────────────────────────────────────

	// StateTransitionsTotal counts state transitions, by from/to state.
	StateTransitionsTotal *prometheus.CounterVec

	// CurrentState is set to 1 for the active state, 0 for all others.
	CurrentState *prometheus.GaugeVec

	// ─── Path planner (C5) ────────────────────────────────────────────────────

	// CoverageRatio is the fraction of the mowing area covered in the
	// current session.
	CoverageRatio prometheus.Gauge

	// PatternSelectionsTotal counts coverage-pattern selections, by pattern.
	PatternSelectionsTotal *prometheus.CounterVec

	// SelectorEpsilon is the current exploration rate of the pattern selector.
	SelectorEpsilon prometheus.Gauge

	// ─── Obstacle avoidance (C6) ──────────────────────────────────────────────

	// AvoidanceManeuversTotal counts avoidance maneuvers, by strategy.
	AvoidanceManeuversTotal *prometheus.CounterVec

	// ConsecutiveAvoidanceFailures is the current strike count toward Stuck.
	ConsecutiveAvoidanceFailures prometheus.Gauge

	// ─── Storage / bridge ─────────────────────────────────────────────────────

	// StorageWriteLatency records BoltDB write transaction latency.
	StorageWriteLatency prometheus.Histogram

	// StorageLedgerEntries is the current number of audit ledger entries.
	StorageLedgerEntries prometheus.Gauge

	// BridgeWritesTotal counts status-frame writes to the cross-process bridge.
	BridgeWritesTotal prometheus.Counter

	// ─── Supervisor ───────────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since the supervisor started.
	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all mower core Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		EventsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mowercore",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total events published to the event bus, by event type.",
		}, []string{"event_type"}),

		EventsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mowercore",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total events dropped due to a full subscriber queue.",
		}, []string{"subscriber"}),

		EventQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mowercore",
			Subsystem: "events",
			Name:      "queue_depth",
			Help:      "Current depth of a subscriber's event queue.",
		}, []string{"subscriber"}),

		SensorReadLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mowercore",
			Subsystem: "sensors",
			Name:      "read_latency_seconds",
			Help:      "Per-sensor read latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"sensor"}),

		SensorReadFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mowercore",
			Subsystem: "sensors",
			Name:      "read_failures_total",
			Help:      "Total sensor read failures, by sensor name.",
		}, []string{"sensor"}),

		StateTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mowercore",
			Subsystem: "state_machine",
			Name:      "transitions_total",
			Help:      "Total state transitions, by from_state and to_state.",
		}, []string{"from_state", "to_state"}),

		CurrentState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mowercore",
			Subsystem: "state_machine",
			Name:      "current_state",
			Help:      "1 for the currently active state, 0 otherwise.",
		}, []string{"state"}),

		CoverageRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mowercore",
			Subsystem: "pathplan",
			Name:      "coverage_ratio",
			Help:      "Fraction of the mowing area covered in the current session.",
		}),

		PatternSelectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mowercore",
			Subsystem: "pathplan",
			Name:      "pattern_selections_total",
			Help:      "Total coverage pattern selections, by pattern name.",
		}, []string{"pattern"}),

		SelectorEpsilon: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mowercore",
			Subsystem: "pathplan",
			Name:      "selector_epsilon",
			Help:      "Current exploration rate of the pattern selector.",
		}),

		AvoidanceManeuversTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mowercore",
			Subsystem: "avoidance",
			Name:      "maneuvers_total",
			Help:      "Total obstacle avoidance maneuvers, by strategy.",
		}, []string{"strategy"}),

		ConsecutiveAvoidanceFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mowercore",
			Subsystem: "avoidance",
			Name:      "consecutive_failures",
			Help:      "Current consecutive avoidance failure count toward the Stuck escalation.",
		}),

		StorageWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mowercore",
			Subsystem: "storage",
			Name:      "write_latency_seconds",
			Help:      "BoltDB write transaction latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		StorageLedgerEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mowercore",
			Subsystem: "storage",
			Name:      "ledger_entries",
			Help:      "Current number of audit ledger entries in BoltDB.",
		}),

		BridgeWritesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mowercore",
			Subsystem: "bridge",
			Name:      "writes_total",
			Help:      "Total status-frame writes to the cross-process bridge.",
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mowercore",
			Subsystem: "supervisor",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the supervisor started.",
		}),
	}

	reg.MustRegister(
		m.EventsPublishedTotal,
		m.EventsDroppedTotal,
		m.EventQueueDepth,
		m.SensorReadLatency,
		m.SensorReadFailuresTotal,
		m.StateTransitionsTotal,
		m.CurrentState,
		m.CoverageRatio,
		m.PatternSelectionsTotal,
		m.SelectorEpsilon,
		m.AvoidanceManeuversTotal,
		m.ConsecutiveAvoidanceFailures,
		m.StorageWriteLatency,
		m.StorageLedgerEntries,
		m.BridgeWritesTotal,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
