package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the regime engine.
type Metrics struct {
	// Sweep metrics
	SweepsTotal        *prometheus.CounterVec // labels: trigger
	SweepDur           prometheus.Histogram
	PositionsEvaluated prometheus.Counter
	PositionsSkipped   *prometheus.CounterVec // labels: reason
	EvalDur            prometheus.Histogram
	SessionSkips       prometheus.Counter

	// Regime output
	Transitions    *prometheus.CounterVec // labels: from, to
	PositionsState *prometheus.GaugeVec   // labels: state
	FlagsTotal     *prometheus.CounterVec // labels: flag
	EDXFallbacks   *prometheus.CounterVec // labels: reason

	// Store health
	StoreErrors              *prometheus.CounterVec // labels: op
	RedisCircuitBreakerState prometheus.Gauge       // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
	RedisFlushedWrites       prometheus.Counter

	// Fan-out
	EventsPublished *prometheus.CounterVec // labels: result
	WSClients       prometheus.Gauge
	WSDropped       prometheus.Counter
}

// NewMetrics registers all metrics with reg and returns them.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		SweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regengine_sweeps_total",
			Help: "Total sweeps run (by trigger)",
		}, []string{"trigger"}),
		SweepDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "regengine_sweep_duration_seconds",
			Help:    "Wall time of a full sweep over all positions",
			Buckets: prometheus.DefBuckets,
		}),
		PositionsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regengine_positions_evaluated_total",
			Help: "Positions evaluated by the regime engine",
		}),
		PositionsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regengine_positions_skipped_total",
			Help: "Positions skipped during a sweep (by reason)",
		}, []string{"reason"}),
		EvalDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "regengine_eval_duration_seconds",
			Help:    "Per-position evaluation latency including store I/O",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		SessionSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regengine_session_skips_total",
			Help: "Scheduled sweeps skipped outside the trading session",
		}),

		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regengine_transitions_total",
			Help: "Regime state transitions",
		}, []string{"from", "to"}),
		PositionsState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "regengine_positions_in_state",
			Help: "Positions per regime state after the last sweep",
		}, []string{"state"}),
		FlagsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regengine_flags_total",
			Help: "Signal flags raised (by flag)",
		}, []string{"flag"}),
		EDXFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regengine_edx_fallbacks_total",
			Help: "EDX evaluations that fell back to the snapshot path (by reason)",
		}, []string{"reason"}),

		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regengine_store_errors_total",
			Help: "Store adapter errors absorbed per position (by op)",
		}, []string{"op"}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regengine_redis_buffered_writes_total",
			Help: "State writes buffered locally while the Redis circuit was open",
		}),
		RedisFlushedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regengine_redis_flushed_writes_total",
			Help: "Buffered state writes flushed after the circuit closed",
		}),

		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regengine_events_published_total",
			Help: "Regime events published to Kafka (by result)",
		}, []string{"result"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regengine_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regengine_ws_dropped_total",
			Help: "Payload envelopes dropped for slow WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.SweepsTotal,
		m.SweepDur,
		m.PositionsEvaluated,
		m.PositionsSkipped,
		m.EvalDur,
		m.SessionSkips,
		m.Transitions,
		m.PositionsState,
		m.FlagsTotal,
		m.EDXFallbacks,
		m.StoreErrors,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.RedisFlushedWrites,
		m.EventsPublished,
		m.WSClients,
		m.WSDropped,
	)

	return m
}

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool   `json:"redis_connected"`
	SQLiteOK       bool   `json:"sqlite_ok"`
	BreakerState   string `json:"breaker_state"`
	SessionOpen    bool   `json:"session_open"`

	LastSweepAt        time.Time `json:"last_sweep_at"`
	LastSweepPositions int       `json:"last_sweep_positions"`
	LastRunID          string    `json:"last_run_id"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt:    time.Now(),
		BreakerState: "closed",
		SessionOpen:  true,
	}
}

func (h *HealthStatus) SetBreakerState(s string) {
	h.mu.Lock()
	h.BreakerState = s
	h.mu.Unlock()
}

func (h *HealthStatus) SetSessionOpen(v bool) {
	h.mu.Lock()
	h.SessionOpen = v
	h.mu.Unlock()
}

// RecordSweep stores the outcome of the latest sweep.
func (h *HealthStatus) RecordSweep(runID string, at time.Time, positions int) {
	h.mu.Lock()
	h.LastRunID = runID
	h.LastSweepAt = at
	h.LastSweepPositions = positions
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	check()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// Overall returns "healthy", "degraded" or "unhealthy".
func (h *HealthStatus) Overall() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.overall()
}

func (h *HealthStatus) overall() string {
	switch {
	case !h.RedisConnected && !h.SQLiteOK:
		return "unhealthy"
	case !h.RedisConnected || !h.SQLiteOK || h.BreakerState == "open":
		return "degraded"
	}
	return "healthy"
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := h.overall()
	httpCode := http.StatusOK
	if overallStatus != "healthy" {
		httpCode = http.StatusServiceUnavailable
	}

	lastSweep := ""
	if !h.LastSweepAt.IsZero() {
		lastSweep = h.LastSweepAt.Format(time.RFC3339)
	}

	status := struct {
		Status             string  `json:"status"`
		Uptime             string  `json:"uptime"`
		RedisConnected     bool    `json:"redis_connected"`
		RedisLatencyMs     float64 `json:"redis_latency_ms"`
		SQLiteOK           bool    `json:"sqlite_ok"`
		SQLiteLatencyMs    float64 `json:"sqlite_latency_ms"`
		BreakerState       string  `json:"breaker_state"`
		SessionOpen        bool    `json:"session_open"`
		LastSweepAt        string  `json:"last_sweep_at"`
		LastSweepPositions int     `json:"last_sweep_positions"`
		LastRunID          string  `json:"last_run_id"`
		LastCheckAt        string  `json:"last_check_at"`
	}{
		Status:             overallStatus,
		Uptime:             time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:     h.RedisConnected,
		RedisLatencyMs:     h.RedisLatencyMs,
		SQLiteOK:           h.SQLiteOK,
		SQLiteLatencyMs:    h.SQLiteLatencyMs,
		BreakerState:       h.BreakerState,
		SessionOpen:        h.SessionOpen,
		LastSweepAt:        lastSweep,
		LastSweepPositions: h.LastSweepPositions,
		LastRunID:          h.LastRunID,
		LastCheckAt:        h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
