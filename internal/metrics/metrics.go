package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the alert engine.
type Metrics struct {
	// Ingest
	PriceUpdatesReceived prometheus.Counter
	WSReconnects         prometheus.Counter
	MalformedMessages    prometheus.Counter
	DroppedTicks         prometheus.Counter
	StaleTicks           prometheus.Counter

	// Evaluation
	AlertsEvaluated prometheus.Counter
	GatesFailed     *prometheus.CounterVec // labels: gate
	AlertsSkipped   prometheus.Counter
	AlertsTriggered prometheus.Counter

	// Candle / volume side-channels
	CandleFetchErrors prometheus.Counter

	// Recorder and dispatch
	DroppedTriggers   prometheus.Counter
	DispatchEvictions prometheus.Counter
	NotificationsSent *prometheus.CounterVec // labels: channel, status

	// Redis
	RedisPublishErrors prometheus.Counter

	// Occupancy gauges
	QueueDepth  prometheus.Gauge
	CacheSize   prometheus.Gauge
	AlertsCount prometheus.Gauge
}

// New registers and returns all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		PriceUpdatesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_price_updates_received_total",
			Help: "Ticks accepted from the exchange stream",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_ws_reconnects_total",
			Help: "Upstream WebSocket reconnection attempts",
		}),
		MalformedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_malformed_messages_total",
			Help: "Stream frames dropped as unparseable",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_dropped_ticks_total",
			Help: "Ticks dropped on full pipeline buffers",
		}),
		StaleTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_stale_ticks_total",
			Help: "Ticks rejected for being older than the cached price",
		}),

		AlertsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_alerts_evaluated_total",
			Help: "Alert-tick pairs run through the gates",
		}),
		GatesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_gates_failed_total",
			Help: "Gate rejections by gate (volume, changePct, count)",
		}, []string{"gate"}),
		AlertsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_alerts_skipped_total",
			Help: "Evaluations skipped for an unusable base price",
		}),
		AlertsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_alerts_triggered_total",
			Help: "Triggers recorded (all gates passed)",
		}),

		CandleFetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_candle_fetch_errors_total",
			Help: "Forming-candle fetch failures",
		}),

		DroppedTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_dropped_triggers_total",
			Help: "Triggers that missed the durable write path",
		}),
		DispatchEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_dispatch_evictions_total",
			Help: "In-process subscribers evicted for falling behind",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_notifications_sent_total",
			Help: "Notification attempts by channel and status",
		}, []string{"channel", "status"}),

		RedisPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_redis_publish_errors_total",
			Help: "Redis writes dropped (failure or open circuit breaker)",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alertengine_queue_depth",
			Help: "Ticks waiting across evaluator worker rings",
		}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alertengine_cache_size",
			Help: "Symbols held in the price cache",
		}),
		AlertsCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alertengine_alerts_indexed",
			Help: "Alerts currently in the evaluation index",
		}),
	}

	prometheus.MustRegister(
		m.PriceUpdatesReceived,
		m.WSReconnects,
		m.MalformedMessages,
		m.DroppedTicks,
		m.StaleTicks,
		m.AlertsEvaluated,
		m.GatesFailed,
		m.AlertsSkipped,
		m.AlertsTriggered,
		m.CandleFetchErrors,
		m.DroppedTriggers,
		m.DispatchEvictions,
		m.NotificationsSent,
		m.RedisPublishErrors,
		m.QueueDepth,
		m.CacheSize,
		m.AlertsCount,
	)

	return m
}

// RecordNotification increments the notifications counter for one attempt.
func (m *Metrics) RecordNotification(channel string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.NotificationsSent.WithLabelValues(channel, status).Inc()
}

// HealthStatus represents the engine health.
type HealthStatus struct {
	mu sync.RWMutex

	StreamConnected bool      `json:"stream_connected"`
	LastTickTime    time.Time `json:"last_tick_time"`
	RedisConnected  bool      `json:"redis_connected"`
	SQLiteOK        bool      `json:"sqlite_ok"`
	IndexedAlerts   int       `json:"indexed_alerts"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.StreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetIndexedAlerts(n int) {
	h.mu.Lock()
	h.IndexedAlerts = n
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

// CheckSQLite runs a trivial query and records latency + health.
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
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.StreamConnected || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		StreamConnected bool    `json:"stream_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		IndexedAlerts   int     `json:"indexed_alerts"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		StreamConnected: h.StreamConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		IndexedAlerts:   h.IndexedAlerts,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
