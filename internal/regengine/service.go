package regengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"uptrend-engine/config"
	"uptrend-engine/internal/events"
	"uptrend-engine/internal/gateway"
	"uptrend-engine/internal/logger"
	"uptrend-engine/internal/metrics"
	"uptrend-engine/internal/model"
	"uptrend-engine/internal/notification"
	"uptrend-engine/internal/regime"
	redisstore "uptrend-engine/internal/store/redis"
	sqlitestore "uptrend-engine/internal/store/sqlite"
)

// Service is the top-level orchestrator for the regime engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg   Config
	infra *config.Config
	log   zerolog.Logger

	registry *prometheus.Registry
	prom     *metrics.Metrics
	health   *metrics.HealthStatus

	sqlReader *sqlitestore.Reader
	sqlWriter *sqlitestore.Writer
	redis     *redisstore.Store
	guarded   *redisstore.GuardedStore
	events    model.EventPublisher

	sweeper   *Sweeper
	hub       *gateway.Hub
	scheduler *Scheduler
	api       *API
}

// New connects to SQLite, Redis and (optionally) Kafka and wires the sweep.
// ctx bounds background work owned by the stores.
func New(ctx context.Context, cfg Config, infra *config.Config) (*Service, error) {
	params, err := LoadThresholds(cfg.ThresholdsPath)
	if err != nil {
		return nil, fmt.Errorf("thresholds: %w", err)
	}
	calendar, err := cfg.Calendar()
	if err != nil {
		return nil, fmt.Errorf("session calendar: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := &Service{
		cfg:      cfg,
		infra:    infra,
		log:      logger.Component("regengine"),
		registry: reg,
		prom:     metrics.NewMetrics(reg),
		health:   metrics.NewHealthStatus(),
	}

	// ---- Open SQLite ----
	if dir := filepath.Dir(infra.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{
		DBPath:      infra.SQLitePath,
		JournalKeep: cfg.JournalKeep,
	})
	if err != nil {
		return nil, err
	}
	svc.sqlReader, err = sqlitestore.NewReader(infra.SQLitePath)
	if err != nil {
		svc.sqlWriter.Close()
		return nil, err
	}

	// ---- Connect to Redis ----
	svc.redis, err = redisstore.New(redisstore.StoreConfig{
		Addr:     infra.RedisAddr,
		Password: infra.RedisPassword,
		DB:       infra.RedisDB,
	})
	if err != nil {
		svc.sqlReader.Close()
		svc.sqlWriter.Close()
		return nil, err
	}
	svc.guarded = redisstore.NewGuardedStore(ctx, svc.redis, redisstore.BreakerConfig{
		Failures:    cfg.BreakerFailures,
		OpenTimeout: cfg.BreakerOpen,
	})
	svc.guarded.OnBuffer = svc.prom.RedisBufferedWrites.Inc
	svc.guarded.OnFlush = func(n int) { svc.prom.RedisFlushedWrites.Add(float64(n)) }
	svc.guarded.OnStateChange = func(_, to gobreaker.State) {
		svc.prom.RedisCircuitBreakerState.Set(breakerGauge(to))
		if to == gobreaker.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		svc.health.SetBreakerState(to.String())
	}
	svc.health.SetBreakerState(gobreaker.StateClosed.String())

	// ---- Event stream + alerts ----
	svc.events = eventPublishers(infra)

	svc.sweeper = NewSweeper(cfg, regime.NewEngine(params), Deps{
		Bars:      svc.sqlReader,
		Positions: svc.sqlReader,
		Levels:    svc.sqlReader,
		State:     svc.guarded,
		Journal:   svc.sqlWriter,
		PubSub:    svc.guarded,
		Events:    svc.events,
	}, svc.prom, svc.health)

	svc.hub = gateway.NewHub(cfg.ReplayPerChan)
	svc.hub.OnClients = func(n int) { svc.prom.WSClients.Set(float64(n)) }
	svc.hub.OnDrop = svc.prom.WSDropped.Inc

	svc.scheduler = NewScheduler(svc.sweeper, calendar, svc.prom, svc.health)
	svc.api = NewAPI(svc.sweeper, svc.guarded, svc.guarded, svc.sqlReader, svc.hub, svc.health, reg)
	return svc, nil
}

// Sweeper returns the wired sweeper.
func (svc *Service) Sweeper() *Sweeper { return svc.sweeper }

// Run starts the scheduler, the payload fan-out and the HTTP server, and
// blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	svc.log.Info().Str("schedule", svc.cfg.Schedule).Int("workers", svc.cfg.Workers).
		Msg("starting regime engine")

	svc.health.StartLivenessChecker(ctx, svc.redis.Client(), svc.sqlReader.DB(), 10*time.Second)

	if latest, err := svc.guarded.ListLatest(ctx); err != nil {
		svc.log.Warn().Err(err).Msg("could not prime WebSocket hub")
	} else {
		svc.hub.Prime(latest)
		svc.log.Info().Int("positions", len(latest)).Msg("hub primed with stored payloads")
	}
	go svc.hub.Run(ctx, svc.redis)

	if err := svc.scheduler.Start(ctx, svc.cfg.Schedule); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              svc.infra.HTTPAddr,
		Handler:           svc.api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		svc.log.Info().Str("addr", srv.Addr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		svc.log.Error().Err(runErr).Msg("HTTP server failed")
	}

	// ---- Graceful shutdown ----
	svc.log.Info().Msg("shutting down")
	svc.scheduler.Stop()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		svc.log.Warn().Err(err).Msg("HTTP shutdown")
	}
	return runErr
}

// RunOnce runs a single manual sweep.
func (svc *Service) RunOnce(ctx context.Context) (*Report, error) {
	return svc.sweeper.Sweep(ctx, "manual")
}

// Evaluate evaluates one position without persisting. Untracked
// positions are evaluated as given.
func (svc *Service) Evaluate(ctx context.Context, exchange, token string, tf int) (*Evaluation, error) {
	p, err := svc.sqlReader.ReadPosition(ctx, exchange, token, tf)
	if errors.Is(err, sqlitestore.ErrNotFound) {
		p = model.Position{Exchange: exchange, Token: token, TF: tf, Active: true}
	} else if err != nil {
		return nil, err
	}
	return svc.sweeper.Evaluate(ctx, p)
}

// Close releases all connections.
func (svc *Service) Close() {
	if n := svc.guarded.PendingCount(); n > 0 {
		svc.log.Warn().Int("pending", n).Msg("closing with buffered Redis writes")
	}
	if err := svc.events.Close(); err != nil {
		svc.log.Warn().Err(err).Msg("event producer close")
	}
	svc.redis.Close()
	svc.sqlReader.Close()
	svc.sqlWriter.Close()
	svc.log.Info().Msg("shutdown complete")
}

// eventPublishers builds the Kafka producer and alert sinks that are
// configured. With none configured, events are dropped.
func eventPublishers(infra *config.Config) model.EventPublisher {
	l := logger.Component("regengine")
	var out events.Fanout
	if len(infra.KafkaBrokers) > 0 {
		out = append(out, events.NewProducer(infra.KafkaBrokers, infra.KafkaTopic))
	} else {
		l.Info().Msg("no Kafka brokers configured, regime events not streamed")
	}

	var sinks []notification.Notifier
	if infra.AlertLog {
		sinks = append(sinks, notification.NewLogNotifier())
	}
	if infra.AlertWebhookURL != "" {
		sinks = append(sinks, notification.NewWebhookNotifier(infra.AlertWebhookURL))
	}
	if infra.TelegramBotToken != "" && infra.TelegramChatID != "" {
		sinks = append(sinks, notification.NewTelegramNotifier(infra.TelegramBotToken, infra.TelegramChatID))
	}
	if len(sinks) > 0 {
		out = append(out, notification.NewAlerter(notification.AlertLevel(strings.ToUpper(infra.AlertLevel)), sinks...))
		l.Info().Int("sinks", len(sinks)).Str("min_level", infra.AlertLevel).Msg("regime alerts enabled")
	}

	switch len(out) {
	case 0:
		return events.Nop{}
	case 1:
		return out[0]
	}
	return out
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
