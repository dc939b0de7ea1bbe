package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"fieldops-service/internal/auth"
	"fieldops-service/internal/client"
	"fieldops-service/internal/config"
	"fieldops-service/internal/db"
	httphandler "fieldops-service/internal/http"
	"fieldops-service/internal/http/middleware"
	"fieldops-service/internal/logger"
	"fieldops-service/internal/metrics"
	"fieldops-service/internal/notify"
	"fieldops-service/internal/repository"
	"fieldops-service/internal/scheduler"
	"fieldops-service/internal/service"
)

const (
	sweepLockKey    = "fieldops:sla-sweep"
	shutdownTimeout = 15 * time.Second
)

type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	db       *gorm.DB
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	closers  []func()
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger := logger.New(cfg.Environment, cfg.LogLevel)

	database, err := db.New(cfg, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{
		cfg:      cfg,
		log:      appLogger,
		db:       database,
		registry: registry,
		metrics:  metrics.New(registry),
	}
	if sqlDB, err := database.DB(); err == nil {
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) Migrate() error {
	if err := db.Migrate(a.db); err != nil {
		return err
	}
	a.log.Info().Msg("migrations applied")
	return nil
}

// dispatcher picks the delivery channel: the HTTP gateway when configured,
// then NATS, then the log. Every channel is wrapped so that each hand-off
// leaves a notification row.
func (a *app) dispatcher(store *repository.Store) (notify.Dispatcher, error) {
	var next notify.Dispatcher
	switch {
	case a.cfg.Notify.GatewayURL != "":
		next = client.NewGatewayClient(a.cfg)
		a.log.Info().Str("url", a.cfg.Notify.GatewayURL).Msg("notifications via gateway")
	case a.cfg.Notify.NATSURL != "":
		conn, err := notify.ConnectNATS(notify.NATSConfig{
			URL:            a.cfg.Notify.NATSURL,
			Name:           "fieldops-service",
			Subject:        a.cfg.Notify.NATSSubject,
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  -1,
			ConnectTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = conn.Drain() })
		next = notify.NewNATSPublisher(conn, a.cfg.Notify.NATSSubject)
		a.log.Info().Str("subject", a.cfg.Notify.NATSSubject).Msg("notifications via nats")
	default:
		next = notify.NewLogDispatcher(a.log)
		a.log.Warn().Msg("no notification channel configured, logging notifications only")
	}
	return notify.NewRecorder(next, store.Notifications, a.metrics, a.log), nil
}

func (a *app) runToken(ctx context.Context) (scheduler.RunToken, error) {
	if a.cfg.Redis.Addr == "" {
		return scheduler.NewLocalToken(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	return scheduler.NewRedisToken(rdb, sweepLockKey, a.cfg.Redis.SweepLockTTL), nil
}

type services struct {
	tickets         *service.TicketService
	assignments     *service.AssignmentService
	recommendations *service.RecommendationService
	monitor         *service.SLAMonitor
	notifications   *service.NotificationService
}

func (a *app) services(ctx context.Context) (*services, error) {
	store := repository.NewStore(a.db)

	dispatcher, err := a.dispatcher(store)
	if err != nil {
		return nil, err
	}
	token, err := a.runToken(ctx)
	if err != nil {
		return nil, err
	}

	assignments := service.NewAssignmentService(store, dispatcher, a.metrics, a.log)
	return &services{
		tickets:         service.NewTicketService(store, dispatcher, a.metrics, a.log),
		assignments:     assignments,
		recommendations: service.NewRecommendationService(store, assignments, a.log),
		monitor: service.NewSLAMonitor(store, dispatcher, token, a.metrics, a.log, service.SLAMonitorConfig{
			WarningCooldown: a.cfg.SLA.WarningCooldown,
			DispatchTimeout: a.cfg.SLA.DispatchTimeout,
		}),
		notifications: service.NewNotificationService(store.Notifications, a.cfg.Notify.WebhookSecret, a.log),
	}, nil
}

func (a *app) Serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := a.services(ctx)
	if err != nil {
		return err
	}

	handler := httphandler.NewHandler(svc.tickets, svc.assignments, svc.recommendations, svc.monitor, svc.notifications, a.log)
	authMiddleware := middleware.Auth(auth.NewParser(a.cfg.Auth.AccessSecret))
	router := httphandler.NewRouter(handler, authMiddleware, a.cfg.Environment, a.registry)

	addr := fmt.Sprintf("%s:%d", a.cfg.HTTP.Host, a.cfg.HTTP.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweeper := scheduler.New("sla-monitor", svc.monitor.Job, a.cfg.SLA.SweepInterval, a.cfg.SLA.SweepInitialDelay, a.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", addr).Msg("starting fieldops service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *app) SweepOnce(ctx context.Context) error {
	svc, err := a.services(ctx)
	if err != nil {
		return err
	}

	result, err := svc.monitor.Run(ctx)
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		a.log.Info().Msg("sla sweep already running elsewhere, nothing to do")
		return nil
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
