package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/geyslein/tsm-helmholtz-aai/pkg/accounts"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/config"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/events"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/login"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/observability"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/policy"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/sso"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	if err := accounts.Migrate(ctx, db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	store := accounts.NewStore(db)

	dispatcher := events.NewDispatcher()
	if cfg.Webhook.URL != "" {
		forwarder := events.NewWebhookForwarder(cfg.Webhook.URL, cfg.Webhook.Secret)
		dispatcher.Subscribe(forwarder.Handle)
		logger.WithField("url", cfg.Webhook.URL).Info("webhook forwarding enabled")
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	oidcClient, err := sso.NewClient(ctx, sso.ClientConfig{
		IssuerURL:    cfg.OIDC.IssuerURL,
		ClientID:     cfg.OIDC.ClientID,
		ClientSecret: cfg.OIDC.ClientSecret,
		RedirectURL:  cfg.OIDC.RedirectURL,
	})
	if err != nil {
		log.Fatalf("Failed to initialize OIDC client: %v", err)
	}

	sessions := sso.NewSessionManager(db, store, cfg.Sessions.TTL)

	orchestrator := login.NewOrchestrator(
		policy.New(store, cfg.Policy.AllowedVOs, cfg.Policy.EnforceUniqueEmail),
		login.NewReconciler(store, dispatcher, cfg.Policy.EnforceUniqueEmail),
		login.NewSynchronizer(store, dispatcher, metrics),
		sessions,
		dispatcher,
		logger,
		metrics,
	)

	router := mux.NewRouter()
	sso.NewHandlers(oidcClient, orchestrator, sessions, logger, cfg.Sessions.SecureCookies).RegisterRoutes(router)

	scheduler := cron.New()
	if err := scheduleMaintenance(scheduler, cfg, store, sessions, logger); err != nil {
		log.Fatalf("Failed to schedule maintenance jobs: %v", err)
	}
	scheduler.Start()

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: observability.NewHealthServer(db, registry).Handler(),
	}

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Health server failed: %v", err)
		}
	}()
	go func() {
		logger.WithField("addr", server.Addr).Info("AAI bridge listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown failed")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("health server shutdown failed")
	}
	<-scheduler.Stop().Done()

	logger.Info("stopped")
}

func scheduleMaintenance(
	scheduler *cron.Cron,
	cfg *config.Config,
	store *accounts.Store,
	sessions *sso.SessionManager,
	logger *observability.Logger,
) error {
	if schedule := cfg.Maintenance.SessionCleanupSchedule; schedule != "" {
		_, err := scheduler.AddFunc(schedule, func() {
			deleted, err := sessions.CleanupExpired(context.Background())
			if err != nil {
				logger.WithError(err).Error("session cleanup failed")
				return
			}
			if deleted > 0 {
				logger.WithField("deleted", deleted).Info("removed expired sessions")
			}
		})
		if err != nil {
			return err
		}
	}

	if schedule := cfg.Maintenance.EmptyVOCleanupSchedule; schedule != "" {
		_, err := scheduler.AddFunc(schedule, func() {
			removed, err := store.RemoveEmptyVOs(context.Background(), cfg.Maintenance.KeepVOs)
			if err != nil {
				logger.WithError(err).Error("empty VO cleanup failed")
				return
			}
			for _, entitlement := range removed {
				logger.WithField("entitlement", entitlement).Info("removed empty virtual organization")
			}
		})
		if err != nil {
			return err
		}
	}

	return nil
}
