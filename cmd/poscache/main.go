package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"PosCache/internal/authority"
	"PosCache/internal/cache"
	"PosCache/internal/config"
	"PosCache/internal/event"
	"PosCache/internal/ingestion"
	"PosCache/internal/ledger"
	"PosCache/internal/observability"
	"PosCache/internal/persistence"
)

func main() {
	configPath := flag.String("config", os.Getenv("POSCACHE_CONFIG"), "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	log := observability.NewLoggerWithLevel("poscache", observability.ParseLogLevel(cfg.Logging.Level))
	log.Info().Msg("position cache starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres (authoritative ledger + access control) ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, "migrations", observability.NewLogger("migrate"))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Core wiring ---
	ledgerPort := ledger.NewPostgresLedger(db)
	acl := authority.NewPostgresAuthority(db)
	moduleCache := authority.NewModuleCache(acl, acl, cfg.ModuleTTL())

	store := cache.NewStore(cfg.CacheTTL())
	events := make(chan event.Notification, cfg.Cache.EventChanSize)
	svc := cache.NewService(store, ledgerPort, moduleCache, events,
		observability.NewLogger("cache"), metrics)

	// Resolve the allow-list once up front so the first write does not pay
	// a cold registry scan.
	if err := moduleCache.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial allow-list refresh failed, will resolve lazily")
	}

	// --- NATS ---
	nc, js, err := ingestion.Connect(cfg.NATS.URL, observability.NewLogger("nats"))
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	log.Info().Msg("nats connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure streams")
	}

	requests := make(chan ingestion.RawRequest, 4096)
	subscriber := ingestion.NewSubscriber(js, requests, observability.NewLogger("subscriber"))
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatal().Err(err).Msg("subscribe")
	}
	defer subscriber.Stop()

	dispatcher := ingestion.NewDispatcher(svc, requests, observability.NewLogger("dispatch"))
	publisher := ingestion.NewPublisher(js, events, observability.NewLogger("publisher"))

	responder := ingestion.NewResponder(nc, svc, observability.NewLogger("query"))
	if err := responder.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start query responder")
	}
	defer responder.Stop()

	// --- Goroutines ---
	errChan := make(chan error, 4)

	go func() {
		errChan <- dispatcher.Run(ctx)
	}()
	go func() {
		errChan <- publisher.Run(ctx)
	}()

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", healthChecker.LivenessHandler)
	healthMux.HandleFunc("/readyz", healthChecker.ReadinessHandler)
	go func() {
		errChan <- serveHTTP(ctx, cfg.Server.HealthAddr, healthMux, log.With().Str("server", "health").Logger())
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		errChan <- serveHTTP(ctx, cfg.Server.MetricsAddr, metricsMux, log.With().Str("server", "metrics").Logger())
	}()

	healthChecker.SetReady(true)
	log.Info().
		Str("health_addr", cfg.Server.HealthAddr).
		Str("metrics_addr", cfg.Server.MetricsAddr).
		Dur("cache_ttl", cfg.CacheTTL()).
		Dur("module_ttl", cfg.ModuleTTL()).
		Msg("position cache ready")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("component failed, shutting down")
		}
	}

	healthChecker.SetReady(false)
	cancel()

	// Give in-flight requests and the publisher a moment to drain.
	time.Sleep(500 * time.Millisecond)
	log.Info().Msg("position cache stopped")
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Info().Str("addr", addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server %s: %w", addr, err)
	}
	return nil
}
