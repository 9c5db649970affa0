package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ridepulse/internal/archive"
	"github.com/example/ridepulse/internal/config"
	"github.com/example/ridepulse/internal/dispatch"
	httpapi "github.com/example/ridepulse/internal/http"
	"github.com/example/ridepulse/internal/ingest"
	"github.com/example/ridepulse/internal/lobby"
	"github.com/example/ridepulse/internal/logging"
	"github.com/example/ridepulse/internal/relay"
	"github.com/example/ridepulse/internal/routing"
	"github.com/example/ridepulse/internal/store"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger("ridepulse-relay", cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Warn("migration failed", "error", err)
		}
	}

	// Session state: Redis when configured (lobbies survive restarts and can
	// be shared between relay processes), in-process map otherwise.
	var sessions store.SessionStore
	if cfg.RedisAddr != "" {
		sessions = store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.LobbyTTL)
		logger.Info("using redis session store", "addr", cfg.RedisAddr)
	} else {
		sessions = store.NewMemoryStore()
		logger.Info("using in-memory session store, lobbies will not survive a restart")
	}

	registry := dispatch.NewRegistry(logger)
	codes := lobby.NewCodeGenerator(lobby.DefaultAlphabet, cfg.CodeLength)
	svc := lobby.NewService(sessions, codes, registry, logger)

	if cfg.PGDSN != "" {
		if pg, err := archive.NewPostgresArchive(cfg.PGDSN); err == nil {
			svc.Archive = pg
		} else {
			logger.Warn("ride archive unavailable", "error", err)
		}
	}
	if svc.Archive == nil {
		svc.Archive = archive.NewMemoryArchive()
	}

	rl := relay.New(sessions, registry, logger)
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		rl.Publisher = producer
		logger.Info("publishing locations to kafka", "topic", cfg.KafkaTopic)
	}

	var routes routing.Client
	if cfg.OSRMEndpoint != "" {
		routes = routing.NewCache(routing.NewOSRMClient(cfg.OSRMEndpoint), cfg.RouteCacheTTL)
	}

	api := httpapi.NewServer(svc, rl, registry, routes, logger)
	// Timeouts stop applying once /ws hijacks the connection, so they are
	// safe for long-lived websocket clients.
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ridepulse relay listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_ride_history.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
