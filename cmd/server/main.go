package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iamapinan/farmaroi-stock/internal/config"
	"github.com/iamapinan/farmaroi-stock/internal/draft"
	"github.com/iamapinan/farmaroi-stock/internal/httpapi"
	"github.com/iamapinan/farmaroi-stock/internal/identity"
	"github.com/iamapinan/farmaroi-stock/internal/logger"
	"github.com/iamapinan/farmaroi-stock/internal/service"
	"github.com/iamapinan/farmaroi-stock/internal/store"
	"github.com/iamapinan/farmaroi-stock/internal/store/memory"
	pgstore "github.com/iamapinan/farmaroi-stock/internal/store/postgres"
	"github.com/iamapinan/farmaroi-stock/internal/threshold"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing in-memory fallback")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info().Msg("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info().Msg("repository: in-memory (seeded)")
	}

	var drafts draft.Store
	if cfg.RedisAddr != "" {
		redisDrafts := draft.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisDrafts.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("redis unavailable and REDIS_ADDR is set; draft sync requires it")
		}
		drafts = redisDrafts
		closers = append(closers, redisDrafts.Close)
		log.Info().Msg("draft store: redis")
	} else {
		drafts = draft.NewMemory()
		log.Warn().Msg("draft store: in-process only, drafts will not sync across instances")
	}

	if cfg.IdentitySecret == "" {
		log.Warn().Msg("IDENTITY_SECRET not set, using dev default")
	}
	provider := identity.NewTokenProvider(cfg.IdentitySecret)

	svc := service.New(repo, drafts, threshold.Policy{}, cfg.BranchID, log)
	api := httpapi.New(svc, provider, cfg.AllowedOrigin, log)

	// No WriteTimeout: the draft event stream holds its response open for
	// the whole counting session.
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Msg("stock backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("server stopped")
}
