package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/alpenava/home-assistant-nayax/internal/config"
	"github.com/alpenava/home-assistant-nayax/internal/domain"
	"github.com/alpenava/home-assistant-nayax/internal/emitter"
	"github.com/alpenava/home-assistant-nayax/internal/engine"
	"github.com/alpenava/home-assistant-nayax/internal/httpapi"
	"github.com/alpenava/home-assistant-nayax/internal/logger"
	"github.com/alpenava/home-assistant-nayax/internal/nayax"
	"github.com/alpenava/home-assistant-nayax/internal/period"
	"github.com/alpenava/home-assistant-nayax/internal/store"
	"github.com/alpenava/home-assistant-nayax/internal/store/memory"
	pgstore "github.com/alpenava/home-assistant-nayax/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Timezone).Msg("cannot load timezone")
	}
	weekStart, _ := domain.ParseWeekday(cfg.WeekStartDay)
	calc := period.New(loc, weekStart)

	client := nayax.NewClient(cfg.NayaxBaseURL, cfg.NayaxActorID, cfg.NayaxAPIToken, nil)
	if err := client.Validate(startCtx); err != nil {
		log.Fatal().Err(err).Msg("nayax credential validation failed")
	}
	log.Info().Str("base_url", cfg.NayaxBaseURL).Msg("nayax credentials validated")

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info().Msg("repository: postgres")
	} else {
		repo = memory.New()
		log.Warn().Msg("repository: in-memory, state will not survive a restart")
	}

	var saleEmitter emitter.Emitter = emitter.NewLogEmitter(logger.Component(log, "emitter"))
	if cfg.RedisAddr != "" {
		redisEmitter := emitter.NewRedisEmitter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.EventChannel, logger.Component(log, "emitter"))
		if err := redisEmitter.Ping(startCtx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, emitting sale events to the log")
		} else {
			saleEmitter = redisEmitter
			closers = append(closers, redisEmitter.Close)
			log.Info().Str("channel", cfg.EventChannel).Msg("emitter: redis")
		}
	} else {
		log.Info().Msg("emitter: log")
	}

	eng := engine.New(client, repo, saleEmitter, calc, engine.Config{
		PollInterval:      cfg.PollInterval,
		DiscoveryInterval: cfg.DiscoveryInterval,
		DedupRetention:    cfg.DedupRetention(),
		IncludeRaw:        cfg.IncludeRawInEvents,
	}, logger.Component(log, "engine"))

	if err := eng.Bootstrap(startCtx); err != nil {
		log.Fatal().Err(err).Msg("bootstrap failed")
	}
	if err := eng.Discover(startCtx); err != nil {
		log.Fatal().Err(err).Msg("initial machine discovery failed")
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.PollAll(runCtx)
		if err := eng.Run(runCtx); err != nil && runCtx.Err() == nil {
			log.Error().Err(err).Msg("engine stopped")
		}
	}()

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.OperatorUsername, cfg.OperatorPassword)
	api := httpapi.New(eng, auth, cfg.AllowedOrigin, logger.Component(log, "http"))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Msg("operator API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-runCtx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	}

	<-engineDone

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("stopped")
	os.Exit(0)
}
