package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"

	"checkpoint-service/internal/config"
	"checkpoint-service/internal/db"
	"checkpoint-service/internal/domain/checkpoint"
	"checkpoint-service/internal/feed"
	httphandler "checkpoint-service/internal/http"
	"checkpoint-service/internal/logger"
	"checkpoint-service/internal/repository"
	"checkpoint-service/internal/service"
	"checkpoint-service/internal/worker"
)

func main() {
	configFile := flag.String("config", "", "path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.Log, cfg.App)

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid timezone")
	}

	gormDB, err := db.Open(cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	tx := repository.NewTxManager(gormDB)
	detections := repository.NewDetectionRepository(gormDB)
	vehicles := repository.NewVehicleRepository(gormDB)
	passages := repository.NewPassageRepository(gormDB)
	refs := repository.NewReferenceRepository(gormDB)

	feedClient := feed.NewClient(cfg.Camera.Timeout, log)
	ingestion := service.NewIngestionService(detections, tx, feedClient, cfg.Dedup, cfg.Camera.Lookback, log)
	pricing := service.NewPricingEngine(refs, log)
	lifecycle := service.NewPassageService(tx, vehicles, passages, refs, pricing, service.NewLogReceiptSink(log), cfg.Passage, loc, log)
	processor := service.NewProcessorService(tx, detections, vehicles, passages, refs, lifecycle, cfg.Processor, log)

	if cfg.App.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.HTTP.AllowOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler := httphandler.NewHandler(ingestion, lifecycle, processor, cfg, log)
	handler.Register(router, httphandler.NewAuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Issuer))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var targets []checkpoint.FeedTarget
	if cfg.Camera.Enabled {
		targets = append(targets, cfg.Camera.Target())
	}
	var proc worker.Processor
	if cfg.Processor.Enabled {
		proc = processor
	}
	scheduler := worker.NewScheduler(ingestion, proc, worker.Options{
		Targets:         targets,
		PollInterval:    cfg.Camera.PollInterval,
		ProcessInterval: cfg.Processor.Interval,
	}, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	go func() {
		log.Info().
			Str("addr", cfg.HTTP.Addr).
			Str("camera_model", cfg.Camera.Model).
			Bool("camera_polling", cfg.Camera.Enabled).
			Msg("checkpoint service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	wg.Wait()

	if sqlDB, err := gormDB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
