// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/stockrecon/internal/api"
	"github.com/andresuchdata/stockrecon/internal/cache"
	"github.com/andresuchdata/stockrecon/internal/config"
	"github.com/andresuchdata/stockrecon/internal/repository"
	"github.com/andresuchdata/stockrecon/internal/repository/postgres"
	"github.com/andresuchdata/stockrecon/internal/service"
	"github.com/andresuchdata/stockrecon/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	logger.SetLevel(cfg.Log.Level)
	log.Logger = logger.Log
	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if !cfg.Database.Enabled() {
		logger.Log.Fatal().Msg("DB_DRIVER is required to serve reports")
	}

	db, err := postgres.NewDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	reportCache, err := cache.NewReportCache(cfg.Cache)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("Report cache unavailable, serving without cache")
		reportCache = cache.NewNoopReportCache()
	}

	reports := service.NewReportService(
		repository.NewReportRepository(db),
		reportCache,
		service.Limits{TopN: cfg.Analysis.DashboardTopN, SpikeLimit: cfg.Analysis.DashboardSpikeLimit},
		logger.Component("api"),
	)

	router := api.NewRouter(&api.Services{Reports: reports}, cfg.Server.AllowedOrigins)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Log.Info().Str("port", cfg.Server.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Log.Info().Msg("Server exiting")
}
