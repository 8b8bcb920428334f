package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stakematch/internal/config"
	"stakematch/internal/db"
	"stakematch/internal/logger"
	"stakematch/internal/relay"
	"stakematch/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogJSON)

	var repo *repository.MatchRepository
	if cfg.DatabaseURL != "" {
		pool := db.Connect(context.Background(), cfg.DatabaseURL)
		defer pool.Close()
		repo = repository.NewMatchRepository(pool)
	} else {
		logger.Warn("DATABASE_URL not set, match archive disabled")
	}

	relay.InitRateLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	hub := relay.NewHub(repo)
	hub.StartCleanup()

	r := gin.Default()
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	relay.RegisterRoutes(r, hub, relay.Options{
		JWTSecret: []byte(cfg.JWTSecret),
		MinStake:  cfg.MinStake,
		MaxStake:  cfg.MaxStake,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: r,
	}

	go func() {
		logger.Info("relay started", "port", cfg.AppPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down relay")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", "error", err)
	}

	logger.Info("relay exited")
}
