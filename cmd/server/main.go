package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	http_handler "aimx.console/internal/adapters/handler/http"
	"aimx.console/internal/adapters/handler/mqtt"
	redis_adapter "aimx.console/internal/adapters/queue/redis"
	"aimx.console/internal/adapters/repository/pg"
	"aimx.console/internal/config"
	"aimx.console/internal/core/logger"
	"aimx.console/internal/core/services"
	"aimx.console/internal/core/tracing"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting workload console gateway", "version", version)

	if cfg.EnableTracing {
		shutdownTracing, err := tracing.Init(cfg.ServiceName, cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("failed to initialize tracing", "error", err)
		} else {
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					logger.Error("failed to shutdown tracing", "error", err)
				}
			}()
		}
	}

	repo, err := pg.NewRepository(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to init postgres", "error", err)
		os.Exit(1)
	}

	pubsub, redisClient, err := redis_adapter.NewRedisAdapter(cfg.RedisURL, cfg.LogHistoryLimit)
	if err != nil {
		logger.Error("failed to init redis", "error", err)
		os.Exit(1)
	}

	workloadSvc := services.NewWorkloadService(repo, pubsub)
	healthSvc := services.NewHealthService(repo.DB(), redisClient, version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor := services.NewWorkloadMonitor(workloadSvc)
	go monitor.Start(ctx)

	if cfg.MQTTBroker != "" {
		publisher, err := mqtt.NewPublisher(pubsub, cfg.MQTTBroker)
		if err != nil {
			logger.Error("failed to init MQTT fanout", "error", err)
		} else {
			publisher.Start(ctx)
			defer publisher.Close()
		}
	}

	server := http_handler.NewServer(workloadSvc, healthSvc)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "port", cfg.HTTPPort)
	if err := server.Run(":" + cfg.HTTPPort); err != nil {
		logger.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}
