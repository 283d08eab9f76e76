package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"aimx.console/internal/agent"
	"aimx.console/internal/core/logger"
)

func main() {
	gateway := os.Getenv("GATEWAY_URL")
	if gateway == "" {
		gateway = "http://localhost:8080"
	}

	workloadID := os.Getenv("WORKLOAD_ID")
	if workloadID == "" {
		log.Fatal("WORKLOAD_ID environment variable is required")
	}

	containerID := os.Getenv("CONTAINER_ID")
	if containerID == "" {
		log.Fatal("CONTAINER_ID environment variable is required")
	}

	logger.Init(slog.LevelInfo, os.Getenv("LOG_FORMAT"))

	a, err := agent.New(gateway, workloadID)
	if err != nil {
		log.Fatalf("failed to initialize agent: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down agent")
		cancel()
	}()

	if err := a.Run(ctx, containerID); err != nil {
		log.Fatalf("agent error: %v", err)
	}
}
