// Package agent attaches to a workload's container, parses its output into
// log entries, and ships them to the gateway's ingest endpoint.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"aimx.console/internal/core/circuitbreaker"
	"aimx.console/internal/core/domain"
	"aimx.console/internal/core/logger"
)

const (
	batchSize     = 64
	flushInterval = time.Second
	shipTimeout   = 10 * time.Second
)

type Agent struct {
	gatewayURL string
	workloadID string
	source     *DockerSource
	client     *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

func New(gatewayURL, workloadID string) (*Agent, error) {
	source, err := NewDockerSource()
	if err != nil {
		return nil, fmt.Errorf("init docker source: %w", err)
	}

	return &Agent{
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		workloadID: workloadID,
		source:     source,
		client:     &http.Client{Timeout: shipTimeout},
		breaker:    circuitbreaker.New("log-ship"),
	}, nil
}

// Run follows containerID until it exits or ctx is cancelled, shipping
// batched entries along the way and completing the workload at the end.
func (a *Agent) Run(ctx context.Context, containerID string) error {
	logger.Info("agent attached",
		"workload_id", a.workloadID, "container_id", containerID)

	entries := make(chan domain.LogEntry, 256)
	shipDone := make(chan struct{})
	go func() {
		defer close(shipDone)
		a.shipLoop(ctx, entries)
	}()

	exitCode, err := a.source.Follow(ctx, containerID, func(line string) {
		select {
		case entries <- parseEntry(line, time.Now().UTC()):
		case <-ctx.Done():
		}
	})
	close(entries)
	<-shipDone

	if err != nil {
		if ctx.Err() != nil {
			// Detach without completing: the workload may still be running.
			logger.Info("agent detached", "workload_id", a.workloadID)
			return nil
		}
		return err
	}

	status := domain.WorkloadStatusSucceeded
	if exitCode != 0 {
		status = domain.WorkloadStatusFailed
	}
	logger.Info("container exited",
		"workload_id", a.workloadID, "exit_code", exitCode, "status", status)

	// Completion uses a fresh context: the follow context may already be gone.
	cctx, cancel := context.WithTimeout(context.Background(), shipTimeout)
	defer cancel()
	return a.complete(cctx, status)
}

// shipLoop batches entries and flushes them on size or interval.
func (a *Agent) shipLoop(ctx context.Context, entries <-chan domain.LogEntry) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]domain.LogEntry, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := a.ship(ctx, batch); err != nil {
			logger.Error("failed to ship log batch",
				"workload_id", a.workloadID, "entries", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ticker.C:
			flush()
		case entry, ok := <-entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		}
	}
}

func (a *Agent) ship(ctx context.Context, batch []domain.LogEntry) error {
	body, err := json.Marshal(map[string][]domain.LogEntry{"entries": batch})
	if err != nil {
		return err
	}

	return a.breaker.Execute(func() error {
		url := fmt.Sprintf("%s/api/workloads/%s/logs", a.gatewayURL, a.workloadID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("ingest rejected: %s", resp.Status)
		}
		return nil
	})
}

func (a *Agent) complete(ctx context.Context, status domain.WorkloadStatus) error {
	body, err := json.Marshal(map[string]domain.WorkloadStatus{"status": status})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/workloads/%s/complete", a.gatewayURL, a.workloadID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("complete workload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("complete rejected: %s", resp.Status)
	}
	return nil
}
