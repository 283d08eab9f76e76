package services

import (
	"context"
	"time"

	"aimx.console/internal/core/domain"
	"aimx.console/internal/core/logger"
)

// logStallTimeout is how long a running workload may go without log activity
// before the monitor declares it failed and closes its stream.
const logStallTimeout = 5 * time.Minute

// WorkloadMonitor fails running workloads whose agent stopped reporting, so
// that attached log streams terminate instead of hanging forever.
type WorkloadMonitor struct {
	svc      *WorkloadService
	interval time.Duration
}

func NewWorkloadMonitor(svc *WorkloadService) *WorkloadMonitor {
	return &WorkloadMonitor{svc: svc, interval: 30 * time.Second}
}

func (m *WorkloadMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *WorkloadMonitor) sweep(ctx context.Context) {
	running, err := m.svc.repo.ListByStatus(ctx, domain.WorkloadStatusRunning)
	if err != nil {
		logger.Error("monitor failed to list running workloads", "error", err)
		return
	}

	now := time.Now()
	for _, w := range running {
		last := w.LastLogAt
		if last.IsZero() {
			last = w.UpdatedAt
		}
		if now.Sub(last) < logStallTimeout {
			continue
		}

		logger.Warn("workload log stream stalled, marking failed",
			"workload_id", w.ID, "last_log_at", last)
		if err := m.svc.CompleteWorkload(ctx, w.ID, domain.WorkloadStatusFailed); err != nil {
			logger.Error("monitor failed to complete workload",
				"workload_id", w.ID, "error", err)
		}
	}
}
