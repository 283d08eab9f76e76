package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"aimx.console/internal/core/domain"
	"aimx.console/internal/core/logger"
	"aimx.console/internal/core/ports"
)

type WorkloadService struct {
	repo   ports.WorkloadRepository
	pubsub ports.LogPubSub
}

func NewWorkloadService(repo ports.WorkloadRepository, pubsub ports.LogPubSub) *WorkloadService {
	return &WorkloadService{repo: repo, pubsub: pubsub}
}

func (s *WorkloadService) CreateWorkload(ctx context.Context, name, kind, image, projectID string) (*domain.Workload, error) {
	w := &domain.Workload{
		ID:        fmt.Sprintf("wl-%s", uuid.New().String()),
		Name:      name,
		Kind:      kind,
		Image:     image,
		ProjectID: projectID,
		Status:    domain.WorkloadStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *WorkloadService) GetWorkload(ctx context.Context, id string) (*domain.Workload, error) {
	return s.repo.Get(ctx, id)
}

func (s *WorkloadService) DeleteWorkload(ctx context.Context, id string) error {
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !w.Status.Terminal() {
		return fmt.Errorf("cannot delete workload in status %s", w.Status)
	}
	return s.repo.Delete(ctx, id)
}

// PaginatedWorkloads is a page of workloads with list metadata.
type PaginatedWorkloads struct {
	Workloads []*domain.Workload `json:"workloads"`
	Total     int64              `json:"total"`
	Offset    int                `json:"offset"`
	Limit     int                `json:"limit"`
	HasMore   bool               `json:"has_more"`
}

func (s *WorkloadService) ListWorkloads(ctx context.Context, projectID string, offset, limit int) (*PaginatedWorkloads, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	workloads, err := s.repo.List(ctx, projectID, offset, limit)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.Count(ctx, projectID)
	if err != nil {
		return nil, err
	}

	return &PaginatedWorkloads{
		Workloads: workloads,
		Total:     total,
		Offset:    offset,
		Limit:     limit,
		HasMore:   offset+len(workloads) < int(total),
	}, nil
}

// IngestLogs stores a batch of entries and fans them out to live subscribers.
// Entries keep their delivery order.
func (s *WorkloadService) IngestLogs(ctx context.Context, workloadID string, entries []domain.LogEntry) error {
	w, err := s.repo.Get(ctx, workloadID)
	if err != nil {
		return err
	}
	if w.Status.Terminal() {
		return fmt.Errorf("workload %s is %s, rejecting log ingest", workloadID, w.Status)
	}

	for _, entry := range entries {
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now().UTC()
		}
		if entry.Level == "" {
			entry.Level = domain.LevelInfo
		}
		if err := s.pubsub.Publish(ctx, workloadID, entry); err != nil {
			return fmt.Errorf("publish entry for %s: %w", workloadID, err)
		}
	}

	w.LastLogAt = time.Now()
	if w.Status == domain.WorkloadStatusPending {
		w.Status = domain.WorkloadStatusRunning
	}
	w.UpdatedAt = time.Now()
	return s.repo.Update(ctx, w)
}

// RecentLogs returns the stored history window for a workload.
func (s *WorkloadService) RecentLogs(ctx context.Context, workloadID string, limit int) ([]domain.LogEntry, error) {
	if _, err := s.repo.Get(ctx, workloadID); err != nil {
		return nil, err
	}
	return s.pubsub.Recent(ctx, workloadID, limit)
}

// SubscribeLogs attaches a live subscription for one workload.
func (s *WorkloadService) SubscribeLogs(ctx context.Context, workloadID string) (<-chan domain.LogEntry, error) {
	if _, err := s.repo.Get(ctx, workloadID); err != nil {
		return nil, err
	}
	return s.pubsub.Subscribe(ctx, workloadID)
}

// CompleteWorkload moves a workload to a terminal status and closes its log
// stream for all subscribers.
func (s *WorkloadService) CompleteWorkload(ctx context.Context, workloadID string, status domain.WorkloadStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("%s is not a terminal status", status)
	}

	w, err := s.repo.Get(ctx, workloadID)
	if err != nil {
		return err
	}
	if w.Status.Terminal() {
		return nil
	}

	w.Status = status
	w.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, w); err != nil {
		return err
	}

	if err := s.pubsub.PublishDone(ctx, workloadID); err != nil {
		logger.Error("failed to publish done marker", "workload_id", workloadID, "error", err)
	}
	return nil
}

// StopWorkload is the user-initiated termination path.
func (s *WorkloadService) StopWorkload(ctx context.Context, workloadID string) error {
	w, err := s.repo.Get(ctx, workloadID)
	if err != nil {
		return err
	}
	if w.Status.Terminal() {
		return fmt.Errorf("workload already %s", w.Status)
	}
	return s.CompleteWorkload(ctx, workloadID, domain.WorkloadStatusStopped)
}

// BindContainer records the container an agent attached for this workload.
func (s *WorkloadService) BindContainer(ctx context.Context, workloadID, containerID string) error {
	w, err := s.repo.Get(ctx, workloadID)
	if err != nil {
		return err
	}
	w.ContainerID = containerID
	w.Status = domain.WorkloadStatusRunning
	w.UpdatedAt = time.Now()
	return s.repo.Update(ctx, w)
}
