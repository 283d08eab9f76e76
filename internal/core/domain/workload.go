package domain

import (
	"time"
)

type WorkloadStatus string

const (
	WorkloadStatusPending   WorkloadStatus = "pending"
	WorkloadStatusRunning   WorkloadStatus = "running"
	WorkloadStatusSucceeded WorkloadStatus = "succeeded"
	WorkloadStatusFailed    WorkloadStatus = "failed"
	WorkloadStatusStopped   WorkloadStatus = "stopped"
)

// Terminal reports whether the workload will emit no further log entries.
func (s WorkloadStatus) Terminal() bool {
	switch s {
	case WorkloadStatusSucceeded, WorkloadStatusFailed, WorkloadStatusStopped:
		return true
	}
	return false
}

// Workload is a backend-managed compute job (inference, fine-tuning, etc.)
// whose output is exposed as a log stream.
type Workload struct {
	ID          string         `json:"id" gorm:"primaryKey"`
	Name        string         `json:"name"`
	Kind        string         `json:"kind"` // "inference", "finetune", ...
	Image       string         `json:"image"`
	ProjectID   string         `json:"project_id"`
	Status      WorkloadStatus `json:"status"`
	ContainerID string         `json:"container_id,omitempty"`
	LastLogAt   time.Time      `json:"last_log_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (Workload) TableName() string {
	return "workloads"
}
