package pg

import (
	"context"
	"errors"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"aimx.console/internal/core/domain"
	"aimx.console/internal/core/ports"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&domain.Workload{}); err != nil {
		return nil, err
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Create(ctx context.Context, w *domain.Workload) error {
	return r.db.WithContext(ctx).Create(w).Error
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Workload, error) {
	var w domain.Workload
	if err := r.db.WithContext(ctx).First(&w, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ports.ErrWorkloadNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *Repository) Update(ctx context.Context, w *domain.Workload) error {
	return r.db.WithContext(ctx).Save(w).Error
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&domain.Workload{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ports.ErrWorkloadNotFound
	}
	return nil
}

func (r *Repository) List(ctx context.Context, projectID string, offset, limit int) ([]*domain.Workload, error) {
	q := r.db.WithContext(ctx).Order("created_at desc").Offset(offset).Limit(limit)
	if projectID != "" {
		q = q.Where("project_id = ?", projectID)
	}
	var workloads []*domain.Workload
	if err := q.Find(&workloads).Error; err != nil {
		return nil, err
	}
	return workloads, nil
}

func (r *Repository) Count(ctx context.Context, projectID string) (int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.Workload{})
	if projectID != "" {
		q = q.Where("project_id = ?", projectID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *Repository) ListByStatus(ctx context.Context, status domain.WorkloadStatus) ([]*domain.Workload, error) {
	var workloads []*domain.Workload
	if err := r.db.WithContext(ctx).Where("status = ?", status).Find(&workloads).Error; err != nil {
		return nil, err
	}
	return workloads, nil
}

// DB exposes the underlying handle for health checks.
func (r *Repository) DB() *gorm.DB {
	return r.db
}
