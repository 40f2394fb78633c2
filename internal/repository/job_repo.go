package repository

import (
	"context"

	"github.com/timmy/papershelf/internal/domain"
	"gorm.io/gorm"
)

// JobRepository keeps the history of finished conversion jobs. It is an
// audit trail only; current job state lives in memory.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create appends a finished job.
func (r *JobRepository) Create(ctx context.Context, job *domain.ConversionJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// ListByPaper returns the jobs of a paper, newest first.
func (r *JobRepository) ListByPaper(ctx context.Context, paperID string, limit int) ([]domain.ConversionJob, error) {
	var jobs []domain.ConversionJob
	q := r.db.WithContext(ctx).Where("paper_id = ?", paperID).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// CountByStatus returns the number of finished jobs per status.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[domain.Phase]int64, error) {
	var rows []struct {
		Status domain.Phase
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&domain.ConversionJob{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Phase]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}
