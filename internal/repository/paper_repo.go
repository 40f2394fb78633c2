package repository

import (
	"context"
	"errors"

	"github.com/timmy/papershelf/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaperRepository stores catalog metadata for papers.
type PaperRepository struct {
	db *gorm.DB
}

// NewPaperRepository creates a new PaperRepository.
func NewPaperRepository(db *gorm.DB) *PaperRepository {
	return &PaperRepository{db: db}
}

// Upsert creates a paper or replaces its metadata.
func (r *PaperRepository) Upsert(ctx context.Context, paper *domain.Paper) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "authors", "abstract", "categories", "published", "pdf_url", "links", "updated_at"}),
	}).Create(paper).Error
}

// UpsertBatch upserts several papers in one statement.
func (r *PaperRepository) UpsertBatch(ctx context.Context, papers []*domain.Paper) error {
	if len(papers) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "authors", "abstract", "categories", "published", "pdf_url", "updated_at"}),
	}).Create(papers).Error
}

// GetByID returns a paper, or nil when it is not in the catalog.
func (r *PaperRepository) GetByID(ctx context.Context, id string) (*domain.Paper, error) {
	var paper domain.Paper
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&paper).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &paper, nil
}

// GetByIDs returns the catalogued papers among ids, keyed by id.
func (r *PaperRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Paper, error) {
	out := make(map[string]*domain.Paper, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var papers []domain.Paper
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&papers).Error; err != nil {
		return nil, err
	}
	for i := range papers {
		out[papers[i].ID] = &papers[i]
	}
	return out, nil
}

// Count returns the number of catalogued papers.
func (r *PaperRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Paper{}).Count(&count).Error
	return count, err
}
