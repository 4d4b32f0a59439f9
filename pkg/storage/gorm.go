package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/strand-jobs/pkg/core"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// GormStorage implements core.Storage using GORM.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a new GORM-backed job store.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// DB returns the underlying connection.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// Migrate creates the jobs table.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.StoredJob{})
}

// LoadJob returns the record with id, or nil when there is none.
func (s *GormStorage) LoadJob(ctx context.Context, id string) (*core.StoredJob, error) {
	var rec core.StoredJob
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveJob inserts the record or replaces every column of the existing one.
func (s *GormStorage) SaveJob(ctx context.Context, job *core.StoredJob) error {
	rec := job.Clone()
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(rec).Error
}

// ListNonTerminal returns pending and running records, oldest first.
func (s *GormStorage) ListNonTerminal(ctx context.Context) ([]*core.StoredJob, error) {
	var recs []*core.StoredJob
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{string(core.StatusPending), string(core.StatusRunning)}).
		Order("created_at ASC, id ASC").
		Find(&recs).Error
	return recs, err
}

// ListJobs returns records matching filter, newest first.
func (s *GormStorage) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.StoredJob, error) {
	q := s.db.WithContext(ctx).Model(&core.StoredJob{})
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Type != "" {
		q = q.Where("type = ?", string(filter.Type))
	}

	var recs []*core.StoredJob
	err := q.Order("created_at DESC, id DESC").Limit(listLimit(filter.Limit)).Find(&recs).Error
	return recs, err
}

// CountByStatus returns the number of stored jobs in each status.
func (s *GormStorage) CountByStatus(ctx context.Context) (map[core.JobStatus]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&core.StoredJob{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[core.JobStatus]int64, len(rows))
	for _, r := range rows {
		counts[core.JobStatus(r.Status)] = r.Count
	}
	return counts, nil
}

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
