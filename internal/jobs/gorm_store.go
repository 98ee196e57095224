package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GormStore keeps jobs in the jobs table so they survive restarts and can be shared
// by several runner processes.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建数据库任务存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates or updates the jobs table.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&Job{})
}

func (s *GormStore) Insert(ctx context.Context, job *Job) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// ClaimDue selects candidates and claims each with a conditional update. A candidate
// that another runner claimed first is skipped. An expired lease is reclaimed the same
// way: the claim bumps updated_at past staleBefore, so only one runner wins it.
func (s *GormStore) ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*Job, error) {
	var candidates []*Job
	q := s.db.WithContext(ctx).
		Where("(status = ? AND process_at <= ?) OR (status = ? AND updated_at <= ?)",
			StatusPending, now, StatusProcessing, staleBefore).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("select due jobs: %w", err)
	}

	claimed := make([]*Job, 0, len(candidates))
	for _, job := range candidates {
		res := s.db.WithContext(ctx).Model(&Job{}).
			Where("id = ? AND ((status = ? AND process_at <= ?) OR (status = ? AND updated_at <= ?))",
				job.ID, StatusPending, now, StatusProcessing, staleBefore).
			Updates(map[string]any{"status": StatusProcessing, "updated_at": now})
		if res.Error != nil {
			return claimed, fmt.Errorf("claim job %s: %w", job.ID, res.Error)
		}
		if res.RowsAffected != 1 {
			continue
		}
		job.Status = StatusProcessing
		job.UpdatedAt = now
		claimed = append(claimed, job)
	}
	return claimed, nil
}

func (s *GormStore) Update(ctx context.Context, job *Job) error {
	res := s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":       job.Status,
			"attempts":     job.Attempts,
			"process_at":   job.ProcessAt,
			"last_error":   job.LastError,
			"updated_at":   job.UpdatedAt,
			"finished_at":  job.FinishedAt,
			"max_attempts": job.MaxAttempts,
		})
	if res.Error != nil {
		return fmt.Errorf("update job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *GormStore) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	var rows []struct {
		Status Status
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&Job{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	counts := make(map[Status]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (s *GormStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status IN ? AND finished_at < ?", []Status{StatusCompleted, StatusFailed}, cutoff).
		Delete(&Job{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
