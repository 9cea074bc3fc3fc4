package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"paperquote/internal/model"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *model.IngestionJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create ingestion job failed: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uint) (*model.IngestionJob, error) {
	var job model.IngestionJob
	if err := r.db.WithContext(ctx).First(&job, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query job by id failed: %w", err)
	}
	return &job, nil
}

func (r *JobRepository) ListByState(ctx context.Context, state model.JobState) ([]model.IngestionJob, error) {
	var jobs []model.IngestionJob
	q := r.db.WithContext(ctx)
	if state != "" {
		q = q.Where("state = ?", state)
	}
	if err := q.Order("id DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs failed: %w", err)
	}
	return jobs, nil
}

func (r *JobRepository) LatestByDocumentID(ctx context.Context, documentID uint) (*model.IngestionJob, error) {
	var job model.IngestionJob
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("id DESC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest job failed: %w", err)
	}
	return &job, nil
}

// ClaimProcessing moves a queued or failed job into processing and bumps
// the attempt counter. The guarded WHERE keeps the state machine forward
// only when the broker redelivers: a claim on a job already processing,
// done or dead affects zero rows.
func (r *JobRepository) ClaimProcessing(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.IngestionJob{}).
		Where("id = ? AND state IN ?", id, []model.JobState{model.JobQueued, model.JobFailed}).
		Updates(map[string]interface{}{
			"state":         model.JobProcessing,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim job failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *JobRepository) MarkFailed(ctx context.Context, id uint, lastError string) error {
	return r.transition(ctx, id, model.JobProcessing, model.JobFailed, lastError)
}

func (r *JobRepository) MarkDead(ctx context.Context, id uint, lastError string) error {
	var job model.IngestionJob
	if err := r.db.WithContext(ctx).First(&job, id).Error; err != nil {
		return fmt.Errorf("load job for dead transition failed: %w", err)
	}
	if !job.State.CanTransitionTo(model.JobDead) {
		// processing -> dead is expressed as processing -> failed -> dead.
		if err := r.transition(ctx, id, model.JobProcessing, model.JobFailed, lastError); err != nil {
			return err
		}
	}
	return r.transition(ctx, id, model.JobFailed, model.JobDead, lastError)
}

func (r *JobRepository) transition(ctx context.Context, id uint, from, to model.JobState, lastError string) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("illegal job transition %s -> %s", from, to)
	}
	updates := map[string]interface{}{"state": to}
	if lastError != "" {
		updates["last_error"] = truncateError(lastError)
	}
	res := r.db.WithContext(ctx).
		Model(&model.IngestionJob{}).
		Where("id = ? AND state = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("job transition %s -> %s failed: %w", from, to, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %d not in state %s", id, from)
	}
	return nil
}

func truncateError(s string) string {
	const max = 1024
	if len(s) <= max {
		return s
	}
	return s[:max]
}
