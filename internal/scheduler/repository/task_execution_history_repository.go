package repository

import (
	"context"
	"errors"
	"fmt"

	"golang-stock-pulse/internal/entity"

	"gorm.io/gorm"
)

// TaskExecutionHistoryRepository defines the interface for task execution history data operations.
type TaskExecutionHistoryRepository interface {
	Create(ctx context.Context, history *entity.TaskExecutionHistory) error
	FindByID(ctx context.Context, id uint) (*entity.TaskExecutionHistory, error)
	FindAll(ctx context.Context, limit int) ([]entity.TaskExecutionHistory, error)
	FindAllByJobType(ctx context.Context, jobType entity.JobType, limit int) ([]entity.TaskExecutionHistory, error)
	Update(ctx context.Context, history *entity.TaskExecutionHistory) error
}

// NewTaskExecutionHistoryRepository creates a new GORM-based task execution history repository.
func NewTaskExecutionHistoryRepository(db *gorm.DB) TaskExecutionHistoryRepository {
	return &taskExecutionHistoryRepository{db: db}
}

type taskExecutionHistoryRepository struct {
	db *gorm.DB
}

func (r *taskExecutionHistoryRepository) Create(ctx context.Context, history *entity.TaskExecutionHistory) error {
	return r.db.WithContext(ctx).Create(history).Error
}

// FindByID returns entity.ErrNotFound for an unknown id.
func (r *taskExecutionHistoryRepository) FindByID(ctx context.Context, id uint) (*entity.TaskExecutionHistory, error) {
	var history entity.TaskExecutionHistory
	err := r.db.WithContext(ctx).First(&history, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("execution %d: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &history, nil
}

// FindAll retrieves the most recent runs of every job.
func (r *taskExecutionHistoryRepository) FindAll(ctx context.Context, limit int) ([]entity.TaskExecutionHistory, error) {
	var histories []entity.TaskExecutionHistory
	if err := r.db.WithContext(ctx).Order("started_at desc").Limit(limit).Find(&histories).Error; err != nil {
		return nil, err
	}
	return histories, nil
}

func (r *taskExecutionHistoryRepository) FindAllByJobType(ctx context.Context, jobType entity.JobType, limit int) ([]entity.TaskExecutionHistory, error) {
	var histories []entity.TaskExecutionHistory
	if err := r.db.WithContext(ctx).
		Where("job_type = ?", jobType).
		Order("started_at desc").
		Limit(limit).
		Find(&histories).Error; err != nil {
		return nil, err
	}
	return histories, nil
}

// Update update task execution history record
func (r *taskExecutionHistoryRepository) Update(ctx context.Context, history *entity.TaskExecutionHistory) error {
	return r.db.WithContext(ctx).Save(history).Error
}
