package service

import (
	"context"
	"encoding/json"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/scheduler/dto"
	"golang-stock-pulse/internal/scheduler/repository"
	"golang-stock-pulse/pkg/logger"
)

// ExecutionHistoryService defines the interface for reading execution history.
type ExecutionHistoryService interface {
	GetExecutionHistoryByID(ctx context.Context, id uint) (*dto.ExecutionHistoryResponse, error)
	GetAllExecutionHistories(ctx context.Context) ([]*dto.ExecutionHistoryResponse, error)
	GetExecutionHistoriesByJobType(ctx context.Context, jobType entity.JobType) ([]*dto.ExecutionHistoryResponse, error)
}

// NewExecutionHistoryService creates a new execution history service returning at most limit rows per list.
func NewExecutionHistoryService(historyRepo repository.TaskExecutionHistoryRepository, logger *logger.Logger, limit int) ExecutionHistoryService {
	if limit <= 0 {
		limit = 100
	}
	return &executionHistoryService{
		historyRepo: historyRepo,
		logger:      logger,
		limit:       limit,
	}
}

type executionHistoryService struct {
	historyRepo repository.TaskExecutionHistoryRepository
	logger      *logger.Logger
	limit       int
}

// GetExecutionHistoryByID retrieves an execution history record by its ID.
func (s *executionHistoryService) GetExecutionHistoryByID(ctx context.Context, id uint) (*dto.ExecutionHistoryResponse, error) {
	history, err := s.historyRepo.FindByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to find execution history", logger.ErrorField(err), logger.Field("history_id", id))
		return nil, err
	}
	return mapToExecutionHistoryResponse(history), nil
}

// GetAllExecutionHistories retrieves the most recent runs of every job.
func (s *executionHistoryService) GetAllExecutionHistories(ctx context.Context) ([]*dto.ExecutionHistoryResponse, error) {
	histories, err := s.historyRepo.FindAll(ctx, s.limit)
	if err != nil {
		s.logger.Error("Failed to get all execution histories", logger.ErrorField(err))
		return nil, err
	}
	return mapAll(histories), nil
}

func (s *executionHistoryService) GetExecutionHistoriesByJobType(ctx context.Context, jobType entity.JobType) ([]*dto.ExecutionHistoryResponse, error) {
	histories, err := s.historyRepo.FindAllByJobType(ctx, jobType, s.limit)
	if err != nil {
		s.logger.Error("Failed to get execution histories by job type", logger.ErrorField(err), logger.StringField("job_type", string(jobType)))
		return nil, err
	}
	return mapAll(histories), nil
}

func mapAll(histories []entity.TaskExecutionHistory) []*dto.ExecutionHistoryResponse {
	out := make([]*dto.ExecutionHistoryResponse, 0, len(histories))
	for i := range histories {
		out = append(out, mapToExecutionHistoryResponse(&histories[i]))
	}
	return out
}

// mapToExecutionHistoryResponse maps an entity.TaskExecutionHistory to a dto.ExecutionHistoryResponse.
func mapToExecutionHistoryResponse(history *entity.TaskExecutionHistory) *dto.ExecutionHistoryResponse {
	var duration int64
	if history.CompletedAt.Valid {
		duration = history.CompletedAt.Time.Sub(history.StartedAt).Milliseconds()
	}

	resp := &dto.ExecutionHistoryResponse{
		ID:         history.ID,
		JobType:    string(history.JobType),
		Status:     string(history.Status),
		Attempts:   history.Attempts,
		ExecutedAt: history.StartedAt,
		Duration:   duration,
	}
	if len(history.Output) > 0 {
		resp.Output = json.RawMessage(history.Output)
	}
	if history.ErrorMessage.Valid {
		resp.ErrorMessage = history.ErrorMessage.String
	}
	return resp
}
