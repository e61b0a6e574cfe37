package entity

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

// JobType names a scheduled job class.
type JobType string

const (
	JobTypePriceIngestion   JobType = "price_ingestion"
	JobTypeNewsIngestion    JobType = "news_ingestion"
	JobTypeScreening        JobType = "screening"
	JobTypeDailyPrediction  JobType = "daily_prediction"
	JobTypeStoreMaintenance JobType = "store_maintenance"
)

// JobStatus is the outcome of one run.
type JobStatus string

const (
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusTimeout   JobStatus = "timeout"
	StatusSkipped   JobStatus = "skipped"
)

// Job is a registered job class together with its run policy.
type Job struct {
	Type           JobType
	Cadence        string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	DegradeAfter   int
}

// TaskExecutionHistory records one run of a job class.
type TaskExecutionHistory struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	JobType      JobType        `json:"job_type" gorm:"size:64;index"`
	Status       JobStatus      `json:"status" gorm:"size:16"`
	Attempts     int            `json:"attempts"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  sql.NullTime   `json:"completed_at"`
	Output       datatypes.JSON `json:"output" gorm:"type:jsonb"`
	ErrorMessage sql.NullString `json:"error_message"`
}

func (TaskExecutionHistory) TableName() string {
	return "task_execution_histories"
}
