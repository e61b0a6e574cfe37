package dto

import (
	"encoding/json"
	"time"
)

// ExecutionHistoryResponse is the DTO for API responses containing execution history details.
type ExecutionHistoryResponse struct {
	ID           uint            `json:"id"`
	JobType      string          `json:"job_type"`
	Status       string          `json:"status"`
	Attempts     int             `json:"attempts"`
	ExecutedAt   time.Time       `json:"executed_at"`
	Duration     int64           `json:"duration_ms"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}
