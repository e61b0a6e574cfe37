package dto

import "time"

// JobStatusResponse is the live state of one registered job class.
type JobStatusResponse struct {
	Type                string     `json:"type"`
	Cadence             string     `json:"cadence"`
	Timeout             string     `json:"timeout"`
	MaxRetries          int        `json:"max_retries"`
	Running             bool       `json:"running"`
	Degraded            bool       `json:"degraded"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastStatus          string     `json:"last_status,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	NextRunAt           *time.Time `json:"next_run_at,omitempty"`
}

// TriggerResponse reports the outcome of a manual trigger.
type TriggerResponse struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
