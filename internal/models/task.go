package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the state of a generation job.
type JobStatus string

// Generation job states. Every state except processing is terminal.
const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusTimeout    JobStatus = "timeout"
	JobStatusCanceled   JobStatus = "canceled"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s != JobStatusProcessing
}

// GenerationJob tracks one request delegated to the external generation provider.
type GenerationJob struct {
	ID              uuid.UUID       `json:"id"`
	AccountID       uuid.UUID       `json:"account_id"`
	ToolType        string          `json:"tool_type"`
	Status          JobStatus       `json:"status"`
	CostQuote       int64           `json:"cost_quote"`
	ChargeApplied   bool            `json:"charge_applied"`
	ChargeShortfall int64           `json:"charge_shortfall"`
	ExternalRef     *string         `json:"external_ref,omitempty"`
	InputParams     json.RawMessage `json:"input_params"`
	OutputRef       *string         `json:"output_ref,omitempty"`
	ErrorDetail     *string         `json:"error_detail,omitempty"`
	PollAttempts    int             `json:"poll_attempts"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

// Dispatched reports whether the provider accepted the job.
func (j *GenerationJob) Dispatched() bool {
	return j.ExternalRef != nil && *j.ExternalRef != ""
}
