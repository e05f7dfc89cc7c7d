package db

import (
	"time"

	"github.com/google/uuid"
)

// CaseStatus constants
const (
	CaseStatusDraft      = "draft"
	CaseStatusProcessing = "processing"
	CaseStatusCompleted  = "completed"
	CaseStatusFailed     = "failed"
)

// StepStatus constants
const (
	StepStatusPending    = "pending"
	StepStatusProcessing = "processing"
	StepStatusCompleted  = "completed"
	StepStatusFailed     = "failed"
)

// EventType constants
const (
	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
)

// Case represents a decision record under analysis
type Case struct {
	ID           uuid.UUID  `json:"id"`
	Title        string     `json:"title"`
	Status       string     `json:"status"`
	CurrentRunID *uuid.UUID `json:"current_run_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Document represents an uploaded input document for a case.
// Text extraction happens upstream; content arrives already extracted.
type Document struct {
	ID        uuid.UUID `json:"id"`
	CaseID    uuid.UUID `json:"case_id"`
	Filename  string    `json:"filename"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// CaseWithDocuments bundles a case with its input documents
type CaseWithDocuments struct {
	Case      Case       `json:"case"`
	Documents []Document `json:"documents"`
}

// CaseStep represents one of the six fixed analysis stages for a case
type CaseStep struct {
	ID           uuid.UUID  `json:"id"`
	CaseID       uuid.UUID  `json:"case_id"`
	StepNumber   int        `json:"step_number"`
	Status       string     `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Payload      []byte     `json:"payload,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	Warnings     []string   `json:"warnings,omitempty"`
	RetryCount   int        `json:"retry_count"`
	TokensUsed   int        `json:"tokens_used"`
	DurationMs   int        `json:"duration_ms"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// StepCompletion holds the fields recorded when a step finishes successfully
type StepCompletion struct {
	Payload    []byte
	Warnings   []string
	RetryCount int
	TokensUsed int
	DurationMs int
}

// CaseEvent is an immutable, append-only record of a step lifecycle transition.
// The bigserial ID gives a total order per case.
type CaseEvent struct {
	ID        int64     `json:"id"`
	CaseID    uuid.UUID `json:"case_id"`
	EventType string    `json:"event_type"`
	Payload   []byte    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Report is the narrative output of a fully successful run; at most one per case
type Report struct {
	ID         uuid.UUID `json:"id"`
	CaseID     uuid.UUID `json:"case_id"`
	Narrative  string    `json:"narrative"`
	Diagram    string    `json:"diagram"`
	TokensUsed int       `json:"tokens_used"`
	DurationMs int       `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
