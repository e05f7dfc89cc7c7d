package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Case Step Methods
// -----------------------------------------------------------------------------

const stepColumns = `id, case_id, step_number, status, started_at, completed_at,
	payload, error_message, warnings, retry_count, tokens_used, duration_ms,
	created_at, updated_at`

func scanStep(row interface{ Scan(...any) error }) (*CaseStep, error) {
	var s CaseStep
	var warningsJSON []byte
	err := row.Scan(&s.ID, &s.CaseID, &s.StepNumber, &s.Status, &s.StartedAt,
		&s.CompletedAt, &s.Payload, &s.ErrorMessage, &warningsJSON,
		&s.RetryCount, &s.TokensUsed, &s.DurationMs, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if warningsJSON != nil {
		_ = json.Unmarshal(warningsJSON, &s.Warnings)
	}
	return &s, nil
}

// GetOrCreateStep returns the step row for (caseID, stepNumber), inserting a
// pending row if none exists yet. The unique constraint on
// (case_id, step_number) makes the insert race-safe.
func (db *DB) GetOrCreateStep(ctx context.Context, caseID uuid.UUID, stepNumber int) (*CaseStep, error) {
	row := db.pool.QueryRow(ctx,
		`INSERT INTO case_steps (case_id, step_number, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (case_id, step_number) DO UPDATE SET updated_at = case_steps.updated_at
		 RETURNING `+stepColumns,
		caseID, stepNumber, StepStatusPending,
	)
	step, err := scanStep(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create step %d: %w", stepNumber, err)
	}
	return step, nil
}

// MarkStepProcessing transitions a step to processing and stamps started_at.
// Any leftover result fields from a previous failed attempt are cleared.
func (db *DB) MarkStepProcessing(ctx context.Context, stepID uuid.UUID, startedAt time.Time) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE case_steps
		 SET status = $1, started_at = $2, completed_at = NULL, error_message = NULL,
		     retry_count = 0, updated_at = NOW()
		 WHERE id = $3`,
		StepStatusProcessing, startedAt, stepID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark step processing: %w", err)
	}
	return nil
}

// MarkStepCompleted records a successful step result
func (db *DB) MarkStepCompleted(ctx context.Context, stepID uuid.UUID, result StepCompletion) error {
	var warningsJSON []byte
	if len(result.Warnings) > 0 {
		var err error
		warningsJSON, err = json.Marshal(result.Warnings)
		if err != nil {
			return fmt.Errorf("failed to marshal warnings: %w", err)
		}
	}

	_, err := db.pool.Exec(ctx,
		`UPDATE case_steps
		 SET status = $1, completed_at = NOW(), payload = $2, warnings = $3,
		     retry_count = $4, tokens_used = $5, duration_ms = $6, updated_at = NOW()
		 WHERE id = $7`,
		StepStatusCompleted, result.Payload, warningsJSON,
		result.RetryCount, result.TokensUsed, result.DurationMs, stepID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark step completed: %w", err)
	}
	return nil
}

// MarkStepFailed records a step failure with its error message
func (db *DB) MarkStepFailed(ctx context.Context, stepID uuid.UUID, errorMessage string, retryCount int) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE case_steps
		 SET status = $1, completed_at = NOW(), error_message = $2, retry_count = $3,
		     updated_at = NOW()
		 WHERE id = $4`,
		StepStatusFailed, errorMessage, retryCount, stepID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark step failed: %w", err)
	}
	return nil
}

// ListSteps retrieves all step rows for a case in step-number order
func (db *DB) ListSteps(ctx context.Context, caseID uuid.UUID) ([]CaseStep, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+stepColumns+` FROM case_steps
		 WHERE case_id = $1 ORDER BY step_number`,
		caseID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []CaseStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, *step)
	}
	return steps, nil
}
