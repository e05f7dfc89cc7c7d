package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// Case Methods
// -----------------------------------------------------------------------------

// CreateCase creates a new case in draft status and returns it
func (db *DB) CreateCase(ctx context.Context, title string) (*Case, error) {
	var c Case
	err := db.pool.QueryRow(ctx,
		`INSERT INTO cases (title, status)
		 VALUES ($1, $2)
		 RETURNING id, title, status, current_run_id, created_at, updated_at`,
		title, CaseStatusDraft,
	).Scan(&c.ID, &c.Title, &c.Status, &c.CurrentRunID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create case: %w", err)
	}
	return &c, nil
}

// GetCase retrieves a case by ID; returns nil if not found
func (db *DB) GetCase(ctx context.Context, caseID uuid.UUID) (*Case, error) {
	var c Case
	err := db.pool.QueryRow(ctx,
		`SELECT id, title, status, current_run_id, created_at, updated_at
		 FROM cases WHERE id = $1`,
		caseID,
	).Scan(&c.ID, &c.Title, &c.Status, &c.CurrentRunID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return &c, nil
}

// GetCaseWithDocuments retrieves a case together with its input documents.
// Returns nil if the case does not exist.
func (db *DB) GetCaseWithDocuments(ctx context.Context, caseID uuid.UUID) (*CaseWithDocuments, error) {
	c, err := db.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}

	docs, err := db.ListDocuments(ctx, caseID)
	if err != nil {
		return nil, err
	}

	return &CaseWithDocuments{Case: *c, Documents: docs}, nil
}

// ListCases retrieves recent cases
func (db *DB) ListCases(ctx context.Context, limit int) ([]Case, error) {
	if limit == 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, title, status, current_run_id, created_at, updated_at
		 FROM cases ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	defer rows.Close()

	var cases []Case
	for rows.Next() {
		var c Case
		if err := rows.Scan(&c.ID, &c.Title, &c.Status, &c.CurrentRunID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, nil
}

// DeleteCase deletes a case and all its steps, events and report (via cascade)
func (db *DB) DeleteCase(ctx context.Context, caseID uuid.UUID) error {
	result, err := db.pool.Exec(ctx, `DELETE FROM cases WHERE id = $1`, caseID)
	if err != nil {
		return fmt.Errorf("failed to delete case: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("case not found: %s", caseID)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Run Guard Methods
// -----------------------------------------------------------------------------

// AcquireRun attempts to claim a case for an exclusive run. The claim is a
// single conditional UPDATE so two concurrent callers cannot both win: zero
// rows updated means another run holds the case, and the blocking run ID is
// read back for the caller.
func (db *DB) AcquireRun(ctx context.Context, caseID, runID uuid.UUID) (acquired bool, currentRunID *uuid.UUID, err error) {
	result, err := db.pool.Exec(ctx,
		`UPDATE cases
		 SET status = $1, current_run_id = $2, updated_at = NOW()
		 WHERE id = $3 AND current_run_id IS NULL`,
		CaseStatusProcessing, runID, caseID,
	)
	if err != nil {
		return false, nil, fmt.Errorf("failed to acquire run: %w", err)
	}
	if result.RowsAffected() == 1 {
		return true, &runID, nil
	}

	var blocking *uuid.UUID
	err = db.pool.QueryRow(ctx,
		`SELECT current_run_id FROM cases WHERE id = $1`, caseID,
	).Scan(&blocking)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil, fmt.Errorf("case not found: %s", caseID)
		}
		return false, nil, fmt.Errorf("failed to read blocking run: %w", err)
	}
	return false, blocking, nil
}

// ReleaseRun clears the current run ID and records the terminal case status.
// It must succeed on every run exit path; a stuck current_run_id blocks all
// future runs for the case.
func (db *DB) ReleaseRun(ctx context.Context, caseID uuid.UUID, terminalStatus string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE cases
		 SET status = $1, current_run_id = NULL, updated_at = NOW()
		 WHERE id = $2`,
		terminalStatus, caseID,
	)
	if err != nil {
		return fmt.Errorf("failed to release run: %w", err)
	}
	return nil
}
