package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UpsertReport creates or replaces the report for a case. Only a run that
// completed all six steps without failures may call this.
func (db *DB) UpsertReport(ctx context.Context, caseID uuid.UUID, narrative, diagram string, tokensUsed, durationMs int) (*Report, error) {
	var r Report
	err := db.pool.QueryRow(ctx,
		`INSERT INTO reports (case_id, narrative, diagram, tokens_used, duration_ms)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (case_id) DO UPDATE
		 SET narrative = $2, diagram = $3, tokens_used = $4, duration_ms = $5, updated_at = NOW()
		 RETURNING id, case_id, narrative, diagram, tokens_used, duration_ms, created_at, updated_at`,
		caseID, narrative, diagram, tokensUsed, durationMs,
	).Scan(&r.ID, &r.CaseID, &r.Narrative, &r.Diagram, &r.TokensUsed, &r.DurationMs, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert report: %w", err)
	}
	return &r, nil
}

// GetReport retrieves the report for a case; returns nil if none exists yet
func (db *DB) GetReport(ctx context.Context, caseID uuid.UUID) (*Report, error) {
	var r Report
	err := db.pool.QueryRow(ctx,
		`SELECT id, case_id, narrative, diagram, tokens_used, duration_ms, created_at, updated_at
		 FROM reports WHERE case_id = $1`,
		caseID,
	).Scan(&r.ID, &r.CaseID, &r.Narrative, &r.Diagram, &r.TokensUsed, &r.DurationMs, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return &r, nil
}
