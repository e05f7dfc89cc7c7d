package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Case Event Methods
// -----------------------------------------------------------------------------

// AppendEvent appends an immutable event to a case's event log and returns it.
// Events are never updated or deleted; the serial ID is the stream position.
func (db *DB) AppendEvent(ctx context.Context, caseID uuid.UUID, eventType string, payload any) (*CaseEvent, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	var e CaseEvent
	err = db.pool.QueryRow(ctx,
		`INSERT INTO case_events (case_id, event_type, payload)
		 VALUES ($1, $2, $3)
		 RETURNING id, case_id, event_type, payload, created_at`,
		caseID, eventType, payloadJSON,
	).Scan(&e.ID, &e.CaseID, &e.EventType, &e.Payload, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	return &e, nil
}

// ListEvents retrieves all events for a case in append order
func (db *DB) ListEvents(ctx context.Context, caseID uuid.UUID) ([]CaseEvent, error) {
	return db.ListEventsAfter(ctx, caseID, 0)
}

// ListEventsAfter retrieves events for a case with IDs greater than afterID,
// in append order. Streaming clients use this to resume after reconnecting.
func (db *DB) ListEventsAfter(ctx context.Context, caseID uuid.UUID, afterID int64) ([]CaseEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, case_id, event_type, payload, created_at
		 FROM case_events
		 WHERE case_id = $1 AND id > $2
		 ORDER BY id`,
		caseID, afterID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []CaseEvent
	for rows.Next() {
		var e CaseEvent
		if err := rows.Scan(&e.ID, &e.CaseID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}
