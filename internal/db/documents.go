package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateDocument attaches an input document to a case
func (db *DB) CreateDocument(ctx context.Context, caseID uuid.UUID, filename, content string) (*Document, error) {
	var d Document
	err := db.pool.QueryRow(ctx,
		`INSERT INTO documents (case_id, filename, content)
		 VALUES ($1, $2, $3)
		 RETURNING id, case_id, filename, content, created_at`,
		caseID, filename, content,
	).Scan(&d.ID, &d.CaseID, &d.Filename, &d.Content, &d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	return &d, nil
}

// GetDocument retrieves a document by ID; returns nil if not found
func (db *DB) GetDocument(ctx context.Context, documentID uuid.UUID) (*Document, error) {
	var d Document
	err := db.pool.QueryRow(ctx,
		`SELECT id, case_id, filename, content, created_at
		 FROM documents WHERE id = $1`,
		documentID,
	).Scan(&d.ID, &d.CaseID, &d.Filename, &d.Content, &d.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &d, nil
}

// ListDocuments retrieves all documents for a case in upload order
func (db *DB) ListDocuments(ctx context.Context, caseID uuid.UUID) ([]Document, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, case_id, filename, content, created_at
		 FROM documents WHERE case_id = $1 ORDER BY created_at`,
		caseID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.CaseID, &d.Filename, &d.Content, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}
