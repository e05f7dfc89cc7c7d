package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/case-analyzer/internal/db"
)

// Store is the persistence capability consumed by the orchestrator. *db.DB
// satisfies it; tests use an in-memory fake so run behavior is exercised
// without a database.
type Store interface {
	// Case lookup and run guard
	GetCaseWithDocuments(ctx context.Context, caseID uuid.UUID) (*db.CaseWithDocuments, error)
	AcquireRun(ctx context.Context, caseID, runID uuid.UUID) (acquired bool, currentRunID *uuid.UUID, err error)
	ReleaseRun(ctx context.Context, caseID uuid.UUID, terminalStatus string) error

	// Step store
	GetOrCreateStep(ctx context.Context, caseID uuid.UUID, stepNumber int) (*db.CaseStep, error)
	MarkStepProcessing(ctx context.Context, stepID uuid.UUID, startedAt time.Time) error
	MarkStepCompleted(ctx context.Context, stepID uuid.UUID, result db.StepCompletion) error
	MarkStepFailed(ctx context.Context, stepID uuid.UUID, errorMessage string, retryCount int) error

	// Event log (append-only)
	AppendEvent(ctx context.Context, caseID uuid.UUID, eventType string, payload any) (*db.CaseEvent, error)

	// Report
	UpsertReport(ctx context.Context, caseID uuid.UUID, narrative, diagram string, tokensUsed, durationMs int) (*db.Report, error)
}
