package orchestrator

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Precondition failures, each a distinct failure mode mapped to its own HTTP
// status by the server layer.
var (
	// ErrCaseNotFound means the case does not exist
	ErrCaseNotFound = errors.New("case not found")
	// ErrNoDocuments means the case has no input document attached
	ErrNoDocuments = errors.New("case has no input documents")
)

// ConflictError means another run currently holds the case's run guard
type ConflictError struct {
	CurrentRunID *uuid.UUID
}

func (e *ConflictError) Error() string {
	if e.CurrentRunID != nil {
		return fmt.Sprintf("another run is active for this case: %s", e.CurrentRunID)
	}
	return "another run is active for this case"
}
