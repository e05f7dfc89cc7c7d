package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/case-analyzer/internal/db"
	"github.com/jonathan/case-analyzer/internal/orchestrator"
)

// RunRequest represents the optional request body for POST /cases/{id}/run.
// An empty body runs the full pipeline from step 1.
type RunRequest struct {
	// ResumeFromStep lets a caller resume a previously failed run from a
	// specific step. Zero means step 1.
	ResumeFromStep int `json:"resume_from_step,omitempty" validate:"min=0,max=6"`
	// FailStep injects a failure at the given step; exposed for testing
	// resume behavior end to end.
	FailStep int `json:"fail_step,omitempty" validate:"min=0,max=6"`
}

// Validate validates the RunRequest using the validator.
func (r *RunRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// decodeRunRequest reads the optional run request body. A missing body is
// treated as an empty request.
func decodeRunRequest(r *http.Request) (*RunRequest, error) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// handleRun executes the analysis pipeline synchronously and returns the run
// summary. A run halted by a step failure is still a 200; only precondition
// failures map to error statuses.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	caseID, ok := s.parseCaseID(w, r)
	if !ok {
		return
	}

	req, err := decodeRunRequest(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := s.runner.Run(r.Context(), orchestrator.RunOptions{
		CaseID:    caseID,
		StartStep: req.ResumeFromStep,
		FailStep:  req.FailStep,
	})
	if err != nil {
		s.runErrorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

// handleRunStream executes the pipeline and streams its event trail via SSE,
// ending with a complete or error event.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	caseID, ok := s.parseCaseID(w, r)
	if !ok {
		return
	}

	req, err := decodeRunRequest(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := s.runner.Run(r.Context(), orchestrator.RunOptions{
		CaseID:    caseID,
		StartStep: req.ResumeFromStep,
		FailStep:  req.FailStep,
		OnEvent: func(event db.CaseEvent) {
			if werr := sse.WriteEventWithID(event.ID, event.EventType, json.RawMessage(event.Payload)); werr != nil {
				log.Printf("Error writing SSE event: %v", werr)
			}
		},
	})
	if err != nil {
		sse.WriteError(err.Error())
		return
	}
	sse.WriteComplete(result)
}

// runErrorResponse maps orchestrator precondition failures to HTTP statuses
func (s *Server) runErrorResponse(w http.ResponseWriter, err error) {
	var conflict *orchestrator.ConflictError
	switch {
	case errors.Is(err, orchestrator.ErrCaseNotFound):
		s.errorResponse(w, http.StatusNotFound, "Case not found")
	case errors.Is(err, orchestrator.ErrNoDocuments):
		s.errorResponse(w, http.StatusBadRequest, "Case has no input documents")
	case errors.As(err, &conflict):
		body := map[string]string{"error": "Another run is active for this case"}
		if conflict.CurrentRunID != nil {
			body["current_run_id"] = conflict.CurrentRunID.String()
		}
		s.jsonResponse(w, http.StatusConflict, body)
	default:
		s.errorResponse(w, http.StatusInternalServerError, "Run failed: "+err.Error())
	}
}
