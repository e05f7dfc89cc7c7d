package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/jonathan/case-analyzer/internal/db"
)

// StepLedgerResponse bundles the step rows with a status tally
type StepLedgerResponse struct {
	Steps   []db.CaseStep  `json:"steps"`
	Summary map[string]int `json:"summary"`
}

// handleListSteps returns the step ledger for a case in step-number order
func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	caseID, ok := s.parseCaseID(w, r)
	if !ok {
		return
	}

	steps, err := s.db.ListSteps(r.Context(), caseID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if steps == nil {
		steps = []db.CaseStep{}
	}

	summary := make(map[string]int)
	for _, step := range steps {
		summary[step.Status]++
	}
	s.jsonResponse(w, http.StatusOK, StepLedgerResponse{Steps: steps, Summary: summary})
}

// handleListEvents returns the event trail for a case. The optional "after"
// query parameter returns only events with IDs past that position.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	caseID, ok := s.parseCaseID(w, r)
	if !ok {
		return
	}

	afterID := int64(0)
	if after := r.URL.Query().Get("after"); after != "" {
		parsed, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid after parameter")
			return
		}
		afterID = parsed
	}

	events, err := s.db.ListEventsAfter(r.Context(), caseID, afterID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if events == nil {
		events = []db.CaseEvent{}
	}
	s.jsonResponse(w, http.StatusOK, events)
}

// handleEventStream tails the event trail via SSE. Reconnecting clients send
// Last-Event-ID and only receive events they have not seen. The stream closes
// once the case has no active run and the trail is drained.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	caseID, ok := s.parseCaseID(w, r)
	if !ok {
		return
	}

	c, err := s.db.GetCase(r.Context(), caseID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if c == nil {
		s.errorResponse(w, http.StatusNotFound, "Case not found")
		return
	}

	lastID := int64(0)
	if header := r.Header.Get("Last-Event-ID"); header != "" {
		if parsed, perr := strconv.ParseInt(header, 10, 64); perr == nil {
			lastID = parsed
		}
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		events, err := s.db.ListEventsAfter(r.Context(), caseID, lastID)
		if err != nil {
			sse.WriteError(err.Error())
			return
		}
		for _, event := range events {
			if werr := sse.WriteEventWithID(event.ID, event.EventType, json.RawMessage(event.Payload)); werr != nil {
				log.Printf("Error writing SSE event: %v", werr)
				return
			}
			lastID = event.ID
		}

		// Drained and no run holding the case: the trail will not grow until
		// another run starts, so close the stream.
		current, err := s.db.GetCase(r.Context(), caseID)
		if err != nil {
			sse.WriteError(err.Error())
			return
		}
		if current == nil {
			sse.WriteError("case deleted")
			return
		}
		if len(events) == 0 && current.CurrentRunID == nil {
			sse.WriteComplete(map[string]string{"status": current.Status})
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// handleGetReport returns the synthesized report for a case
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	caseID, ok := s.parseCaseID(w, r)
	if !ok {
		return
	}

	report, err := s.db.GetReport(r.Context(), caseID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if report == nil {
		s.errorResponse(w, http.StatusNotFound, "No report for this case")
		return
	}
	s.jsonResponse(w, http.StatusOK, report)
}
