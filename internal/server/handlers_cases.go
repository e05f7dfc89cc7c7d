package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/case-analyzer/internal/db"
)

// CreateCaseRequest represents the request body for POST /cases
type CreateCaseRequest struct {
	Title string `json:"title" validate:"required,min=1"`
}

// Validate validates the CreateCaseRequest using the validator.
func (r *CreateCaseRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// CreateDocumentRequest represents the request body for POST /cases/{id}/documents.
// Content arrives already extracted to text.
type CreateDocumentRequest struct {
	Filename string `json:"filename" validate:"required,min=1"`
	Content  string `json:"content" validate:"required,min=1"`
}

// Validate validates the CreateDocumentRequest using the validator.
func (r *CreateDocumentRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// parseCaseID extracts and parses the {id} path value, writing an error
// response on failure.
func (s *Server) parseCaseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := r.PathValue("id")
	if idStr == "" {
		s.errorResponse(w, http.StatusBadRequest, "Case ID is required")
		return uuid.Nil, false
	}
	caseID, err := uuid.Parse(idStr)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid case ID format")
		return uuid.Nil, false
	}
	return caseID, true
}

// handleCreateCase creates a new case in draft status
func (s *Server) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var req CreateCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "title is required")
		return
	}

	c, err := s.db.CreateCase(r.Context(), req.Title)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	s.jsonResponse(w, http.StatusCreated, c)
}

// handleListCases returns recent cases
func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	cases, err := s.db.ListCases(r.Context(), 0)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if cases == nil {
		cases = []db.Case{}
	}
	s.jsonResponse(w, http.StatusOK, cases)
}

// handleGetCase returns a case with its documents
func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	caseID, ok := s.parseCaseID(w, r)
	if !ok {
		return
	}

	cwd, err := s.db.GetCaseWithDocuments(r.Context(), caseID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if cwd == nil {
		s.errorResponse(w, http.StatusNotFound, "Case not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, cwd)
}

// handleDeleteCase deletes a case and all dependent rows
func (s *Server) handleDeleteCase(w http.ResponseWriter, r *http.Request) {
	caseID, ok := s.parseCaseID(w, r)
	if !ok {
		return
	}

	if err := s.db.DeleteCase(r.Context(), caseID); err != nil {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleCreateDocument attaches an input document to a case
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	caseID, ok := s.parseCaseID(w, r)
	if !ok {
		return
	}

	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "filename and content are required")
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

	doc, err := s.db.CreateDocument(r.Context(), caseID, req.Filename, req.Content)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	s.jsonResponse(w, http.StatusCreated, doc)
}

// handleListDocuments returns all documents for a case
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	caseID, ok := s.parseCaseID(w, r)
	if !ok {
		return
	}

	docs, err := s.db.ListDocuments(r.Context(), caseID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if docs == nil {
		docs = []db.Document{}
	}
	s.jsonResponse(w, http.StatusOK, docs)
}
