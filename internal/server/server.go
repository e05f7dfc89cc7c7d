// Package server provides the HTTP REST API for the case analyzer.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonathan/case-analyzer/internal/db"
	"github.com/jonathan/case-analyzer/internal/orchestrator"
)

// Runner executes analysis runs. *orchestrator.Orchestrator satisfies it;
// handler tests substitute a scripted fake.
type Runner interface {
	Run(ctx context.Context, opts orchestrator.RunOptions) (*orchestrator.RunResult, error)
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	db         *db.DB
	runner     Runner
}

// Config holds server configuration
type Config struct {
	Addr string
}

// New creates a new server instance
func New(cfg Config, database *db.DB, runner Runner) *Server {
	s := &Server{
		db:     database,
		runner: runner,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.withLogging(s.withCORS(s.routes())),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // Long timeout for analysis runs and SSE
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Case CRUD
	mux.HandleFunc("POST /cases", s.handleCreateCase)
	mux.HandleFunc("GET /cases", s.handleListCases)
	mux.HandleFunc("GET /cases/{id}", s.handleGetCase)
	mux.HandleFunc("DELETE /cases/{id}", s.handleDeleteCase)

	// Documents
	mux.HandleFunc("POST /cases/{id}/documents", s.handleCreateDocument)
	mux.HandleFunc("GET /cases/{id}/documents", s.handleListDocuments)

	// Analysis runs
	mux.HandleFunc("POST /cases/{id}/run", s.handleRun)
	mux.HandleFunc("POST /cases/{id}/run/stream", s.handleRunStream)

	// Step ledger, event trail, report
	mux.HandleFunc("GET /cases/{id}/steps", s.handleListSteps)
	mux.HandleFunc("GET /cases/{id}/events", s.handleListEvents)
	mux.HandleFunc("GET /cases/{id}/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /cases/{id}/report", s.handleGetReport)

	return mux
}

// Start begins listening for requests and blocks until shutdown
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.db.Close()
	log.Println("Server stopped")
	return nil
}

// Handler exposes the routed handler with middleware; used by tests
func (s *Server) Handler() http.Handler {
	return s.withLogging(s.withCORS(s.routes()))
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}
