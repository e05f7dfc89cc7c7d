package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/case-analyzer/internal/backoff"
	"github.com/jonathan/case-analyzer/internal/db"
	"github.com/jonathan/case-analyzer/internal/llm"
)

// -----------------------------------------------------------------------------
// In-memory fakes
// -----------------------------------------------------------------------------

type fakeStore struct {
	mu          sync.Mutex
	caseRow     *db.CaseWithDocuments
	steps       map[int]*db.CaseStep
	events      []db.CaseEvent
	report      *db.Report
	nextEventID int64
	releases    []string
}

func newFakeStore(caseRow *db.CaseWithDocuments) *fakeStore {
	return &fakeStore{
		caseRow: caseRow,
		steps:   make(map[int]*db.CaseStep),
	}
}

func (s *fakeStore) GetCaseWithDocuments(ctx context.Context, caseID uuid.UUID) (*db.CaseWithDocuments, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.caseRow == nil || s.caseRow.Case.ID != caseID {
		return nil, nil
	}
	cp := *s.caseRow
	return &cp, nil
}

func (s *fakeStore) AcquireRun(ctx context.Context, caseID, runID uuid.UUID) (bool, *uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.caseRow.Case.CurrentRunID != nil {
		held := *s.caseRow.Case.CurrentRunID
		return false, &held, nil
	}
	s.caseRow.Case.CurrentRunID = &runID
	s.caseRow.Case.Status = db.CaseStatusProcessing
	return true, nil, nil
}

func (s *fakeStore) ReleaseRun(ctx context.Context, caseID uuid.UUID, terminalStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caseRow.Case.CurrentRunID = nil
	s.caseRow.Case.Status = terminalStatus
	s.releases = append(s.releases, terminalStatus)
	return nil
}

func (s *fakeStore) GetOrCreateStep(ctx context.Context, caseID uuid.UUID, stepNumber int) (*db.CaseStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if step, ok := s.steps[stepNumber]; ok {
		cp := *step
		return &cp, nil
	}
	step := &db.CaseStep{
		ID:         uuid.New(),
		CaseID:     caseID,
		StepNumber: stepNumber,
		Status:     db.StepStatusPending,
	}
	s.steps[stepNumber] = step
	cp := *step
	return &cp, nil
}

func (s *fakeStore) stepByID(stepID uuid.UUID) *db.CaseStep {
	for _, step := range s.steps {
		if step.ID == stepID {
			return step
		}
	}
	return nil
}

func (s *fakeStore) MarkStepProcessing(ctx context.Context, stepID uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step := s.stepByID(stepID)
	step.Status = db.StepStatusProcessing
	step.StartedAt = &startedAt
	step.CompletedAt = nil
	step.ErrorMessage = nil
	step.RetryCount = 0
	return nil
}

func (s *fakeStore) MarkStepCompleted(ctx context.Context, stepID uuid.UUID, result db.StepCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step := s.stepByID(stepID)
	now := time.Now()
	step.Status = db.StepStatusCompleted
	step.CompletedAt = &now
	step.Payload = result.Payload
	step.Warnings = result.Warnings
	step.RetryCount = result.RetryCount
	step.TokensUsed = result.TokensUsed
	step.DurationMs = result.DurationMs
	return nil
}

func (s *fakeStore) MarkStepFailed(ctx context.Context, stepID uuid.UUID, errorMessage string, retryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step := s.stepByID(stepID)
	now := time.Now()
	step.Status = db.StepStatusFailed
	step.CompletedAt = &now
	step.ErrorMessage = &errorMessage
	step.RetryCount = retryCount
	return nil
}

func (s *fakeStore) AppendEvent(ctx context.Context, caseID uuid.UUID, eventType string, payload any) (*db.CaseEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	s.nextEventID++
	event := db.CaseEvent{
		ID:        s.nextEventID,
		CaseID:    caseID,
		EventType: eventType,
		Payload:   data,
		CreatedAt: time.Now(),
	}
	s.events = append(s.events, event)
	return &event, nil
}

func (s *fakeStore) UpsertReport(ctx context.Context, caseID uuid.UUID, narrative, diagram string, tokensUsed, durationMs int) (*db.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = &db.Report{
		ID:         uuid.New(),
		CaseID:     caseID,
		Narrative:  narrative,
		Diagram:    diagram,
		TokensUsed: tokensUsed,
		DurationMs: durationMs,
	}
	return s.report, nil
}

// fakeGenerator returns scripted content per step name, optionally consuming a
// queue of errors first.
type fakeGenerator struct {
	mu        sync.Mutex
	responses map[string]string
	failures  map[string][]error
	calls     []llm.GenerateRequest
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{
		responses: map[string]string{
			"summarize_document":   `{"summary": "a decision about vendors", "key_facts": ["two bids received"]}`,
			"identify_issues":      `{"issues": [{"title": "cost overrun", "description": "bid exceeds budget"}]}`,
			"evaluate_options":     `{"options": [{"name": "accept bid A", "pros": ["cheaper"], "cons": ["slower"]}]}`,
			"assess_risks":         `{"risks": [{"description": "schedule slip", "severity": "medium", "likelihood": "high", "mitigation": "staged delivery"}]}`,
			"draft_recommendation": `{"recommendation": "accept bid A", "rationale": "best cost-risk balance", "confidence": "high"}`,
			"compose_narrative":    `{"narrative": "The committee should accept bid A.", "diagram": "graph TD; A-->B"}`,
		},
		failures: make(map[string][]error),
	}
}

func (g *fakeGenerator) failWith(stepName string, errs ...error) {
	g.failures[stepName] = append(g.failures[stepName], errs...)
}

func (g *fakeGenerator) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if queue := g.failures[req.StepName]; len(queue) > 0 {
		err := queue[0]
		g.failures[req.StepName] = queue[1:]
		return nil, err
	}
	return &llm.GenerateResult{Content: g.responses[req.StepName], Tokens: 100}, nil
}

func (g *fakeGenerator) Close() error { return nil }

func (g *fakeGenerator) callsForStep(stepName string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, call := range g.calls {
		if call.StepName == stepName {
			n++
		}
	}
	return n
}

// -----------------------------------------------------------------------------
// Test setup
// -----------------------------------------------------------------------------

func testPolicy() backoff.Policy {
	return backoff.Policy{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
	}
}

func newTestCase() *db.CaseWithDocuments {
	caseID := uuid.New()
	return &db.CaseWithDocuments{
		Case: db.Case{
			ID:     caseID,
			Title:  "Vendor selection for data platform",
			Status: db.CaseStatusDraft,
		},
		Documents: []db.Document{
			{
				ID:       uuid.New(),
				CaseID:   caseID,
				Filename: "rfp-responses.txt",
				Content:  "Bid A: $120k, 9 months. Bid B: $180k, 6 months.",
			},
		},
	}
}

func newTestOrchestrator(store Store, gen llm.Generator) *Orchestrator {
	return New(store, gen, testPolicy())
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestRunCompletesAllSteps(t *testing.T) {
	store := newFakeStore(newTestCase())
	gen := newFakeGenerator()
	orch := newTestOrchestrator(store, gen)

	result, err := orch.Run(context.Background(), RunOptions{CaseID: store.caseRow.Case.ID})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 6, result.StepsCompleted)
	assert.Equal(t, 0, result.StepsSkipped)
	assert.Equal(t, 0, result.StepsFailed)
	assert.Equal(t, 600, result.TokensUsed)
	assert.Empty(t, result.Error)

	// Terminal state: guard released, case completed, report written.
	assert.Nil(t, store.caseRow.Case.CurrentRunID)
	assert.Equal(t, db.CaseStatusCompleted, store.caseRow.Case.Status)
	require.NotNil(t, store.report)
	assert.Equal(t, "The committee should accept bid A.", store.report.Narrative)
	assert.Equal(t, "graph TD; A-->B", store.report.Diagram)
	assert.Equal(t, 600, store.report.TokensUsed)

	// Event trail: started/completed pair per step, IDs strictly increasing.
	require.Len(t, store.events, 12)
	for i, event := range store.events {
		assert.Equal(t, int64(i+1), event.ID)
		if i%2 == 0 {
			assert.Equal(t, db.EventStepStarted, event.EventType)
		} else {
			assert.Equal(t, db.EventStepCompleted, event.EventType)
		}
	}
}

func TestRunCaseNotFound(t *testing.T) {
	store := newFakeStore(newTestCase())
	orch := newTestOrchestrator(store, newFakeGenerator())

	_, err := orch.Run(context.Background(), RunOptions{CaseID: uuid.New()})
	assert.ErrorIs(t, err, ErrCaseNotFound)
}

func TestRunNoDocuments(t *testing.T) {
	caseRow := newTestCase()
	caseRow.Documents = nil
	store := newFakeStore(caseRow)
	orch := newTestOrchestrator(store, newFakeGenerator())

	_, err := orch.Run(context.Background(), RunOptions{CaseID: caseRow.Case.ID})
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestRunConflictWhenGuardHeld(t *testing.T) {
	caseRow := newTestCase()
	held := uuid.New()
	caseRow.Case.CurrentRunID = &held
	store := newFakeStore(caseRow)
	gen := newFakeGenerator()
	orch := newTestOrchestrator(store, gen)

	_, err := orch.Run(context.Background(), RunOptions{CaseID: caseRow.Case.ID})

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.NotNil(t, conflict.CurrentRunID)
	assert.Equal(t, held, *conflict.CurrentRunID)
	assert.Empty(t, gen.calls)
}

func TestRunHaltsOnFatalStepFailure(t *testing.T) {
	store := newFakeStore(newTestCase())
	gen := newFakeGenerator()
	orch := newTestOrchestrator(store, gen)

	result, err := orch.Run(context.Background(), RunOptions{
		CaseID:   store.caseRow.Case.ID,
		FailStep: 3,
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.FailedAtStep)
	assert.Equal(t, 2, result.StepsCompleted)
	assert.Equal(t, 1, result.StepsFailed)
	assert.Contains(t, result.Error, "injected step failure")

	// No report, case failed, guard released, later steps never touched.
	assert.Nil(t, store.report)
	assert.Equal(t, db.CaseStatusFailed, store.caseRow.Case.Status)
	assert.Nil(t, store.caseRow.Case.CurrentRunID)
	assert.Equal(t, db.StepStatusFailed, store.steps[3].Status)
	assert.NotContains(t, store.steps, 4)

	// Trail ends with the failure event.
	last := store.events[len(store.events)-1]
	assert.Equal(t, db.EventStepFailed, last.EventType)
}

func TestRunResumesAfterFailure(t *testing.T) {
	store := newFakeStore(newTestCase())
	gen := newFakeGenerator()
	orch := newTestOrchestrator(store, gen)
	caseID := store.caseRow.Case.ID

	_, err := orch.Run(context.Background(), RunOptions{CaseID: caseID, FailStep: 3})
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), RunOptions{CaseID: caseID, StartStep: 3})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.StepsSkipped)
	assert.Equal(t, 4, result.StepsCompleted)
	assert.Equal(t, 400, result.TokensUsed)
	require.NotNil(t, store.report)

	// Steps 1 and 2 ran exactly once across both invocations.
	assert.Equal(t, 1, gen.callsForStep("summarize_document"))
	assert.Equal(t, 1, gen.callsForStep("identify_issues"))

	// The re-entered step is flagged as resumed in its started event.
	var started StepStartedPayload
	for _, event := range store.events {
		if event.EventType != db.EventStepStarted {
			continue
		}
		require.NoError(t, json.Unmarshal(event.Payload, &started))
		if started.StepNumber == 3 && started.Resumed {
			return
		}
	}
	t.Fatal("no resumed step_started event for step 3")
}

func TestRunBlocksPastFailedStepBelowStart(t *testing.T) {
	store := newFakeStore(newTestCase())
	gen := newFakeGenerator()
	orch := newTestOrchestrator(store, gen)
	caseID := store.caseRow.Case.ID

	_, err := orch.Run(context.Background(), RunOptions{CaseID: caseID, FailStep: 2})
	require.NoError(t, err)

	// Asking to start at 4 cannot leapfrog the failed step 2.
	result, err := orch.Run(context.Background(), RunOptions{CaseID: caseID, StartStep: 4})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.FailedAtStep)
	assert.Contains(t, result.Error, "previously failed")
	assert.Equal(t, db.CaseStatusFailed, store.caseRow.Case.Status)
	assert.Nil(t, store.caseRow.Case.CurrentRunID)
	assert.Nil(t, store.report)
	assert.Equal(t, 1, gen.callsForStep("summarize_document"))
	assert.Equal(t, 0, gen.callsForStep("evaluate_options"))
}

func TestRunRetriesRateLimitedCalls(t *testing.T) {
	store := newFakeStore(newTestCase())
	gen := newFakeGenerator()
	gen.failWith("identify_issues",
		llm.RateLimited("identify_issues", fmt.Errorf("429")),
		llm.RateLimited("identify_issues", fmt.Errorf("429")),
	)
	orch := newTestOrchestrator(store, gen)

	result, err := orch.Run(context.Background(), RunOptions{CaseID: store.caseRow.Case.ID})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, gen.callsForStep("identify_issues"))
	assert.Equal(t, 2, store.steps[2].RetryCount)

	var completed StepCompletedPayload
	for _, event := range store.events {
		if event.EventType != db.EventStepCompleted {
			continue
		}
		require.NoError(t, json.Unmarshal(event.Payload, &completed))
		if completed.StepNumber == 2 {
			assert.Equal(t, 2, completed.RetryCount)
			return
		}
	}
	t.Fatal("no step_completed event for step 2")
}

func TestRunExhaustsRetryBudget(t *testing.T) {
	store := newFakeStore(newTestCase())
	gen := newFakeGenerator()
	rl := func() error { return llm.RateLimited("summarize_document", fmt.Errorf("429")) }
	gen.failWith("summarize_document", rl(), rl(), rl(), rl(), rl())
	orch := newTestOrchestrator(store, gen)

	result, err := orch.Run(context.Background(), RunOptions{CaseID: store.caseRow.Case.ID})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.FailedAtStep)
	// One initial attempt plus three retries.
	assert.Equal(t, 4, gen.callsForStep("summarize_document"))
	assert.Equal(t, 3, store.steps[1].RetryCount)
	assert.Equal(t, db.StepStatusFailed, store.steps[1].Status)
}

func TestRunDoesNotRetryFatalErrors(t *testing.T) {
	store := newFakeStore(newTestCase())
	gen := newFakeGenerator()
	gen.failWith("summarize_document", llm.Fatal("summarize_document", "safety block", nil))
	orch := newTestOrchestrator(store, gen)

	result, err := orch.Run(context.Background(), RunOptions{CaseID: store.caseRow.Case.ID})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 1, gen.callsForStep("summarize_document"))
	assert.Equal(t, 0, store.steps[1].RetryCount)
}

func TestRunRerunAfterSuccessSkipsEverything(t *testing.T) {
	store := newFakeStore(newTestCase())
	gen := newFakeGenerator()
	orch := newTestOrchestrator(store, gen)
	caseID := store.caseRow.Case.ID

	first, err := orch.Run(context.Background(), RunOptions{CaseID: caseID})
	require.NoError(t, err)
	require.True(t, first.Success)
	reportBefore := *store.report

	second, err := orch.Run(context.Background(), RunOptions{CaseID: caseID})
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.Equal(t, 6, second.StepsSkipped)
	assert.Equal(t, 0, second.StepsCompleted)
	assert.Equal(t, 0, second.TokensUsed)
	assert.Len(t, gen.calls, 6)

	// The no-op rerun must not clobber the report written by the first run.
	assert.Equal(t, reportBefore.TokensUsed, store.report.TokensUsed)
	assert.Equal(t, reportBefore.Narrative, store.report.Narrative)
}

func TestRunFailsOnInvalidJSONPayload(t *testing.T) {
	store := newFakeStore(newTestCase())
	gen := newFakeGenerator()
	gen.responses["summarize_document"] = "this is not json"
	orch := newTestOrchestrator(store, gen)

	result, err := orch.Run(context.Background(), RunOptions{CaseID: store.caseRow.Case.ID})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.FailedAtStep)
	assert.Contains(t, result.Error, "invalid JSON")
	assert.Equal(t, db.StepStatusFailed, store.steps[1].Status)
}

func TestRunRecordsSchemaViolationsAsWarnings(t *testing.T) {
	store := newFakeStore(newTestCase())
	gen := newFakeGenerator()
	gen.responses["summarize_document"] = `{"digest": "missing the required field"}`
	orch := newTestOrchestrator(store, gen)

	result, err := orch.Run(context.Background(), RunOptions{CaseID: store.caseRow.Case.ID})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, db.StepStatusCompleted, store.steps[1].Status)
	assert.NotEmpty(t, store.steps[1].Warnings)
}

func TestRunFeedsPriorPayloadsIntoPrompts(t *testing.T) {
	store := newFakeStore(newTestCase())
	gen := newFakeGenerator()
	orch := newTestOrchestrator(store, gen)

	_, err := orch.Run(context.Background(), RunOptions{CaseID: store.caseRow.Case.ID})
	require.NoError(t, err)

	var issuesPrompt string
	for _, call := range gen.calls {
		if call.StepName == "identify_issues" {
			issuesPrompt = call.Prompt
		}
	}
	assert.Contains(t, issuesPrompt, "a decision about vendors")
	assert.Contains(t, issuesPrompt, "rfp-responses.txt")
}

func TestRunDeliversEventsToCallback(t *testing.T) {
	store := newFakeStore(newTestCase())
	orch := newTestOrchestrator(store, newFakeGenerator())

	var seen []int64
	_, err := orch.Run(context.Background(), RunOptions{
		CaseID: store.caseRow.Case.ID,
		OnEvent: func(event db.CaseEvent) {
			seen = append(seen, event.ID)
		},
	})
	require.NoError(t, err)

	require.Len(t, seen, len(store.events))
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
}

func TestRunRejectsStartStepOutOfRange(t *testing.T) {
	store := newFakeStore(newTestCase())
	orch := newTestOrchestrator(store, newFakeGenerator())

	_, err := orch.Run(context.Background(), RunOptions{
		CaseID:    store.caseRow.Case.ID,
		StartStep: 7,
	})
	assert.Error(t, err)
}
