// Package orchestrator drives a case through the fixed six-step analysis
// pipeline with idempotent step bookkeeping, resume after partial failure,
// retry-with-backoff on rate limits, and a per-case run guard.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/case-analyzer/internal/backoff"
	"github.com/jonathan/case-analyzer/internal/db"
	"github.com/jonathan/case-analyzer/internal/llm"
)

// Orchestrator sequences the six analysis steps for a case
type Orchestrator struct {
	store     Store
	generator llm.Generator
	policy    backoff.Policy
	now       func() time.Time
}

// New creates an orchestrator with the given persistence and generation
// capabilities.
func New(store Store, generator llm.Generator, policy backoff.Policy) *Orchestrator {
	return &Orchestrator{
		store:     store,
		generator: generator,
		policy:    policy,
		now:       time.Now,
	}
}

// WithClock overrides the time source; tests use this for deterministic
// durations.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// RunOptions holds the inputs for one orchestrator invocation
type RunOptions struct {
	CaseID uuid.UUID
	// StartStep gates re-execution of previously failed steps: a failed step
	// is re-entered only when its number is >= StartStep. Defaults to 1.
	StartStep int
	// FailStep injects a fatal failure at the given step number. Test hook;
	// zero disables it.
	FailStep int
	// OnEvent is called after each event is appended, in append order.
	// Used by streaming transports; may be nil.
	OnEvent func(event db.CaseEvent)
}

// RunResult summarizes one orchestrator invocation. Token and duration totals
// reflect only steps executed in this invocation, not prior runs.
type RunResult struct {
	Success        bool      `json:"success"`
	CaseID         uuid.UUID `json:"case_id"`
	RunID          uuid.UUID `json:"run_id"`
	FailedAtStep   int       `json:"failed_at_step,omitempty"`
	StepsCompleted int       `json:"steps_completed"`
	StepsSkipped   int       `json:"steps_skipped"`
	StepsFailed    int       `json:"steps_failed"`
	TokensUsed     int       `json:"tokens_used"`
	DurationMs     int       `json:"duration_ms"`
	Error          string    `json:"error,omitempty"`
}

// Event payloads recorded in the case event log
type (
	// StepStartedPayload marks the beginning of a step execution
	StepStartedPayload struct {
		StepNumber int    `json:"step_number"`
		StepName   string `json:"step_name"`
		Resumed    bool   `json:"resumed"`
	}
	// StepCompletedPayload records a successful step with its cost
	StepCompletedPayload struct {
		StepNumber int `json:"step_number"`
		DurationMs int `json:"duration_ms"`
		Tokens     int `json:"tokens"`
		RetryCount int `json:"retry_count"`
	}
	// StepFailedPayload records a terminal step failure
	StepFailedPayload struct {
		StepNumber int    `json:"step_number"`
		Error      string `json:"error"`
		RetryCount int    `json:"retry_count"`
	}
)

// Run executes the pipeline for a case. It returns an error only for
// precondition failures (ErrCaseNotFound, ErrNoDocuments, *ConflictError) and
// internal faults; a run halted by a step failure is a normal result with
// Success=false. The run guard is released and a terminal case status is set
// on every exit path.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if opts.StartStep <= 0 {
		opts.StartStep = 1
	}
	if opts.StartStep > StepCount {
		return nil, fmt.Errorf("start step out of range: %d", opts.StartStep)
	}

	cwd, err := o.store.GetCaseWithDocuments(ctx, opts.CaseID)
	if err != nil {
		return nil, err
	}
	if cwd == nil {
		return nil, ErrCaseNotFound
	}
	if len(cwd.Documents) == 0 {
		return nil, ErrNoDocuments
	}

	runID := uuid.New()
	acquired, currentRunID, err := o.store.AcquireRun(ctx, opts.CaseID, runID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, &ConflictError{CurrentRunID: currentRunID}
	}

	log.Printf("[orchestrator] run %s started for case %s (start step %d)",
		runID, opts.CaseID, opts.StartStep)

	// The guard must never outlive the run: if we exit through an internal
	// error below, mark the case failed and clear the run ID before
	// returning.
	released := false
	defer func() {
		if !released {
			if rerr := o.store.ReleaseRun(ctx, opts.CaseID, db.CaseStatusFailed); rerr != nil {
				log.Printf("[orchestrator] run %s: failed to release guard: %v", runID, rerr)
			}
		}
	}()

	result := &RunResult{CaseID: opts.CaseID, RunID: runID}
	pc := PromptContext{
		Case:      cwd.Case,
		Documents: cwd.Documents,
		Payloads:  make(map[int]json.RawMessage),
	}

	for n := 1; n <= StepCount; n++ {
		def := Steps[n-1]

		row, err := o.store.GetOrCreateStep(ctx, opts.CaseID, n)
		if err != nil {
			return nil, err
		}

		// Idempotency boundary: a completed step is never re-executed.
		if row.Status == db.StepStatusCompleted {
			result.StepsSkipped++
			if len(row.Payload) > 0 {
				pc.Payloads[n] = json.RawMessage(row.Payload)
			}
			continue
		}

		// A failed step is re-enterable only when the run explicitly
		// targets it (or an earlier step). Otherwise the sequence cannot
		// proceed past it.
		if row.Status == db.StepStatusFailed && n < opts.StartStep {
			result.Success = false
			result.FailedAtStep = n
			result.Error = fmt.Sprintf("step %d previously failed; resume from step %d or earlier", n, n)
			if err := o.release(ctx, opts.CaseID, db.CaseStatusFailed, &released); err != nil {
				return nil, err
			}
			return result, nil
		}

		halted, err := o.executeStep(ctx, def, row, opts, &pc, result)
		if err != nil {
			return nil, err
		}
		if halted {
			// Hard halt: no further step numbers are attempted and no
			// report is written.
			if err := o.release(ctx, opts.CaseID, db.CaseStatusFailed, &released); err != nil {
				return nil, err
			}
			log.Printf("[orchestrator] run %s halted at step %d for case %s",
				runID, result.FailedAtStep, opts.CaseID)
			return result, nil
		}
	}

	// Full sequence complete. Synthesize the report only when this run
	// actually executed work, so a no-op rerun does not overwrite the
	// totals of the run that produced the report.
	if result.StepsCompleted > 0 {
		narrative, diagram := synthesizeReport(pc.Payloads)
		if _, err := o.store.UpsertReport(ctx, opts.CaseID, narrative, diagram,
			result.TokensUsed, result.DurationMs); err != nil {
			return nil, err
		}
	}

	if err := o.release(ctx, opts.CaseID, db.CaseStatusCompleted, &released); err != nil {
		return nil, err
	}
	result.Success = true
	log.Printf("[orchestrator] run %s completed for case %s (%d completed, %d skipped, %d tokens)",
		runID, opts.CaseID, result.StepsCompleted, result.StepsSkipped, result.TokensUsed)
	return result, nil
}

// executeStep runs one step through the backoff executor and records the
// outcome. It returns halted=true when the step failed terminally and the run
// must stop.
func (o *Orchestrator) executeStep(ctx context.Context, def StepDefinition, row *db.CaseStep, opts RunOptions, pc *PromptContext, result *RunResult) (halted bool, err error) {
	resumed := row.Status == db.StepStatusFailed
	startedAt := o.now()

	if err := o.store.MarkStepProcessing(ctx, row.ID, startedAt); err != nil {
		return false, err
	}
	if err := o.appendEvent(ctx, opts, db.EventStepStarted, StepStartedPayload{
		StepNumber: def.Number,
		StepName:   def.Name,
		Resumed:    resumed,
	}); err != nil {
		return false, err
	}

	var generated *llm.GenerateResult
	attempts, genErr := backoff.Execute(ctx, o.policy, func() error {
		if opts.FailStep == def.Number {
			return llm.Fatal(def.Name, "injected step failure", nil)
		}
		res, err := o.generator.Generate(ctx, llm.GenerateRequest{
			CaseID:   opts.CaseID,
			StepName: def.Name,
			Prompt:   def.BuildPrompt(*pc),
			Tier:     def.Tier,
		})
		if err != nil {
			return err
		}
		generated = res
		return nil
	})
	retryCount := attempts - 1
	durationMs := int(o.now().Sub(startedAt).Milliseconds())

	var payload json.RawMessage
	var warnings []string
	if genErr == nil {
		payload, warnings, genErr = validatePayload(def, generated.Content)
	}

	if genErr != nil {
		if err := o.store.MarkStepFailed(ctx, row.ID, genErr.Error(), retryCount); err != nil {
			return false, err
		}
		if err := o.appendEvent(ctx, opts, db.EventStepFailed, StepFailedPayload{
			StepNumber: def.Number,
			Error:      genErr.Error(),
			RetryCount: retryCount,
		}); err != nil {
			return false, err
		}
		result.StepsFailed++
		result.FailedAtStep = def.Number
		result.Error = genErr.Error()
		return true, nil
	}

	if err := o.store.MarkStepCompleted(ctx, row.ID, db.StepCompletion{
		Payload:    payload,
		Warnings:   warnings,
		RetryCount: retryCount,
		TokensUsed: generated.Tokens,
		DurationMs: durationMs,
	}); err != nil {
		return false, err
	}
	if err := o.appendEvent(ctx, opts, db.EventStepCompleted, StepCompletedPayload{
		StepNumber: def.Number,
		DurationMs: durationMs,
		Tokens:     generated.Tokens,
		RetryCount: retryCount,
	}); err != nil {
		return false, err
	}

	result.StepsCompleted++
	result.TokensUsed += generated.Tokens
	result.DurationMs += durationMs
	pc.Payloads[def.Number] = payload
	return false, nil
}

func (o *Orchestrator) appendEvent(ctx context.Context, opts RunOptions, eventType string, payload any) error {
	event, err := o.store.AppendEvent(ctx, opts.CaseID, eventType, payload)
	if err != nil {
		return err
	}
	if opts.OnEvent != nil {
		opts.OnEvent(*event)
	}
	return nil
}

func (o *Orchestrator) release(ctx context.Context, caseID uuid.UUID, terminalStatus string, released *bool) error {
	if err := o.store.ReleaseRun(ctx, caseID, terminalStatus); err != nil {
		return err
	}
	*released = true
	return nil
}

// synthesizeReport builds the narrative and diagram from the final synthesis
// step's payload, falling back to the recommendation when the narrative step
// payload cannot be parsed.
func synthesizeReport(payloads map[int]json.RawMessage) (narrative, diagram string) {
	var composed struct {
		Narrative string `json:"narrative"`
		Diagram   string `json:"diagram"`
	}
	if raw, ok := payloads[6]; ok {
		if err := json.Unmarshal(raw, &composed); err == nil && composed.Narrative != "" {
			return composed.Narrative, composed.Diagram
		}
		narrative = string(raw)
	}

	var rec struct {
		Recommendation string `json:"recommendation"`
		Rationale      string `json:"rationale"`
	}
	if raw, ok := payloads[5]; ok && narrative == "" {
		if err := json.Unmarshal(raw, &rec); err == nil && rec.Recommendation != "" {
			narrative = rec.Recommendation
			if rec.Rationale != "" {
				narrative += "\n\n" + rec.Rationale
			}
		}
	}
	return narrative, composed.Diagram
}
