package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/case-analyzer/internal/config"
	"github.com/jonathan/case-analyzer/internal/db"
	"github.com/jonathan/case-analyzer/internal/llm"
	"github.com/jonathan/case-analyzer/internal/orchestrator"
)

var (
	runCaseID    string
	runStartStep int
	runFailStep  int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the analysis pipeline for a case",
	Long: `Drives a case through the six analysis steps: summarize, identify issues,
evaluate options, assess risks, draft recommendation, compose narrative.
Completed steps are skipped; a previously failed step can be re-entered with
--resume-from.`,
	RunE: runAnalysis,
}

func init() {
	runCmd.Flags().StringVar(&runCaseID, "case", "", "Case UUID to analyze (required)")
	runCmd.Flags().IntVar(&runStartStep, "resume-from", 0, "Resume from this step (re-executes a previously failed step)")
	runCmd.Flags().IntVar(&runFailStep, "fail-step", 0, "Inject a failure at this step (testing)")
	_ = runCmd.MarkFlagRequired("case")
	rootCmd.AddCommand(runCmd)
}

func runAnalysis(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	caseID, err := uuid.Parse(runCaseID)
	if err != nil {
		return fmt.Errorf("invalid case ID: %w", err)
	}

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	client, err := llm.NewGeminiClient(ctx, cfg.LLMConfig(), cfg.GeminiAPIKey)
	if err != nil {
		return fmt.Errorf("failed to create generation client: %w", err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			log.Printf("Error closing generation client: %v", cerr)
		}
	}()

	orch := orchestrator.New(database, client, cfg.BackoffPolicy())

	// The run and the event printer work concurrently: the orchestrator
	// pushes events into a channel as it appends them, and the printer
	// drains the channel so progress appears as it happens.
	events := make(chan db.CaseEvent, 64)
	var result *orchestrator.RunResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(events)
		res, runErr := orch.Run(gctx, orchestrator.RunOptions{
			CaseID:    caseID,
			StartStep: runStartStep,
			FailStep:  runFailStep,
			OnEvent: func(event db.CaseEvent) {
				select {
				case events <- event:
				case <-gctx.Done():
				}
			},
		})
		result = res
		return runErr
	})
	g.Go(func() error {
		for event := range events {
			fmt.Fprintf(os.Stdout, "[%d] %s %s\n", event.ID, event.EventType, string(event.Payload))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	printRunResult(result)
	if !result.Success {
		os.Exit(1)
	}
	return nil
}

func printRunResult(result *orchestrator.RunResult) {
	fmt.Printf("\nRun %s for case %s\n", result.RunID, result.CaseID)
	fmt.Printf("  completed: %d  skipped: %d  failed: %d\n",
		result.StepsCompleted, result.StepsSkipped, result.StepsFailed)
	fmt.Printf("  tokens: %d  duration: %dms\n", result.TokensUsed, result.DurationMs)
	if result.Success {
		fmt.Println("  status: success")
	} else {
		fmt.Printf("  status: failed at step %d (%s)\n", result.FailedAtStep, result.Error)
	}
}
