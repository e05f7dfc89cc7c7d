package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/jonathan/case-analyzer/internal/config"
	"github.com/jonathan/case-analyzer/internal/db"
	"github.com/jonathan/case-analyzer/internal/llm"
	"github.com/jonathan/case-analyzer/internal/orchestrator"
	"github.com/jonathan/case-analyzer/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes REST endpoints for managing cases and running the analysis pipeline.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (defaults to CASE_AGENT_ADDR or :8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg := config.FromEnv()
	if cmd.Flags().Changed("addr") {
		cfg.ListenAddr = serveAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

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
	srv := server.New(server.Config{Addr: cfg.ListenAddr}, database, orch)
	return srv.Start()
}
