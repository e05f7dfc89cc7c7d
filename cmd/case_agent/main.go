// Package main provides the entry point for the case analyzer agent.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonathan/case-analyzer/internal/db"
)

var rootCmd = &cobra.Command{
	Use:   "case_agent",
	Short: "Case Analyzer Agent",
	Long:  "Case Analyzer drives decision-record cases through a fixed six-step generative analysis pipeline and exposes the results via CLI and REST API.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openDB connects to the database named by DATABASE_URL
func openDB(ctx context.Context) (*db.DB, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	database, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, nil
}
