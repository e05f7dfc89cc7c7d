package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var caseCmd = &cobra.Command{
	Use:   "case",
	Short: "Manage cases and their input documents",
}

var (
	createCaseTitle string

	addDocCaseID string
	addDocFile   string

	reportCaseID string
)

var createCaseCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new case",
	RunE:  runCreateCase,
}

var addDocumentCmd = &cobra.Command{
	Use:   "add-document",
	Short: "Attach an input document to a case",
	Long:  `Reads a text file and attaches its content to the case as an input document.`,
	RunE:  runAddDocument,
}

var listCasesCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent cases",
	RunE:  runListCases,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the synthesized report for a case",
	RunE:  runReport,
}

func init() {
	createCaseCmd.Flags().StringVar(&createCaseTitle, "title", "", "Case title (required)")
	_ = createCaseCmd.MarkFlagRequired("title")

	addDocumentCmd.Flags().StringVar(&addDocCaseID, "case", "", "Case UUID (required)")
	addDocumentCmd.Flags().StringVar(&addDocFile, "file", "", "Path to text file (required)")
	_ = addDocumentCmd.MarkFlagRequired("case")
	_ = addDocumentCmd.MarkFlagRequired("file")

	reportCmd.Flags().StringVar(&reportCaseID, "case", "", "Case UUID (required)")
	_ = reportCmd.MarkFlagRequired("case")

	caseCmd.AddCommand(createCaseCmd)
	caseCmd.AddCommand(addDocumentCmd)
	caseCmd.AddCommand(listCasesCmd)
	caseCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(caseCmd)
}

func runCreateCase(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	c, err := database.CreateCase(ctx, createCaseTitle)
	if err != nil {
		return err
	}
	fmt.Printf("Created case %s (%s)\n", c.ID, c.Title)
	return nil
}

func runAddDocument(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	caseID, err := uuid.Parse(addDocCaseID)
	if err != nil {
		return fmt.Errorf("invalid case ID: %w", err)
	}

	content, err := os.ReadFile(addDocFile)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	c, err := database.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("case not found: %s", caseID)
	}

	doc, err := database.CreateDocument(ctx, caseID, filepath.Base(addDocFile), string(content))
	if err != nil {
		return err
	}
	fmt.Printf("Attached document %s (%s, %d bytes)\n", doc.ID, doc.Filename, len(doc.Content))
	return nil
}

func runListCases(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	cases, err := database.ListCases(ctx, 0)
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		fmt.Println("No cases")
		return nil
	}
	for _, c := range cases {
		fmt.Printf("%s  %-10s  %s\n", c.ID, c.Status, c.Title)
	}
	return nil
}

func runReport(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	caseID, err := uuid.Parse(reportCaseID)
	if err != nil {
		return fmt.Errorf("invalid case ID: %w", err)
	}

	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	report, err := database.GetReport(ctx, caseID)
	if err != nil {
		return err
	}
	if report == nil {
		return fmt.Errorf("no report for case %s", caseID)
	}

	fmt.Println(report.Narrative)
	if report.Diagram != "" {
		fmt.Println("\n```mermaid")
		fmt.Println(report.Diagram)
		fmt.Println("```")
	}
	return nil
}
