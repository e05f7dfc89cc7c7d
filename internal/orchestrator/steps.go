package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/case-analyzer/internal/db"
	"github.com/jonathan/case-analyzer/internal/llm"
)

// StepCount is the fixed number of analysis stages for every case
const StepCount = 6

// StepCategory constants
const (
	StepCategoryIntake    = "intake"
	StepCategoryAnalysis  = "analysis"
	StepCategorySynthesis = "synthesis"
)

// PromptContext carries the inputs a step prompt is built from: the case,
// its documents, and the payloads of all previously completed steps.
type PromptContext struct {
	Case      db.Case
	Documents []db.Document
	Payloads  map[int]json.RawMessage
}

// StepDefinition defines one fixed stage of the analysis pipeline
type StepDefinition struct {
	Number      int
	Name        string
	Category    string
	Tier        llm.ModelTier
	Schema      string
	BuildPrompt func(pc PromptContext) string
}

// Steps is the fixed, ordered registry of the six analysis stages. Step N's
// output informs step N+1's prompt, so execution order is strict.
var Steps = [StepCount]StepDefinition{
	{
		Number:   1,
		Name:     "summarize_document",
		Category: StepCategoryIntake,
		Tier:     llm.TierLite,
		Schema:   schemaSummarizeDocument,
		BuildPrompt: func(pc PromptContext) string {
			var b strings.Builder
			b.WriteString("Summarize the following decision record and its supporting documents.\n")
			b.WriteString("Respond with JSON: {\"summary\": string, \"key_facts\": [string]}.\n\n")
			writeCaseInputs(&b, pc)
			return b.String()
		},
	},
	{
		Number:   2,
		Name:     "identify_issues",
		Category: StepCategoryAnalysis,
		Tier:     llm.TierStandard,
		Schema:   schemaIdentifyIssues,
		BuildPrompt: func(pc PromptContext) string {
			var b strings.Builder
			b.WriteString("Identify the decision issues raised by this case.\n")
			b.WriteString("Respond with JSON: {\"issues\": [{\"title\": string, \"description\": string}]}.\n\n")
			writeCaseInputs(&b, pc)
			writePriorPayload(&b, pc, 1, "Document summary")
			return b.String()
		},
	},
	{
		Number:   3,
		Name:     "evaluate_options",
		Category: StepCategoryAnalysis,
		Tier:     llm.TierStandard,
		Schema:   schemaEvaluateOptions,
		BuildPrompt: func(pc PromptContext) string {
			var b strings.Builder
			b.WriteString("Evaluate the available options for each identified issue.\n")
			b.WriteString("Respond with JSON: {\"options\": [{\"name\": string, \"pros\": [string], \"cons\": [string]}]}.\n\n")
			writeCaseInputs(&b, pc)
			writePriorPayload(&b, pc, 2, "Identified issues")
			return b.String()
		},
	},
	{
		Number:   4,
		Name:     "assess_risks",
		Category: StepCategoryAnalysis,
		Tier:     llm.TierStandard,
		Schema:   schemaAssessRisks,
		BuildPrompt: func(pc PromptContext) string {
			var b strings.Builder
			b.WriteString("Assess the risks of the evaluated options.\n")
			b.WriteString("Respond with JSON: {\"risks\": [{\"description\": string, \"severity\": string, \"likelihood\": string, \"mitigation\": string}]}.\n\n")
			writeCaseInputs(&b, pc)
			writePriorPayload(&b, pc, 3, "Evaluated options")
			return b.String()
		},
	},
	{
		Number:   5,
		Name:     "draft_recommendation",
		Category: StepCategorySynthesis,
		Tier:     llm.TierAdvanced,
		Schema:   schemaDraftRecommendation,
		BuildPrompt: func(pc PromptContext) string {
			var b strings.Builder
			b.WriteString("Draft a recommendation for this decision record.\n")
			b.WriteString("Respond with JSON: {\"recommendation\": string, \"rationale\": string, \"confidence\": string}.\n\n")
			writeCaseInputs(&b, pc)
			writePriorPayload(&b, pc, 3, "Evaluated options")
			writePriorPayload(&b, pc, 4, "Risk assessment")
			return b.String()
		},
	},
	{
		Number:   6,
		Name:     "compose_narrative",
		Category: StepCategorySynthesis,
		Tier:     llm.TierAdvanced,
		Schema:   schemaComposeNarrative,
		BuildPrompt: func(pc PromptContext) string {
			var b strings.Builder
			b.WriteString("Compose the final narrative report for this decision record, plus a mermaid diagram of the decision flow.\n")
			b.WriteString("Respond with JSON: {\"narrative\": string, \"diagram\": string}.\n\n")
			writeCaseInputs(&b, pc)
			writePriorPayload(&b, pc, 2, "Identified issues")
			writePriorPayload(&b, pc, 4, "Risk assessment")
			writePriorPayload(&b, pc, 5, "Recommendation")
			return b.String()
		},
	},
}

// StepByNumber returns the definition for a step number (1-based)
func StepByNumber(n int) (StepDefinition, error) {
	if n < 1 || n > StepCount {
		return StepDefinition{}, fmt.Errorf("step number out of range: %d", n)
	}
	return Steps[n-1], nil
}

func writeCaseInputs(b *strings.Builder, pc PromptContext) {
	fmt.Fprintf(b, "## Case: %s\n\n", pc.Case.Title)
	for _, doc := range pc.Documents {
		fmt.Fprintf(b, "### Document: %s\n%s\n\n", doc.Filename, doc.Content)
	}
}

func writePriorPayload(b *strings.Builder, pc PromptContext, stepNumber int, heading string) {
	payload, ok := pc.Payloads[stepNumber]
	if !ok {
		return
	}
	fmt.Fprintf(b, "## %s\n%s\n\n", heading, string(payload))
}

// Per-step payload schemas (version 1). Payloads are validated against these
// at the boundary before being stored or fed into later prompts.
const (
	schemaSummarizeDocument = `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["summary"],
		"properties": {
			"summary": {"type": "string"},
			"key_facts": {"type": "array", "items": {"type": "string"}}
		}
	}`

	schemaIdentifyIssues = `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["issues"],
		"properties": {
			"issues": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["title"],
					"properties": {
						"title": {"type": "string"},
						"description": {"type": "string"}
					}
				}
			}
		}
	}`

	schemaEvaluateOptions = `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["options"],
		"properties": {
			"options": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["name"],
					"properties": {
						"name": {"type": "string"},
						"pros": {"type": "array", "items": {"type": "string"}},
						"cons": {"type": "array", "items": {"type": "string"}}
					}
				}
			}
		}
	}`

	schemaAssessRisks = `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["risks"],
		"properties": {
			"risks": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["description"],
					"properties": {
						"description": {"type": "string"},
						"severity": {"type": "string"},
						"likelihood": {"type": "string"},
						"mitigation": {"type": "string"}
					}
				}
			}
		}
	}`

	schemaDraftRecommendation = `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["recommendation"],
		"properties": {
			"recommendation": {"type": "string"},
			"rationale": {"type": "string"},
			"confidence": {"type": "string"}
		}
	}`

	schemaComposeNarrative = `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["narrative"],
		"properties": {
			"narrative": {"type": "string"},
			"diagram": {"type": "string"}
		}
	}`
)
