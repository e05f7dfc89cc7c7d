package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GenerateRequest describes one generation call for a case analysis step
type GenerateRequest struct {
	CaseID   uuid.UUID
	StepName string
	Prompt   string
	Tier     ModelTier
}

// GenerateResult holds generated content plus usage metadata
type GenerateResult struct {
	Content string
	Tokens  int
}

// Generator is the generation capability consumed by the orchestrator.
// Implementations must return *Error so callers can classify failures.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	Close() error
}

// GeminiClient implements Generator against Google Gemini
type GeminiClient struct {
	client *genai.Client
	config *Config
}

// NewGeminiClient creates a new Gemini-backed generator
func NewGeminiClient(ctx context.Context, config *Config, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config == nil {
		config = DefaultConfig()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{client: client, config: config}, nil
}

// Generate runs one generation call and classifies any failure as rate-limited
// or fatal.
func (c *GeminiClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	tier := req.Tier
	if tier == "" {
		tier = TierStandard
	}
	modelName := c.config.GetModel(tier)
	if modelName == "" {
		return nil, Fatal(req.StepName, fmt.Sprintf("no model configured for tier %s", tier), nil)
	}

	model := c.client.GenerativeModel(modelName)
	model.SetTemperature(0.1) // Low temperature for consistent output
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, classify(req.StepName, err)
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return nil, Fatal(req.StepName, "empty response", err)
	}

	return &GenerateResult{
		Content: cleanJSONBlock(text),
		Tokens:  totalTokens(resp),
	}, nil
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// classify maps a provider error to the retryable/fatal taxonomy. Only
// HTTP-429-equivalent responses are retryable.
func classify(op string, err error) *Error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return RateLimited(op, err)
	}
	return Fatal(op, "generation failed", err)
}

// totalTokens reads the usage metadata from a response, defaulting to zero
func totalTokens(resp *genai.GenerateContentResponse) int {
	if resp.UsageMetadata == nil {
		return 0
	}
	return int(resp.UsageMetadata.TotalTokenCount)
}

// extractTextFromResponse extracts text from a Gemini API response
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}

// cleanJSONBlock removes markdown code block wrappers from JSON
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
