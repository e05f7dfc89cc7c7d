// Package llm provides the generation client abstraction used by the case
// analysis pipeline, with a Gemini-backed implementation.
package llm

// ModelTier represents the complexity/capability level of a model
type ModelTier string

const (
	// TierLite is for simple tasks: summarization, extraction
	TierLite ModelTier = "lite"
	// TierStandard is for moderate reasoning: structured analysis output
	TierStandard ModelTier = "standard"
	// TierAdvanced is for complex reasoning: recommendations, narrative drafting
	TierAdvanced ModelTier = "advanced"
)

// Config holds the model configuration for the generation client
type Config struct {
	Models map[ModelTier]string
}

// DefaultConfig returns the default Gemini model mapping
func DefaultConfig() *Config {
	return &Config{
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
	}
}

// GetModel returns the model name for a given tier, falling back through
// standard then lite when the tier is not configured.
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	if model, ok := c.Models[TierLite]; ok {
		return model
	}
	return ""
}
