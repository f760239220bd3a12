// Package models contains shared data models used across the sitepulse codebase.
package models

import "context"

// PageContent is what the content fetcher extracts from a website.
type PageContent struct {
	URL      string            `json:"url"`
	Title    string            `json:"title"`
	Text     string            `json:"text"`
	Links    []string          `json:"links"`
	Metadata map[string]string `json:"metadata"`
}

// Analysis holds the structured business attributes derived from a website.
type Analysis struct {
	BusinessName   string   `json:"business_name"`
	BusinessType   string   `json:"business_type"`
	Description    string   `json:"description"`
	TargetAudience string   `json:"target_audience"`
	BrandVoice     string   `json:"brand_voice"`
	Products       []string `json:"products,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
}

// Demographics describes who an audience segment is.
type Demographics struct {
	AgeRange  string `json:"age_range"`
	Location  string `json:"location"`
	Interests string `json:"interests"`
}

// Scenario is one candidate audience segment. Pitch and ImageURL are filled
// in by the enrichment stages.
type Scenario struct {
	Title          string       `json:"title"`
	Segment        string       `json:"segment"`
	Demographics   Demographics `json:"demographics"`
	SearchBehavior string       `json:"search_behavior"`
	SearchQueries  []string     `json:"search_queries,omitempty"`
	BusinessValue  string       `json:"business_value"`
	Pitch          string       `json:"pitch,omitempty"`
	ImagePrompt    string       `json:"image_prompt,omitempty"`
	ImageURL       string       `json:"image_url,omitempty"`
}

// WebsiteAnalysisResult is the final result of a website_analysis job.
type WebsiteAnalysisResult struct {
	URL            string     `json:"url"`
	Title          string     `json:"title"`
	Analysis       Analysis   `json:"analysis"`
	Scenarios      []Scenario `json:"scenarios"`
	TenantRecordID string     `json:"tenant_record_id"`
}

// ContentOutline is the intermediate artifact of a content_generation job.
type ContentOutline struct {
	Title    string   `json:"title"`
	Sections []string `json:"sections"`
}

// ContentGenerationResult is the final result of a content_generation job.
type ContentGenerationResult struct {
	Title    string   `json:"title"`
	Sections []string `json:"sections"`
	Body     string   `json:"body"`
}

// NarrativeGenerationResult is the final result of a narrative_generation job.
type NarrativeGenerationResult struct {
	Audience  string `json:"audience"`
	Headline  string `json:"headline"`
	Narrative string `json:"narrative"`
}

// Task names carried on a CompletionRequest.
const (
	TaskAnalyze   = "analyze"
	TaskScenarios = "scenarios"
	TaskPitch     = "pitch"
	TaskOutline   = "outline"
	TaskDraft     = "draft"
	TaskNarrative = "narrative"
)

// CompletionRequest is one prompt sent to a language model. When JSON is set
// the model is asked for a single JSON object.
type CompletionRequest struct {
	Task      string
	System    string
	Prompt    string
	JSON      bool
	MaxTokens int
}

// Completer is the interface every language model provider must implement.
type Completer interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ImageGenerator turns a prompt into a reference to a generated image.
type ImageGenerator interface {
	Name() string
	GenerateImage(ctx context.Context, prompt string) (string, error)
}
