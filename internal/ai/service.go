package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/sitepulse/pkg/models"
)

const (
	maxPromptText   = 8000
	maxPromptLinks  = 20
	enrichParallel  = 3
	defaultScenario = 3
)

const systemPrompt = "You are a marketing strategist for small businesses. " +
	"Answer with a single JSON object that matches the requested shape exactly."

// Generator turns fetched content and tenant context into the artifacts of
// the website, content and narrative pipelines.
type Generator struct {
	completer     models.Completer
	images        models.ImageGenerator
	timeout       time.Duration
	scenarioCount int
}

// NewGenerator creates a Generator. images may be nil when no pipeline needs
// generated images; EnrichWithImage then fails with ErrNoImageGenerator.
func NewGenerator(completer models.Completer, images models.ImageGenerator, timeout time.Duration, scenarioCount int) *Generator {
	if scenarioCount < 1 {
		scenarioCount = defaultScenario
	}
	return &Generator{
		completer:     completer,
		images:        images,
		timeout:       timeout,
		scenarioCount: scenarioCount,
	}
}

// Analyze derives the structured business attributes of a website.
func (g *Generator) Analyze(ctx context.Context, page *models.PageContent) (models.Analysis, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Website: %s\nTitle: %s\n", page.URL, page.Title)
	for _, key := range []string{"description", "og:site_name", "og:description", "keywords"} {
		if v := page.Metadata[key]; v != "" {
			fmt.Fprintf(&b, "Meta %s: %s\n", key, v)
		}
	}
	links := page.Links
	if len(links) > maxPromptLinks {
		links = links[:maxPromptLinks]
	}
	if len(links) > 0 {
		fmt.Fprintf(&b, "Links: %s\n", strings.Join(links, ", "))
	}
	fmt.Fprintf(&b, "Page text:\n%s\n\n", truncateString(page.Text, maxPromptText))
	b.WriteString(`Describe the business. Return {"business_name", "business_type", "description", ` +
		`"target_audience", "brand_voice", "products": [string], "keywords": [string]}.`)

	var a models.Analysis
	if err := g.completeJSON(ctx, models.TaskAnalyze, b.String(), &a); err != nil {
		return models.Analysis{}, err
	}
	if strings.TrimSpace(a.BusinessName) == "" || strings.TrimSpace(a.BusinessType) == "" {
		return models.Analysis{}, fmt.Errorf("%w: analysis is missing business name or type", ErrInvalidResponse)
	}

	a.BusinessName = truncateString(strings.TrimSpace(a.BusinessName), 200)
	a.BusinessType = truncateString(strings.TrimSpace(a.BusinessType), 200)
	a.Description = truncateString(a.Description, 2000)
	a.TargetAudience = truncateString(a.TargetAudience, 1000)
	a.BrandVoice = truncateString(a.BrandVoice, 500)
	return a, nil
}

// GenerateScenarios derives candidate audience segments from an analysis.
func (g *Generator) GenerateScenarios(ctx context.Context, a models.Analysis) ([]models.Scenario, error) {
	prompt := fmt.Sprintf("%s\n\nPropose exactly %d distinct audience segments this business should target. "+
		`Return {"scenarios": [{"title", "segment", "demographics": {"age_range", "location", "interests"}, `+
		`"search_behavior", "search_queries": [string], "business_value"}]}.`,
		describeAnalysis(a), g.scenarioCount)

	var parsed struct {
		Scenarios []models.Scenario `json:"scenarios"`
	}
	if err := g.completeJSON(ctx, models.TaskScenarios, prompt, &parsed); err != nil {
		return nil, err
	}

	out := make([]models.Scenario, 0, g.scenarioCount)
	for _, s := range parsed.Scenarios {
		if strings.TrimSpace(s.Title) == "" {
			continue
		}
		s.Pitch, s.ImagePrompt, s.ImageURL = "", "", ""
		out = append(out, s)
		if len(out) == g.scenarioCount {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no usable scenarios", ErrInvalidResponse)
	}
	return out, nil
}

// EnrichWithPitch adds a narrative pitch and an image prompt to every scenario.
// The input slice is left untouched.
func (g *Generator) EnrichWithPitch(ctx context.Context, a models.Analysis, scenarios []models.Scenario) ([]models.Scenario, error) {
	out := append([]models.Scenario(nil), scenarios...)
	business := describeAnalysis(a)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(enrichParallel)
	for i := range out {
		eg.Go(func() error {
			s := &out[i]
			prompt := fmt.Sprintf("%s\n\nAudience: %s (%s). %s\n"+
				"Write a two-sentence pitch that speaks to this audience, and a short prompt for an illustrative image. "+
				`Return {"pitch", "image_prompt"}.`,
				business, s.Title, s.Segment, s.SearchBehavior)

			var parsed struct {
				Pitch       string `json:"pitch"`
				ImagePrompt string `json:"image_prompt"`
			}
			if err := g.completeJSON(egCtx, models.TaskPitch, prompt, &parsed); err != nil {
				return fmt.Errorf("pitch for %q: %w", s.Title, err)
			}
			if strings.TrimSpace(parsed.Pitch) == "" {
				return fmt.Errorf("%w: empty pitch for %q", ErrInvalidResponse, s.Title)
			}
			s.Pitch = truncateString(strings.TrimSpace(parsed.Pitch), 2000)
			s.ImagePrompt = strings.TrimSpace(parsed.ImagePrompt)
			if s.ImagePrompt == "" {
				s.ImagePrompt = fmt.Sprintf("%s for %s", a.BusinessType, s.Title)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EnrichWithImage attaches a generated image reference to every scenario.
func (g *Generator) EnrichWithImage(ctx context.Context, scenarios []models.Scenario) ([]models.Scenario, error) {
	if g.images == nil {
		return nil, ErrNoImageGenerator
	}
	out := append([]models.Scenario(nil), scenarios...)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(enrichParallel)
	for i := range out {
		eg.Go(func() error {
			s := &out[i]
			prompt := s.ImagePrompt
			if prompt == "" {
				prompt = s.Title
			}
			callCtx, cancel := g.withTimeout(egCtx)
			defer cancel()

			url, err := g.images.GenerateImage(callCtx, prompt)
			if err != nil {
				return fmt.Errorf("image for %q: %w", s.Title, asTimeout(callCtx, err))
			}
			if strings.TrimSpace(url) == "" {
				return fmt.Errorf("%w: empty image reference for %q", ErrInvalidResponse, s.Title)
			}
			s.ImageURL = strings.TrimSpace(url)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Outline plans a piece of content for a tenant. rec may be nil.
func (g *Generator) Outline(ctx context.Context, rec *models.TenantRecord, p models.ContentGenerationPayload) (models.ContentOutline, error) {
	prompt := fmt.Sprintf("%s\n\nTopic: %s\nKeywords: %s\nTone: %s\n"+
		`Plan an article. Return {"title", "sections": [string]}.`,
		describeRecord(rec), p.Topic, strings.Join(p.Keywords, ", "), orDefault(p.Tone, "friendly"))

	var o models.ContentOutline
	if err := g.completeJSON(ctx, models.TaskOutline, prompt, &o); err != nil {
		return models.ContentOutline{}, err
	}
	if strings.TrimSpace(o.Title) == "" || len(o.Sections) == 0 {
		return models.ContentOutline{}, fmt.Errorf("%w: outline needs a title and sections", ErrInvalidResponse)
	}
	return o, nil
}

// Draft writes the article planned by an outline.
func (g *Generator) Draft(ctx context.Context, rec *models.TenantRecord, p models.ContentGenerationPayload, o models.ContentOutline) (models.ContentGenerationResult, error) {
	prompt := fmt.Sprintf("%s\n\nTitle: %s\nSections:\n- %s\nTone: %s\n"+
		`Write the article in markdown. Return {"body"}.`,
		describeRecord(rec), o.Title, strings.Join(o.Sections, "\n- "), orDefault(p.Tone, "friendly"))

	var parsed struct {
		Body string `json:"body"`
	}
	if err := g.completeJSON(ctx, models.TaskDraft, prompt, &parsed); err != nil {
		return models.ContentGenerationResult{}, err
	}
	if strings.TrimSpace(parsed.Body) == "" {
		return models.ContentGenerationResult{}, fmt.Errorf("%w: empty draft", ErrInvalidResponse)
	}
	return models.ContentGenerationResult{
		Title:    o.Title,
		Sections: o.Sections,
		Body:     parsed.Body,
	}, nil
}

// Narrative writes a brand story for one audience segment.
func (g *Generator) Narrative(ctx context.Context, rec *models.TenantRecord, p models.NarrativeGenerationPayload) (models.NarrativeGenerationResult, error) {
	prompt := fmt.Sprintf("%s\n\nAudience: %s\nGoal: %s\n"+
		`Write a short brand narrative for this audience. Return {"headline", "narrative"}.`,
		describeRecord(rec), p.Audience, orDefault(p.Goal, "build trust"))

	var parsed struct {
		Headline  string `json:"headline"`
		Narrative string `json:"narrative"`
	}
	if err := g.completeJSON(ctx, models.TaskNarrative, prompt, &parsed); err != nil {
		return models.NarrativeGenerationResult{}, err
	}
	if strings.TrimSpace(parsed.Narrative) == "" {
		return models.NarrativeGenerationResult{}, fmt.Errorf("%w: empty narrative", ErrInvalidResponse)
	}
	return models.NarrativeGenerationResult{
		Audience:  p.Audience,
		Headline:  strings.TrimSpace(parsed.Headline),
		Narrative: strings.TrimSpace(parsed.Narrative),
	}, nil
}

func (g *Generator) completeJSON(ctx context.Context, task, prompt string, out any) error {
	callCtx, cancel := g.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	raw, err := g.completer.Complete(callCtx, models.CompletionRequest{
		Task:   task,
		System: systemPrompt,
		Prompt: prompt,
		JSON:   true,
	})
	if err != nil {
		return asTimeout(callCtx, err)
	}
	slog.Debug("completion received",
		"provider", g.completer.Name(),
		"task", task,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return decodeJSON(raw, out)
}

func (g *Generator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func asTimeout(ctx context.Context, err error) error {
	if errors.Is(err, ErrInferenceTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}
	return err
}

// decodeJSON reads the first JSON object out of a model reply, tolerating
// code fences and surrounding prose.
func decodeJSON(raw string, out any) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return fmt.Errorf("%w: no JSON object in reply", ErrInvalidResponse)
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func describeAnalysis(a models.Analysis) string {
	return fmt.Sprintf("Business: %s (%s)\nDescription: %s\nCurrent audience: %s\nBrand voice: %s\nProducts: %s",
		a.BusinessName, a.BusinessType, a.Description, a.TargetAudience, a.BrandVoice, strings.Join(a.Products, ", "))
}

func describeRecord(rec *models.TenantRecord) string {
	if rec == nil {
		return "No business profile is on file; write for a general small business."
	}
	return describeAnalysis(rec.Analysis)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
