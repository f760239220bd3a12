package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/sitepulse/internal/store"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
)

// Progress labels. Clients match on these strings.
const (
	LabelAnalyzing = "Analyzing website"
	LabelAudiences = "Generating audiences"
	LabelPitches   = "Generating pitches"
	LabelImages    = "Generating images"
	LabelOutlining = "Outlining"
	LabelDrafting  = "Drafting"
	LabelNarrative = "Writing narrative"
)

// Fetcher retrieves website content.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*models.PageContent, error)
}

// Generator is the language model collaborator.
type Generator interface {
	Analyze(ctx context.Context, page *models.PageContent) (models.Analysis, error)
	GenerateScenarios(ctx context.Context, a models.Analysis) ([]models.Scenario, error)
	EnrichWithPitch(ctx context.Context, a models.Analysis, scenarios []models.Scenario) ([]models.Scenario, error)
	EnrichWithImage(ctx context.Context, scenarios []models.Scenario) ([]models.Scenario, error)
	Outline(ctx context.Context, rec *models.TenantRecord, p models.ContentGenerationPayload) (models.ContentOutline, error)
	Draft(ctx context.Context, rec *models.TenantRecord, p models.ContentGenerationPayload, o models.ContentOutline) (models.ContentGenerationResult, error)
	Narrative(ctx context.Context, rec *models.TenantRecord, p models.NarrativeGenerationPayload) (models.NarrativeGenerationResult, error)
}

// RecordStore persists the per-tenant business profile.
type RecordStore interface {
	UpsertTenantRecord(ctx context.Context, rec *models.TenantRecord) (*models.TenantRecord, error)
	GetTenantRecord(ctx context.Context, tenant models.Tenant) (*models.TenantRecord, error)
}

// Collaborators are the services the built-in pipelines call.
type Collaborators struct {
	Fetcher   Fetcher
	Generator Generator
	Records   RecordStore
}

// NewDefaultExecutor returns an executor with every built-in pipeline registered.
func NewDefaultExecutor(c Collaborators, stageTimeout time.Duration) *Executor {
	e := NewExecutor(stageTimeout)
	Register(e, WebsiteAnalysis(c))
	Register(e, ContentGeneration(c))
	Register(e, NarrativeGeneration(c))
	return e
}

type websiteState struct {
	page      *models.PageContent
	analysis  models.Analysis
	record    *models.TenantRecord
	scenarios []models.Scenario
}

// WebsiteAnalysis fetches a site, profiles the business behind it and proposes
// audience scenarios with a pitch and an image each. The tenant record is
// upserted right after analysis, so a later failure or cancellation leaves
// it in place.
func WebsiteAnalysis(c Collaborators) Definition[websiteState] {
	return Definition[websiteState]{
		Type: models.JobTypeWebsiteAnalysis,
		Stages: []Stage[websiteState]{
			{
				Name: "fetch",
				Kind: ErrFetch,
				Run: func(ctx context.Context, rc *RunContext, s *websiteState) error {
					p := rc.Payload.(models.WebsiteAnalysisPayload)
					page, err := c.Fetcher.Fetch(ctx, p.URL)
					if err != nil {
						return err
					}
					s.page = page
					return nil
				},
			},
			{
				Name:  "analyze",
				Label: LabelAnalyzing,
				Kind:  ErrAnalysis,
				Run: func(ctx context.Context, _ *RunContext, s *websiteState) error {
					a, err := c.Generator.Analyze(ctx, s.page)
					if err != nil {
						return err
					}
					s.analysis = a
					return nil
				},
			},
			{
				Name: "persist",
				Kind: ErrPersistence,
				Run: func(ctx context.Context, rc *RunContext, s *websiteState) error {
					now := time.Now().UTC()
					rec, err := c.Records.UpsertTenantRecord(ctx, &models.TenantRecord{
						ID:             uuid.New(),
						Tenant:         rc.Job.Tenant,
						WebsiteURL:     s.page.URL,
						BusinessName:   s.analysis.BusinessName,
						BusinessType:   s.analysis.BusinessType,
						TargetAudience: s.analysis.TargetAudience,
						BrandVoice:     s.analysis.BrandVoice,
						Analysis:       s.analysis,
						CreatedAt:      now,
						UpdatedAt:      now,
					})
					if err != nil {
						return err
					}
					s.record = rec
					return nil
				},
			},
			{
				Name:  "scenarios",
				Label: LabelAudiences,
				Kind:  ErrAnalysis,
				Run: func(ctx context.Context, _ *RunContext, s *websiteState) error {
					sc, err := c.Generator.GenerateScenarios(ctx, s.analysis)
					if err != nil {
						return err
					}
					s.scenarios = sc
					return nil
				},
			},
			{
				Name:  "pitches",
				Label: LabelPitches,
				Kind:  ErrAnalysis,
				Run: func(ctx context.Context, _ *RunContext, s *websiteState) error {
					sc, err := c.Generator.EnrichWithPitch(ctx, s.analysis, s.scenarios)
					if err != nil {
						return err
					}
					s.scenarios = sc
					return nil
				},
			},
			{
				Name:  "images",
				Label: LabelImages,
				Kind:  ErrAnalysis,
				Run: func(ctx context.Context, _ *RunContext, s *websiteState) error {
					sc, err := c.Generator.EnrichWithImage(ctx, s.scenarios)
					if err != nil {
						return err
					}
					s.scenarios = sc
					return nil
				},
			},
		},
		Result: func(s *websiteState) any {
			return models.WebsiteAnalysisResult{
				URL:            s.page.URL,
				Title:          s.page.Title,
				Analysis:       s.analysis,
				Scenarios:      s.scenarios,
				TenantRecordID: s.record.ID.String(),
			}
		},
	}
}

type contentState struct {
	record  *models.TenantRecord
	outline models.ContentOutline
	result  models.ContentGenerationResult
}

// ContentGeneration drafts an article in the tenant's brand voice.
func ContentGeneration(c Collaborators) Definition[contentState] {
	return Definition[contentState]{
		Type: models.JobTypeContentGeneration,
		Stages: []Stage[contentState]{
			{
				Name: "load_record",
				Kind: ErrPersistence,
				Run: func(ctx context.Context, rc *RunContext, s *contentState) error {
					rec, err := loadRecord(ctx, c.Records, rc.Job.Tenant)
					s.record = rec
					return err
				},
			},
			{
				Name:  "outline",
				Label: LabelOutlining,
				Kind:  ErrAnalysis,
				Run: func(ctx context.Context, rc *RunContext, s *contentState) error {
					o, err := c.Generator.Outline(ctx, s.record, rc.Payload.(models.ContentGenerationPayload))
					if err != nil {
						return err
					}
					s.outline = o
					return nil
				},
			},
			{
				Name:  "draft",
				Label: LabelDrafting,
				Kind:  ErrAnalysis,
				Run: func(ctx context.Context, rc *RunContext, s *contentState) error {
					d, err := c.Generator.Draft(ctx, s.record, rc.Payload.(models.ContentGenerationPayload), s.outline)
					if err != nil {
						return err
					}
					s.result = d
					return nil
				},
			},
		},
		Result: func(s *contentState) any { return s.result },
	}
}

type narrativeState struct {
	record *models.TenantRecord
	result models.NarrativeGenerationResult
}

// NarrativeGeneration writes a brand story for one audience segment.
func NarrativeGeneration(c Collaborators) Definition[narrativeState] {
	return Definition[narrativeState]{
		Type: models.JobTypeNarrativeGeneration,
		Stages: []Stage[narrativeState]{
			{
				Name: "load_record",
				Kind: ErrPersistence,
				Run: func(ctx context.Context, rc *RunContext, s *narrativeState) error {
					rec, err := loadRecord(ctx, c.Records, rc.Job.Tenant)
					s.record = rec
					return err
				},
			},
			{
				Name:  "narrative",
				Label: LabelNarrative,
				Kind:  ErrAnalysis,
				Run: func(ctx context.Context, rc *RunContext, s *narrativeState) error {
					n, err := c.Generator.Narrative(ctx, s.record, rc.Payload.(models.NarrativeGenerationPayload))
					if err != nil {
						return err
					}
					s.result = n
					return nil
				},
			},
		},
		Result: func(s *narrativeState) any { return s.result },
	}
}

// loadRecord returns the tenant's profile, or nil when none was saved yet.
func loadRecord(ctx context.Context, records RecordStore, tenant models.Tenant) (*models.TenantRecord, error) {
	rec, err := records.GetTenantRecord(ctx, tenant)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading tenant record: %w", err)
	}
	return rec, nil
}
