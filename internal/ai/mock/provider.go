package mock

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/kiranshivaraju/sitepulse/internal/ai/llmhttp"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
)

// MockProvider satisfies models.Completer and models.ImageGenerator for
// testing and for running the worker without a model backend.
type MockProvider struct {
	Name_        string
	CompleteFunc func(ctx context.Context, req models.CompletionRequest) (string, error)
	ImageFunc    func(ctx context.Context, prompt string) (string, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return "", nil
}

func (m *MockProvider) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if m.ImageFunc != nil {
		return m.ImageFunc(ctx, prompt)
	}
	return "", nil
}

// Canned completions keyed by task.
const (
	AnalysisJSON = `{"business_name":"Mock Bakery","business_type":"bakery",` +
		`"description":"Neighbourhood bakery selling sourdough and pastries.",` +
		`"target_audience":"local families","brand_voice":"warm",` +
		`"products":["sourdough","croissants"],"keywords":["bread","bakery"]}`

	ScenariosJSON = `{"scenarios":[` +
		`{"title":"Weekend brunch hosts","segment":"home entertainers",` +
		`"demographics":{"age_range":"30-45","location":"nearby suburbs","interests":"cooking, hosting"},` +
		`"search_behavior":"searches for pastries to pre-order","search_queries":["croissants near me"],` +
		`"business_value":"large repeat orders"},` +
		`{"title":"Morning commuters","segment":"office workers",` +
		`"demographics":{"age_range":"22-40","location":"city centre","interests":"coffee"},` +
		`"search_behavior":"mobile searches on the way to work","search_queries":["bakery open early"],` +
		`"business_value":"daily visits"},` +
		`{"title":"Health-conscious shoppers","segment":"wellness",` +
		`"demographics":{"age_range":"25-60","location":"region","interests":"nutrition"},` +
		`"search_behavior":"compares ingredients","search_queries":["real sourdough bread"],` +
		`"business_value":"premium loaves"}]}`

	PitchJSON = `{"pitch":"Start your day with bread baked a few streets away.",` +
		`"image_prompt":"warm bakery counter at sunrise"}`

	OutlineJSON = `{"title":"Why sourdough takes time","sections":["The starter","The long rise","Baking"]}`

	DraftJSON = `{"body":"Good bread is slow bread."}`

	NarrativeJSON = `{"headline":"Baked for your mornings","narrative":"Every loaf starts before sunrise."}`
)

// NewMockProvider returns a MockProvider with sensible default responses.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		CompleteFunc: func(_ context.Context, req models.CompletionRequest) (string, error) {
			switch req.Task {
			case models.TaskAnalyze:
				return AnalysisJSON, nil
			case models.TaskScenarios:
				return ScenariosJSON, nil
			case models.TaskPitch:
				return PitchJSON, nil
			case models.TaskOutline:
				return OutlineJSON, nil
			case models.TaskDraft:
				return DraftJSON, nil
			case models.TaskNarrative:
				return NarrativeJSON, nil
			default:
				return "Mock completion", nil
			}
		},
		ImageFunc: func(_ context.Context, prompt string) (string, error) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(prompt))
			return fmt.Sprintf("https://images.sitepulse.test/mock/%08x.png", h.Sum32()), nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		CompleteFunc: func(_ context.Context, _ models.CompletionRequest) (string, error) {
			return "", err
		},
		ImageFunc: func(_ context.Context, _ string) (string, error) {
			return "", err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		CompleteFunc: func(ctx context.Context, _ models.CompletionRequest) (string, error) {
			<-ctx.Done()
			return "", llmhttp.ErrTimeout
		},
		ImageFunc: func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", llmhttp.ErrTimeout
		},
	}
}

// Compile-time check that MockProvider implements both provider interfaces.
var (
	_ models.Completer      = (*MockProvider)(nil)
	_ models.ImageGenerator = (*MockProvider)(nil)
)
