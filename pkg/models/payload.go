package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// FieldError describes one invalid or missing payload field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Payload is the typed input of a job. Each job type has exactly one payload variant.
type Payload interface {
	JobType() JobType
	Validate() error
}

// WebsiteAnalysisPayload is the input of a website_analysis job.
type WebsiteAnalysisPayload struct {
	URL string `json:"url"`
}

func (WebsiteAnalysisPayload) JobType() JobType { return JobTypeWebsiteAnalysis }

func (p WebsiteAnalysisPayload) Validate() error {
	if strings.TrimSpace(p.URL) == "" {
		return &FieldError{Field: "url", Message: "is required"}
	}
	if err := ValidateWebsiteURL(p.URL); err != nil {
		return &FieldError{Field: "url", Message: err.Error()}
	}
	return nil
}

// ContentGenerationPayload is the input of a content_generation job.
type ContentGenerationPayload struct {
	Topic    string   `json:"topic"`
	Keywords []string `json:"keywords,omitempty"`
	Tone     string   `json:"tone,omitempty"`
}

func (ContentGenerationPayload) JobType() JobType { return JobTypeContentGeneration }

func (p ContentGenerationPayload) Validate() error {
	if strings.TrimSpace(p.Topic) == "" {
		return &FieldError{Field: "topic", Message: "is required"}
	}
	if len(p.Topic) > 500 {
		return &FieldError{Field: "topic", Message: "must be at most 500 characters"}
	}
	return nil
}

// NarrativeGenerationPayload is the input of a narrative_generation job.
type NarrativeGenerationPayload struct {
	Audience string `json:"audience"`
	Goal     string `json:"goal,omitempty"`
}

func (NarrativeGenerationPayload) JobType() JobType { return JobTypeNarrativeGeneration }

func (p NarrativeGenerationPayload) Validate() error {
	if strings.TrimSpace(p.Audience) == "" {
		return &FieldError{Field: "audience", Message: "is required"}
	}
	return nil
}

// DecodePayload decodes raw JSON into the payload variant of jobType.
// Unknown fields are rejected so typos surface at submission time.
func DecodePayload(jobType JobType, raw json.RawMessage) (Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, &FieldError{Field: "payload", Message: "is required"}
	}

	var p Payload
	switch jobType {
	case JobTypeWebsiteAnalysis:
		var v WebsiteAnalysisPayload
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case JobTypeContentGeneration:
		var v ContentGenerationPayload
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case JobTypeNarrativeGeneration:
		var v NarrativeGenerationPayload
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil, err
		}
		p = v
	default:
		return nil, &FieldError{Field: "type", Message: fmt.Sprintf("unknown job type %q", jobType)}
	}
	return p, nil
}

func strictUnmarshal(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &FieldError{Field: "payload", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return nil
}

// ValidateWebsiteURL accepts absolute http(s) URLs with a host.
func ValidateWebsiteURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must be an absolute http or https URL")
	}
	if u.Hostname() == "" {
		return fmt.Errorf("must include a host")
	}
	return nil
}
