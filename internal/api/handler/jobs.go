package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/kiranshivaraju/sitepulse/internal/api/middleware"
	"github.com/kiranshivaraju/sitepulse/internal/api/response"
	"github.com/kiranshivaraju/sitepulse/internal/queue"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
)

// JobQueue is the queue surface the job endpoints use.
type JobQueue interface {
	Submit(ctx context.Context, req queue.SubmitRequest) (*models.Job, error)
	Status(ctx context.Context, id uuid.UUID, tenant models.Tenant) (*models.Job, error)
	Retry(ctx context.Context, id uuid.UUID, tenant models.Tenant) (*models.Job, error)
	Cancel(ctx context.Context, id uuid.UUID, tenant models.Tenant) (*models.Job, error)
	Adopt(ctx context.Context, sessionID, userID string) (models.AdoptionResult, error)
}

type submitRequest struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Priority int             `json:"priority"`
}

type jobRef struct {
	JobID  uuid.UUID        `json:"job_id"`
	Status models.JobStatus `json:"status"`
}

type jobStatusResponse struct {
	ID          uuid.UUID        `json:"id"`
	Type        models.JobType   `json:"type"`
	Status      models.JobStatus `json:"status"`
	Progress    models.Progress  `json:"progress"`
	Result      json.RawMessage  `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"max_attempts"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// A tenant that already has an active job of the type gets 409 with the id
// of that job.
func NewSubmitJobHandler(q JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}

		tenant, _ := mw.GetTenant(r)
		job, err := q.Submit(r.Context(), queue.SubmitRequest{
			Type:     models.JobType(strings.TrimSpace(req.Type)),
			Payload:  req.Payload,
			Tenant:   tenant,
			Priority: req.Priority,
		})
		if err != nil {
			writeQueueError(w, r, err)
			return
		}
		response.Accepted(w, jobRef{JobID: job.ID, Status: job.Status})
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(q JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		tenant, _ := mw.GetTenant(r)
		job, err := q.Status(r.Context(), id, tenant)
		if err != nil {
			writeQueueError(w, r, err)
			return
		}
		response.JSON(w, toStatusResponse(job))
	}
}

// NewRetryJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/retry.
func NewRetryJobHandler(q JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		tenant, _ := mw.GetTenant(r)
		job, err := q.Retry(r.Context(), id, tenant)
		if err != nil {
			writeQueueError(w, r, err)
			return
		}
		response.JSON(w, jobRef{JobID: job.ID, Status: job.Status})
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/cancel.
func NewCancelJobHandler(q JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		tenant, _ := mw.GetTenant(r)
		if _, err := q.Cancel(r.Context(), id, tenant); err != nil {
			writeQueueError(w, r, err)
			return
		}
		response.JSON(w, map[string]bool{"cancelled": true})
	}
}

// NewAdoptSessionHandler returns an http.HandlerFunc for
// POST /api/v1/session/adopt. The caller is the user named by the API key;
// the session comes from the X-Session-ID header.
func NewAdoptSessionHandler(q JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := mw.GetTenant(r)
		if !ok || tenant.UserID == "" {
			response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "An API key is required", nil)
			return
		}
		session := strings.TrimSpace(r.Header.Get(mw.SessionHeader))
		if session == "" {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
				mw.SessionHeader+" header is required", nil)
			return
		}

		res, err := q.Adopt(r.Context(), session, tenant.UserID)
		if err != nil {
			writeQueueError(w, r, err)
			return
		}
		response.JSON(w, res)
	}
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "jobID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func toStatusResponse(job *models.Job) jobStatusResponse {
	out := jobStatusResponse{
		ID:          job.ID,
		Type:        job.Type,
		Status:      job.Status,
		Progress:    job.Progress(),
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		CompletedAt: job.CompletedAt,
	}
	if job.Status == models.JobStatusSucceeded && len(job.Result) > 0 {
		out.Result = job.Result
	}
	if job.ErrorMessage != nil && job.Status != models.JobStatusSucceeded {
		out.Error = *job.ErrorMessage
	}
	return out
}

func writeQueueError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *queue.ValidationError
		duplicate  *queue.DuplicateActiveError
		state      *queue.InvalidStateError
	)
	switch {
	case errors.As(err, &validation):
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, validation.Error(),
			map[string]string{"field": validation.Field})
	case errors.As(err, &duplicate):
		response.Error(w, http.StatusConflict, response.CodeDuplicateActive,
			"An active job of this type already exists",
			jobRef{JobID: duplicate.Job.ID, Status: duplicate.Job.Status})
	case errors.Is(err, queue.ErrNotFound):
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "Job not found", nil)
	case errors.As(err, &state):
		response.Error(w, http.StatusBadRequest, response.CodeInvalidState, state.Error(),
			map[string]string{"status": string(state.Status)})
	default:
		slog.Error("job request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, response.CodeInternal,
			"An unexpected error occurred", nil)
	}
}

var _ JobQueue = (*queue.Queue)(nil)
