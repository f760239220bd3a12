// Package pipeline runs the type-specific stage sequence of a claimed job.
// Stages run strictly in order; the executor checks for cancellation before
// every stage and reports progress after every labelled one.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kiranshivaraju/sitepulse/internal/metrics"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
)

const tracerName = "github.com/kiranshivaraju/sitepulse/internal/pipeline"

// CancelCheck reports whether the job was cancelled since it was claimed.
type CancelCheck func(ctx context.Context) (bool, error)

// ProgressFunc is called after every labelled stage. Step is 1-based and
// Total counts the labelled stages of the pipeline.
type ProgressFunc func(ctx context.Context, p models.Progress) error

// RunContext is what every stage of one run can see.
type RunContext struct {
	Job      *models.Job
	Payload  models.Payload
	Canceled CancelCheck
	Progress ProgressFunc
}

// Stage is one step of a pipeline over the accumulated state S. Run stores
// its artifact in the state.
type Stage[S any] struct {
	Name  string
	Label string
	Kind  error
	Run   func(ctx context.Context, rc *RunContext, state *S) error
}

// Definition describes the pipeline of one job type.
type Definition[S any] struct {
	Type   models.JobType
	Stages []Stage[S]
	Result func(state *S) any
}

type runner func(ctx context.Context, rc *RunContext) (json.RawMessage, error)

// Executor runs the pipeline registered for a job's type.
type Executor struct {
	runners      map[models.JobType]runner
	stageTimeout time.Duration
	tracer       trace.Tracer
}

// NewExecutor creates an executor with no pipelines. Each stage call is
// bounded by stageTimeout when it is positive.
func NewExecutor(stageTimeout time.Duration) *Executor {
	return &Executor{
		runners:      make(map[models.JobType]runner),
		stageTimeout: stageTimeout,
		tracer:       otel.Tracer(tracerName),
	}
}

// Register adds the pipeline for def.Type, replacing any earlier one.
func Register[S any](e *Executor, def Definition[S]) {
	e.runners[def.Type] = func(ctx context.Context, rc *RunContext) (json.RawMessage, error) {
		return runStages(ctx, e, rc, def)
	}
}

// Handles reports whether a pipeline is registered for jobType.
func (e *Executor) Handles(jobType models.JobType) bool {
	_, ok := e.runners[jobType]
	return ok
}

// Run executes the job's pipeline and returns its encoded result.
// A cancelled run returns ErrCancelled; any other failure is a *StageError
// or a Permanent error.
func (e *Executor) Run(ctx context.Context, job *models.Job, canceled CancelCheck, onProgress ProgressFunc) (json.RawMessage, error) {
	run, ok := e.runners[job.Type]
	if !ok {
		return nil, Permanent(fmt.Errorf("%w: %s", ErrUnknownJobType, job.Type))
	}
	payload, err := models.DecodePayload(job.Type, job.Payload)
	if err != nil {
		return nil, Permanent(fmt.Errorf("decoding payload: %w", err))
	}
	if err := payload.Validate(); err != nil {
		return nil, Permanent(fmt.Errorf("invalid payload: %w", err))
	}
	if canceled == nil {
		canceled = func(context.Context) (bool, error) { return false, nil }
	}
	if onProgress == nil {
		onProgress = func(context.Context, models.Progress) error { return nil }
	}

	ctx, span := e.tracer.Start(ctx, "pipeline."+string(job.Type), trace.WithAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.String("job.type", string(job.Type)),
		attribute.Int("job.attempt", job.Attempts+1),
	))
	defer span.End()

	result, err := run(ctx, &RunContext{
		Job:      job,
		Payload:  payload,
		Canceled: canceled,
		Progress: onProgress,
	})
	if err != nil && !errors.Is(err, ErrCancelled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func runStages[S any](ctx context.Context, e *Executor, rc *RunContext, def Definition[S]) (json.RawMessage, error) {
	total := 0
	for _, st := range def.Stages {
		if st.Label != "" {
			total++
		}
	}

	state := new(S)
	step := 0
	for _, st := range def.Stages {
		cancelled, err := rc.Canceled(ctx)
		if err != nil {
			slog.Warn("cancellation check failed, continuing",
				"job_id", rc.Job.ID, "job_type", rc.Job.Type, "stage", st.Name, "error", err)
		}
		if cancelled {
			slog.Info("job cancelled, stopping before stage",
				"job_id", rc.Job.ID, "job_type", rc.Job.Type, "stage", st.Name)
			return nil, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("before %s stage: %w", st.Name, err)
		}

		if err := runStage(ctx, e, rc, st, state); err != nil {
			return nil, err
		}

		if st.Label == "" {
			continue
		}
		step++
		p := models.Progress{Step: step, Total: total, Label: st.Label}
		if err := rc.Progress(ctx, p); err != nil {
			slog.Warn("reporting progress failed",
				"job_id", rc.Job.ID, "job_type", rc.Job.Type, "stage", st.Name, "error", err)
		}
	}

	out, err := json.Marshal(def.Result(state))
	if err != nil {
		return nil, Permanent(fmt.Errorf("encoding result: %w", err))
	}
	return out, nil
}

func runStage[S any](ctx context.Context, e *Executor, rc *RunContext, st Stage[S], state *S) error {
	ctx, span := e.tracer.Start(ctx, "stage."+st.Name, trace.WithAttributes(
		attribute.String("job.id", rc.Job.ID.String()),
		attribute.String("stage", st.Name),
	))
	defer span.End()

	stageCtx, cancel := e.stageContext(ctx)
	defer cancel()

	start := time.Now()
	err := st.Run(stageCtx, rc, state)
	if err != nil && ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %v", ErrStageTimeout, e.stageTimeout, err)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.StageDuration.WithLabelValues(string(rc.Job.Type), st.Name, outcome).Observe(time.Since(start).Seconds())

	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	slog.Error("pipeline stage failed",
		"job_id", rc.Job.ID,
		"job_type", rc.Job.Type,
		"stage", st.Name,
		"attempt", rc.Job.Attempts+1,
		"error", err,
	)
	return &StageError{Stage: st.Name, Kind: st.Kind, Err: classify(err)}
}

func (e *Executor) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.stageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.stageTimeout)
}
