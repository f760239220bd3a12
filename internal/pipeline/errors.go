package pipeline

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/sitepulse/internal/ai"
	"github.com/kiranshivaraju/sitepulse/internal/fetch"
)

// Stage error kinds. A *StageError matches its kind with errors.Is.
var (
	ErrFetch       = errors.New("fetch failed")
	ErrAnalysis    = errors.New("analysis failed")
	ErrPersistence = errors.New("persistence failed")
)

var (
	ErrCancelled      = errors.New("job cancelled")
	ErrStageTimeout   = errors.New("stage timed out")
	ErrUnknownJobType = errors.New("no pipeline registered for job type")
)

// StageError is the terminal error of a pipeline run.
type StageError struct {
	Stage string
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error { return []error{e.Kind, e.Err} }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable reports whether another attempt of the job could succeed.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrCancelled) {
		return false
	}
	var perm *permanentError
	return !errors.As(err, &perm)
}

// classify marks collaborator errors that repeat on every attempt as permanent.
// Fetch and analysis failures are retryable up to the job's attempt budget,
// except an invalid URL, a non-HTML or oversized page and a provider 4xx
// response: those fail the job on the first attempt.
func classify(err error) error {
	if fetch.IsPermanent(err) || errors.Is(err, ai.ErrRequestRejected) {
		return Permanent(err)
	}
	return err
}
