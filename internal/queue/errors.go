package queue

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/sitepulse/pkg/models"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrDuplicateActive = errors.New("tenant already has an active job of this type")
	ErrNotFound        = errors.New("job not found")
	ErrInvalidState    = errors.New("operation not allowed in the job's current state")
	ErrNotOwned        = errors.New("job is not claimed by this worker")
)

// ValidationError rejects a submission before any job is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// DuplicateActiveError carries the job that blocked admission so callers can
// hand it back instead of failing.
type DuplicateActiveError struct {
	Job *models.Job
}

func (e *DuplicateActiveError) Error() string {
	return fmt.Sprintf("%s: job %s is %s", ErrDuplicateActive, e.Job.ID, e.Job.Status)
}

func (e *DuplicateActiveError) Is(target error) bool { return target == ErrDuplicateActive }

// InvalidStateError reports the status that made a transition illegal.
type InvalidStateError struct {
	Op     string
	Status models.JobStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s a %s job", e.Op, e.Status)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }
