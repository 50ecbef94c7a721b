package emitter

import (
	"context"
	"errors"
	"fmt"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

// Sequencing errors.
var (
	ErrActiveChildren      = errors.New("flow has active children")
	ErrFlowClosed          = errors.New("flow is closed")
	ErrUnknownParent       = errors.New("parent run has not been constructed")
	ErrParentJobMismatch   = errors.New("parent job does not match the registered run")
	ErrParentClosed        = errors.New("parent run is closed")
	ErrDuplicateRun        = errors.New("run id already registered")
	ErrUnknownRun          = errors.New("run id not registered")
	ErrEventTimeRegression = errors.New("event time precedes an event already emitted in this flow")
)

// IncompleteStepError is returned by Flow.Step when the step's COMPLETE could
// not be sent. The step stays open, so its parent cannot complete until Retry
// succeeds or the step is failed or aborted.
type IncompleteStepError struct {
	Step *Flow
	Err  error

	complete lineage.RunEvent
}

func (e *IncompleteStepError) Error() string {
	return fmt.Sprintf("step run %s not completed: %v", e.Step.RunID(), e.Err)
}

func (e *IncompleteStepError) Unwrap() error {
	return e.Err
}

// Retry sends the step's COMPLETE again, with its original event time.
func (e *IncompleteStepError) Retry(ctx context.Context) error {
	if err := e.Step.checkOpen(); err != nil {
		return err
	}

	return e.Step.finish(ctx, &e.complete, StateDone)
}

// IsValidationError reports whether err (or anything it wraps) is a *lineage.ValidationError.
func IsValidationError(err error) bool {
	var verr *lineage.ValidationError

	return errors.As(err, &verr)
}

func validationError(field, value string, err error) error {
	return &lineage.ValidationError{Field: field, Value: value, Err: err}
}
