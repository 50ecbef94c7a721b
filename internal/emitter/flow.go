package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

// FlowState is the sequencing state of one run.
type FlowState int

const (
	StateNotStarted FlowState = iota
	StateParentStarted
	// StateParentCompleted: the COMPLETE event is built and being handed to the transport.
	StateParentCompleted
	StateDone
	StateFailed
	StateAborted
)

func (s FlowState) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateParentStarted:
		return "ParentStarted"
	case StateParentCompleted:
		return "ParentCompleted"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	case StateAborted:
		return "Aborted"
	default:
		return fmt.Sprintf("FlowState(%d)", int(s))
	}
}

// IsClosed reports whether no further event may be emitted for the run.
func (s FlowState) IsClosed() bool {
	return s == StateDone || s == StateFailed || s == StateAborted
}

// EventOption adjusts a single START or COMPLETE.
type EventOption func(*eventOptions)

type eventOptions struct {
	at        time.Time
	inputs    []lineage.InputDataset
	outputs   []lineage.OutputDataset
	runFacets lineage.Facets
	setIO     bool
}

// At sets the event time. It may not precede an event already emitted in the flow.
func At(t time.Time) EventOption {
	return func(o *eventOptions) { o.at = t }
}

// WithInputs sets the run's inputs. On Complete it overrides those given at start.
func WithInputs(inputs ...lineage.InputDataset) EventOption {
	return func(o *eventOptions) {
		o.inputs = inputs
		o.setIO = true
	}
}

// WithOutputs sets the run's outputs. On Complete it overrides those given at start.
func WithOutputs(outputs ...lineage.OutputDataset) EventOption {
	return func(o *eventOptions) {
		o.outputs = outputs
		o.setIO = true
	}
}

// WithRunFacets adds facets to the run being started.
func WithRunFacets(facets lineage.Facets) EventOption {
	return func(o *eventOptions) { o.runFacets = facets }
}

func collectOptions(opts []EventOption) eventOptions {
	var o eventOptions
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// StepSpec describes a child run executed start to finish by Flow.Step.
type StepSpec struct {
	Job     lineage.Job
	Inputs  []lineage.InputDataset
	Outputs []lineage.OutputDataset

	RunFacets lineage.Facets

	// StartTime defaults to the flow cursor (or now, if later).
	StartTime time.Time
	Duration  time.Duration

	// Children runs nested sub-jobs between the step's START and COMPLETE.
	// Returning an error emits FAIL for the step.
	Children func(ctx context.Context, step *Flow) error
}

// Flow is the emission state of one run and its open children. A Flow tree
// must be driven from a single goroutine.
type Flow struct {
	emitter *Emitter
	parent  *Flow
	job     lineage.Job
	run     lineage.Run
	inputs  []lineage.InputDataset
	outputs []lineage.OutputDataset

	state     FlowState
	startedAt time.Time

	// cursor is the latest event time emitted in this flow's subtree.
	cursor time.Time
	open   []*Flow
}

// Job returns the job of the run.
func (f *Flow) Job() lineage.Job {
	return f.job
}

// Run returns the run, including its parent facet for children.
func (f *Flow) Run() lineage.Run {
	return f.run
}

func (f *Flow) RunID() string {
	return f.run.ID
}

func (f *Flow) State() FlowState {
	return f.state
}

// Parent returns nil for a root flow.
func (f *Flow) Parent() *Flow {
	return f.parent
}

func (f *Flow) StartedAt() time.Time {
	return f.startedAt
}

// Cursor returns the latest event time emitted in this flow's subtree.
func (f *Flow) Cursor() time.Time {
	return f.cursor
}

func (f *Flow) OpenChildren() int {
	return len(f.open)
}

// StartChild emits START for a new child run whose parent facet references f.
func (f *Flow) StartChild(ctx context.Context, job lineage.Job, opts ...EventOption) (*Flow, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}

	o := collectOptions(opts)

	run, err := f.childRun(o.runFacets)
	if err != nil {
		return nil, f.abortOnValidation(ctx, err)
	}

	at, err := f.nextTime(o.at)
	if err != nil {
		return nil, f.abortOnValidation(ctx, err)
	}

	event, err := f.emitter.assembler.BuildEvent(lineage.EventTypeStart, job, run, o.inputs, o.outputs, at)
	if err != nil {
		return nil, f.abortOnValidation(ctx, err)
	}

	return f.startChild(ctx, &event)
}

// Step runs a whole child: START, the optional Children callback, COMPLETE.
// COMPLETE is StartTime+Duration, or later if nested children ran past it.
// If COMPLETE cannot be sent the error is an *IncompleteStepError holding the
// open step.
func (f *Flow) Step(ctx context.Context, spec StepSpec) error {
	if err := f.checkOpen(); err != nil {
		return err
	}

	run, err := f.childRun(spec.RunFacets)
	if err != nil {
		return f.abortOnValidation(ctx, err)
	}

	startTime, err := f.nextTime(spec.StartTime)
	if err != nil {
		return f.abortOnValidation(ctx, err)
	}

	start, complete, err := f.emitter.assembler.BuildLifecyclePair(
		spec.Job, run, spec.Inputs, spec.Outputs, startTime, spec.Duration,
	)
	if err != nil {
		return f.abortOnValidation(ctx, err)
	}

	child, err := f.startChild(ctx, &start)
	if err != nil {
		return err
	}

	if spec.Children != nil {
		if err := spec.Children(ctx, child); err != nil {
			if child.state.IsClosed() {
				return err
			}

			return errors.Join(err, child.Fail(ctx, err))
		}
	}

	if child.cursor.After(complete.EventTime) {
		complete.EventTime = child.cursor
	}

	if err := child.finish(ctx, &complete, StateDone); err != nil {
		if child.state.IsClosed() {
			return err
		}

		return &IncompleteStepError{Step: child, Err: err, complete: complete}
	}

	return nil
}

// Complete emits COMPLETE for f. Every child must be closed first.
func (f *Flow) Complete(ctx context.Context, opts ...EventOption) error {
	if err := f.checkOpen(); err != nil {
		return err
	}

	o := collectOptions(opts)

	at, err := f.nextTime(o.at)
	if err != nil {
		return f.abortOnValidation(ctx, err)
	}

	inputs, outputs := f.inputs, f.outputs
	if o.setIO {
		inputs, outputs = o.inputs, o.outputs
	}

	event, err := f.emitter.assembler.BuildEvent(lineage.EventTypeComplete, f.job, f.run, inputs, outputs, at)
	if err != nil {
		return f.abortOnValidation(ctx, err)
	}

	return f.finish(ctx, &event, StateDone)
}

// Fail emits FAIL for f with an errorMessage facet describing cause. Open
// children are closed first, with ABORT events if the emitter emits them.
func (f *Flow) Fail(ctx context.Context, cause error) error {
	if err := f.checkOpen(); err != nil {
		return err
	}

	message := "unknown failure"
	if cause != nil {
		message = cause.Error()
	}

	errs := f.closeChildren(ctx, f.emitter.abortEvents, message)

	return errors.Join(append(errs, f.terminate(ctx, lineage.EventTypeFail, message, StateFailed))...)
}

// Abort emits ABORT for every open descendant, innermost first, then for f.
func (f *Flow) Abort(ctx context.Context, reason string) error {
	if err := f.checkOpen(); err != nil {
		return err
	}

	errs := f.closeChildren(ctx, true, reason)

	return errors.Join(append(errs, f.terminate(ctx, lineage.EventTypeAbort, reason, StateAborted))...)
}

func (f *Flow) checkOpen() error {
	if f.state != StateParentStarted {
		return fmt.Errorf("%w: run %s is %s", ErrFlowClosed, f.run.ID, f.state)
	}

	return nil
}

func (f *Flow) childRun(facets lineage.Facets) (lineage.Run, error) {
	if err := f.emitter.registry.CheckParent(f.run.ID, f.job.Namespace, f.job.Name); err != nil {
		return lineage.Run{}, validationError("parent.run.runId", f.run.ID, err)
	}

	run, err := f.emitter.NewRun(facets)
	if err != nil {
		return lineage.Run{}, err
	}

	run, err = AttachParent(run, f.run.ID, f.job.Namespace, f.job.Name)
	if err != nil {
		return lineage.Run{}, err
	}

	parent, _ := lineage.FacetAs[lineage.ParentRunFacet](run.Facets, lineage.FacetParent)
	parent.Root = f.rootRef()
	run.Facets[lineage.FacetParent] = parent

	return run, nil
}

// rootRef points at the top of f's hierarchy. A root flow started with a
// parent facet of its own defers to that facet's root.
func (f *Flow) rootRef() *lineage.ParentRoot {
	top := f
	for top.parent != nil {
		top = top.parent
	}

	if parent, ok := lineage.FacetAs[lineage.ParentRunFacet](top.run.Facets, lineage.FacetParent); ok {
		if parent.Root != nil {
			root := *parent.Root

			return &root
		}

		return &lineage.ParentRoot{Run: parent.Run, Job: parent.Job}
	}

	return &lineage.ParentRoot{
		Run: lineage.ParentRun{RunID: top.run.ID},
		Job: lineage.ParentJob{Namespace: top.job.Namespace, Name: top.job.Name},
	}
}

// nextTime returns the time of the next event: explicit if given, otherwise
// the later of now and the cursor.
func (f *Flow) nextTime(explicit time.Time) (time.Time, error) {
	if explicit.IsZero() {
		now := f.emitter.assembler.now()
		if now.Before(f.cursor) {
			return f.cursor, nil
		}

		return now, nil
	}

	if explicit.Before(f.cursor) {
		return time.Time{}, validationError("eventTime", explicit.Format(lineage.TimeFormat), ErrEventTimeRegression)
	}

	return explicit, nil
}

func (f *Flow) startChild(ctx context.Context, event *lineage.RunEvent) (*Flow, error) {
	child := &Flow{
		emitter: f.emitter,
		parent:  f,
		job:     event.Job,
		run:     event.Run,
		inputs:  event.Inputs,
		outputs: event.Outputs,
	}

	if err := child.start(ctx, event); err != nil {
		if IsValidationError(err) {
			return nil, f.abortOnValidation(ctx, err)
		}

		return nil, err
	}

	f.open = append(f.open, child)

	return child, nil
}

// start reserves the run, sends START and opens the flow.
func (f *Flow) start(ctx context.Context, event *lineage.RunEvent) error {
	var parentID string
	if f.parent != nil {
		parentID = f.parent.run.ID
	}

	if err := f.emitter.registry.Reserve(f.run.ID, f.job, parentID); err != nil {
		return validationError("run.runId", f.run.ID, err)
	}

	if err := f.emitter.send(ctx, event); err != nil {
		f.emitter.registry.Release(f.run.ID)

		return err
	}

	f.emitter.registry.Record(f.run.ID, event.EventType)
	f.state = StateParentStarted
	f.startedAt = event.EventTime
	f.advance(event.EventTime)

	return nil
}

// finish sends a terminal event for f and closes it.
func (f *Flow) finish(ctx context.Context, event *lineage.RunEvent, final FlowState) error {
	if len(f.open) > 0 {
		return fmt.Errorf("%w: run %s has %d open", ErrActiveChildren, f.run.ID, len(f.open))
	}

	if event.EventTime.Before(f.cursor) {
		return f.abortOnValidation(ctx,
			validationError("eventTime", event.EventTime.Format(lineage.TimeFormat), ErrEventTimeRegression))
	}

	if err := f.emitter.registry.CanTransition(f.run.ID, event.EventType); err != nil {
		return f.abortOnValidation(ctx, validationError("eventType", string(event.EventType), err))
	}

	f.state = StateParentCompleted

	if err := f.emitter.send(ctx, event); err != nil {
		f.state = StateParentStarted

		if IsValidationError(err) {
			return f.abortOnValidation(ctx, err)
		}

		return err
	}

	f.emitter.registry.Record(f.run.ID, event.EventType)
	f.close(final)
	f.advance(event.EventTime)

	return nil
}

// terminate emits FAIL or ABORT for f with an errorMessage facet.
func (f *Flow) terminate(ctx context.Context, eventType lineage.EventType, message string, final FlowState) error {
	at, _ := f.nextTime(time.Time{})
	run := lineage.Run{
		ID: f.run.ID,
		Facets: f.run.Facets.With(lineage.FacetErrorMessage, lineage.ErrorMessageRunFacet{
			Message:             message,
			ProgrammingLanguage: "go",
		}),
	}

	event, err := f.emitter.assembler.BuildEvent(eventType, f.job, run, f.inputs, f.outputs, at)
	if err != nil {
		f.closeLocally(final)

		return err
	}

	if err := f.emitter.send(ctx, &event); err != nil {
		f.closeLocally(final)

		return err
	}

	f.emitter.registry.Record(f.run.ID, eventType)
	f.close(final)
	f.advance(event.EventTime)

	return nil
}

// closeChildren closes every open descendant, innermost and most recent first.
func (f *Flow) closeChildren(ctx context.Context, emitAbort bool, reason string) []error {
	var errs []error

	for _, child := range slices.Backward(slices.Clone(f.open)) {
		errs = append(errs, child.closeChildren(ctx, emitAbort, reason)...)

		if emitAbort {
			if err := child.terminate(ctx, lineage.EventTypeAbort, reason, StateAborted); err != nil {
				errs = append(errs, err)
			}

			continue
		}

		child.closeLocally(StateAborted)
	}

	return errs
}

// abortOnValidation closes the whole flow tree after a construction failure.
// Nothing is completed; ABORT events are sent only if the emitter is
// configured to send them.
func (f *Flow) abortOnValidation(ctx context.Context, cause error) error {
	root := f
	for root.parent != nil && !root.parent.state.IsClosed() {
		root = root.parent
	}

	if root.state.IsClosed() {
		return cause
	}

	f.emitter.logger.WarnContext(ctx, "Aborting lineage flow after validation failure",
		slog.String("run_id", root.run.ID),
		slog.String("job_name", root.job.Name),
		slog.Bool("abort_events", f.emitter.abortEvents),
		slog.String("reason", cause.Error()),
	)

	errs := []error{cause}
	errs = append(errs, root.closeChildren(ctx, f.emitter.abortEvents, cause.Error())...)

	if f.emitter.abortEvents {
		if err := root.terminate(ctx, lineage.EventTypeAbort, cause.Error(), StateAborted); err != nil {
			errs = append(errs, err)
		}
	} else {
		root.closeLocally(StateAborted)
	}

	if len(errs) == 1 {
		return cause
	}

	return errors.Join(errs...)
}

func (f *Flow) close(final FlowState) {
	f.state = final

	if f.parent != nil {
		f.parent.open = slices.DeleteFunc(f.parent.open, func(c *Flow) bool { return c == f })
	}
}

func (f *Flow) closeLocally(final FlowState) {
	f.emitter.registry.Close(f.run.ID)
	f.close(final)
}

// advance moves the cursor of f and its ancestors to t.
func (f *Flow) advance(t time.Time) {
	for n := f; n != nil; n = n.parent {
		if t.After(n.cursor) {
			n.cursor = t
		}
	}
}
