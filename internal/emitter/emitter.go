// Package emitter sequences OpenLineage events for pipeline runs.
//
// An Emitter hands events to a Transport in an order a backend can rebuild the
// job-run tree from: a parent's START before any child event, a parent's
// COMPLETE after every child event. Ordering is enforced by Flow, which tracks
// open children and the timestamp cursor of its subtree, and by the Registry,
// which child parent references are checked against.
//
// Typical use:
//
//	em := emitter.New(t, emitter.WithLogger(logger))
//	flow, err := em.StartFlow(ctx, job, run)
//	err = flow.Step(ctx, emitter.StepSpec{Job: stepJob, Duration: time.Minute})
//	err = flow.Complete(ctx)
package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/correlator-io/openlineage-playground/internal/config"
	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

// Transport delivers one event. Implementations live in the transport package.
type Transport interface {
	Emit(ctx context.Context, event *lineage.RunEvent) error
}

// Emitter builds, validates and transmits events. It is safe to share between
// concurrently running flows; a single Flow is not.
type Emitter struct {
	transport   Transport
	assembler   *Assembler
	validator   *lineage.Validator
	registry    *Registry
	ids         lineage.IDGenerator
	logger      *slog.Logger
	abortEvents bool
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithAssembler replaces the default Assembler (producer, schema URL, clock).
func WithAssembler(a *Assembler) Option {
	return func(e *Emitter) { e.assembler = a }
}

// WithRegistry shares a Registry between emitters.
func WithRegistry(r *Registry) Option {
	return func(e *Emitter) { e.registry = r }
}

// WithIDGenerator replaces UUIDv7 run ids, e.g. with a lineage.SequenceGenerator.
func WithIDGenerator(g lineage.IDGenerator) Option {
	return func(e *Emitter) { e.ids = g }
}

// WithLogger sets the logger. Emitted payloads are logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(e *Emitter) { e.logger = l }
}

// WithAbortEvents makes a flow that fails validation emit ABORT for each run
// still open, innermost first. Without it the flow is only closed locally.
func WithAbortEvents(enabled bool) Option {
	return func(e *Emitter) { e.abortEvents = enabled }
}

// New returns an Emitter writing to t.
func New(t Transport, opts ...Option) *Emitter {
	e := &Emitter{
		transport: t,
		assembler: NewAssembler(),
		validator: lineage.NewValidator(),
		registry:  NewRegistry(),
		ids:       lineage.UUIDv7Generator{},
		logger:    config.DiscardLogger(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Assembler returns the emitter's Assembler.
func (e *Emitter) Assembler() *Assembler {
	return e.assembler
}

// Registry returns the emitter's Registry.
func (e *Emitter) Registry() *Registry {
	return e.registry
}

// Logger returns the emitter's logger.
func (e *Emitter) Logger() *slog.Logger {
	return e.logger
}

// NewRun builds a run with a freshly generated id.
func (e *Emitter) NewRun(facets lineage.Facets) (lineage.Run, error) {
	return lineage.NewRun(e.ids.NewRunID(), facets)
}

// EmitLifecycle emits START and, duration later, COMPLETE for a standalone run.
// Both events are built before anything is sent, so a negative duration emits nothing.
func (e *Emitter) EmitLifecycle(
	ctx context.Context,
	job lineage.Job,
	run lineage.Run,
	inputs []lineage.InputDataset,
	outputs []lineage.OutputDataset,
	startTime time.Time,
	duration time.Duration,
) error {
	start, complete, err := e.assembler.BuildLifecyclePair(job, run, inputs, outputs, startTime, duration)
	if err != nil {
		return err
	}

	flow := &Flow{emitter: e, job: job, run: run, inputs: inputs, outputs: outputs}
	if err := flow.start(ctx, &start); err != nil {
		return err
	}

	return flow.finish(ctx, &complete, StateDone)
}

// StartFlow emits the START of a root run and returns its Flow.
func (e *Emitter) StartFlow(ctx context.Context, job lineage.Job, run lineage.Run, opts ...EventOption) (*Flow, error) {
	o := collectOptions(opts)

	if len(o.runFacets) > 0 {
		run = lineage.Run{ID: run.ID, Facets: mergeFacets(run.Facets, o.runFacets)}
	}

	event, err := e.assembler.BuildEvent(lineage.EventTypeStart, job, run, o.inputs, o.outputs, o.at)
	if err != nil {
		return nil, err
	}

	flow := &Flow{emitter: e, job: job, run: run, inputs: o.inputs, outputs: o.outputs}
	if err := flow.start(ctx, &event); err != nil {
		return nil, err
	}

	return flow, nil
}

// send validates and transmits one event.
func (e *Emitter) send(ctx context.Context, event *lineage.RunEvent) error {
	if err := e.validator.ValidateRunEvent(event); err != nil {
		return validationError("event", event.Run.ID, err)
	}

	if err := e.transport.Emit(ctx, event); err != nil {
		return fmt.Errorf("emit %s for run %s: %w", event.EventType, event.Run.ID, err)
	}

	if e.logger.Enabled(ctx, slog.LevelDebug) {
		attrs := []any{
			slog.String("event_type", string(event.EventType)),
			slog.String("run_id", event.Run.ID),
			slog.String("job_namespace", event.Job.Namespace),
			slog.String("job_name", event.Job.Name),
			slog.Time("event_time", event.EventTime),
		}

		if payload, err := lineage.Marshal(event); err == nil {
			attrs = append(attrs, slog.String("payload", string(payload)))
		}

		e.logger.DebugContext(ctx, "Emitted lineage event", attrs...)
	}

	return nil
}

func mergeFacets(base, extra lineage.Facets) lineage.Facets {
	out := base.Clone()
	if out == nil {
		out = make(lineage.Facets, len(extra))
	}

	for k, v := range extra {
		out[k] = v
	}

	return out
}
