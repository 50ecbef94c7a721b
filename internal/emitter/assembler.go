package emitter

import (
	"fmt"
	"slices"
	"time"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

const (
	// DefaultProducer identifies this module as the emitting integration.
	DefaultProducer = "https://github.com/correlator-io/openlineage-playground"

	// DefaultSchemaURL is the OpenLineage spec version the events follow.
	DefaultSchemaURL = "https://openlineage.io/spec/2-0-2/OpenLineage.json#/$defs/RunEvent"
)

// Assembler turns a job, a run and dataset lists into RunEvents. It performs
// no I/O.
type Assembler struct {
	Producer  string
	SchemaURL string

	// Now is the clock used when no event time is given. Defaults to UTC wall time.
	Now func() time.Time
}

// NewAssembler returns an Assembler with the default producer, schema URL and clock.
func NewAssembler() *Assembler {
	return &Assembler{
		Producer:  DefaultProducer,
		SchemaURL: DefaultSchemaURL,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// CurrentTime reads the assembler's clock.
func (a *Assembler) CurrentTime() time.Time {
	return a.now()
}

func (a *Assembler) now() time.Time {
	if a.Now == nil {
		return time.Now().UTC()
	}

	return a.Now()
}

// BuildLifecyclePair returns the START and COMPLETE events of one run.
//
// A zero startTime means now. COMPLETE happens duration after START; both
// events carry the same job, run and datasets. A negative duration fails with
// *lineage.ValidationError and no event is built.
func (a *Assembler) BuildLifecyclePair(
	job lineage.Job,
	run lineage.Run,
	inputs []lineage.InputDataset,
	outputs []lineage.OutputDataset,
	startTime time.Time,
	duration time.Duration,
) (start, complete lineage.RunEvent, err error) {
	if duration < 0 {
		return start, complete, validationError("duration", duration.String(), lineage.ErrNegativeDuration)
	}

	if startTime.IsZero() {
		startTime = a.now()
	}

	start, err = a.BuildEvent(lineage.EventTypeStart, job, run, inputs, outputs, startTime)
	if err != nil {
		return lineage.RunEvent{}, lineage.RunEvent{}, err
	}

	complete = start
	complete.EventType = lineage.EventTypeComplete
	complete.EventTime = startTime.Add(duration)
	complete.Inputs = slices.Clone(start.Inputs)
	complete.Outputs = slices.Clone(start.Outputs)

	return start, complete, nil
}

// BuildEvent builds a single event of any type. A zero at means now.
func (a *Assembler) BuildEvent(
	eventType lineage.EventType,
	job lineage.Job,
	run lineage.Run,
	inputs []lineage.InputDataset,
	outputs []lineage.OutputDataset,
	at time.Time,
) (lineage.RunEvent, error) {
	if !eventType.IsValid() {
		return lineage.RunEvent{}, validationError("eventType", string(eventType), lineage.ErrInvalidEventType)
	}

	if err := job.Validate(); err != nil {
		return lineage.RunEvent{}, err
	}

	if err := run.Validate(); err != nil {
		return lineage.RunEvent{}, err
	}

	for i := range inputs {
		if err := inputs[i].Validate(); err != nil {
			return lineage.RunEvent{}, fmt.Errorf("inputs[%d]: %w", i, err)
		}
	}

	for i := range outputs {
		if err := outputs[i].Validate(); err != nil {
			return lineage.RunEvent{}, fmt.Errorf("outputs[%d]: %w", i, err)
		}
	}

	if at.IsZero() {
		at = a.now()
	}

	return lineage.RunEvent{
		EventType: eventType,
		EventTime: at,
		Producer:  a.Producer,
		SchemaURL: a.SchemaURL,
		Run:       run,
		Job:       job,
		Inputs:    slices.Clone(inputs),
		Outputs:   slices.Clone(outputs),
	}, nil
}
