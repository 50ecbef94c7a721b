// Package lineage provides the OpenLineage event model: datasets, jobs, runs,
// their facets, and the RunEvent that carries them to a backend.
//
// Entities are values. Builders copy the facet maps they are given, and every
// derived entity (AsInput, AsOutput, parent linkage) is a new value, so a
// Dataset or Run can be shared across events without one event leaking into
// another.
//
// Spec: https://openlineage.io/docs/spec/object-model
package lineage

import (
	"strings"
	"time"
	"unicode"

	"github.com/correlator-io/openlineage-playground/internal/canonicalization"
)

// TimeFormat is the wire format of eventTime.
const TimeFormat = "2006-01-02T15:04:05.999999999Z07:00"

type (
	// RunEvent records that a run of a job moved to a lifecycle state. It is the
	// only unit ever transmitted.
	//
	// Spec: https://openlineage.io/docs/spec/object-model#job-run-state-update
	RunEvent struct {
		EventTime time.Time
		EventType EventType

		// Producer identifies the emitting integration (URI).
		Producer string

		// SchemaURL is the OpenLineage spec version the event follows.
		SchemaURL string

		Run     Run
		Job     Job
		Inputs  []InputDataset
		Outputs []OutputDataset

		// source is the document Unmarshal decoded the event from.
		source []byte
	}

	// EventType is an OpenLineage run state.
	// Spec: https://openlineage.io/docs/spec/run-cycle#run-states
	EventType string

	// Run is one execution of a Job. ID is the only thing correlating the
	// START and terminal events of the same execution.
	Run struct {
		ID     string
		Facets Facets
	}

	// Job is a recurring process identified by (Namespace, Name). It is never
	// emitted on its own, only referenced by events.
	Job struct {
		Namespace string
		Name      string
		Facets    Facets
	}

	// Dataset is a table, file or topic identified by (Namespace, Name).
	// Spec: https://openlineage.io/docs/spec/naming#dataset-naming
	Dataset struct {
		Namespace string
		Name      string
		Facets    Facets
	}

	// DatasetKey is the identity of a Dataset.
	DatasetKey struct {
		Namespace string
		Name      string
	}

	// InputDataset is a Dataset viewed as the input of a run.
	InputDataset struct {
		Dataset

		// InputFacets are input-only facets such as dataQualityMetrics.
		InputFacets Facets
	}

	// OutputDataset is a Dataset viewed as the output of a run.
	OutputDataset struct {
		Dataset

		// OutputFacets are output-only facets such as outputStatistics.
		OutputFacets Facets
	}
)

const (
	EventTypeStart   EventType = "START"
	EventTypeRunning EventType = "RUNNING"

	// EventTypeComplete, EventTypeFail and EventTypeAbort are terminal.
	EventTypeComplete EventType = "COMPLETE"
	EventTypeFail     EventType = "FAIL"
	EventTypeAbort    EventType = "ABORT"

	// EventTypeOther carries metadata outside the run cycle and may be sent at any time.
	EventTypeOther EventType = "OTHER"
)

// ValidEventTypes returns all OpenLineage event types.
func ValidEventTypes() []EventType {
	return []EventType{
		EventTypeStart,
		EventTypeRunning,
		EventTypeComplete,
		EventTypeFail,
		EventTypeAbort,
		EventTypeOther,
	}
}

// IsValid reports whether et is a known run state.
func (et EventType) IsValid() bool {
	switch et {
	case EventTypeStart, EventTypeRunning, EventTypeComplete, EventTypeFail, EventTypeAbort, EventTypeOther:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether et ends a run (COMPLETE, FAIL, ABORT).
func (et EventType) IsTerminal() bool {
	return et == EventTypeComplete || et == EventTypeFail || et == EventTypeAbort
}

// NewDataset builds a Dataset. Namespace and name must be non-blank.
// The facet map is copied.
func NewDataset(namespace, name string, facets Facets) (Dataset, error) {
	if err := validateIdentity("dataset", namespace, name); err != nil {
		return Dataset{}, err
	}

	if err := validateFacets("dataset.facets", facets); err != nil {
		return Dataset{}, err
	}

	return Dataset{Namespace: namespace, Name: name, Facets: facets.Clone()}, nil
}

// NewJob builds a Job. Namespace and name must be non-blank.
func NewJob(namespace, name string, facets Facets) (Job, error) {
	if err := validateIdentity("job", namespace, name); err != nil {
		return Job{}, err
	}

	if err := validateFacets("job.facets", facets); err != nil {
		return Job{}, err
	}

	return Job{Namespace: namespace, Name: name, Facets: facets.Clone()}, nil
}

// NewRun builds a Run for an already generated run id (see NewRunID).
func NewRun(runID string, facets Facets) (Run, error) {
	if err := ValidateRunID(runID); err != nil {
		return Run{}, err
	}

	if err := validateFacets("run.facets", facets); err != nil {
		return Run{}, err
	}

	return Run{ID: runID, Facets: facets.Clone()}, nil
}

// NewInputDataset is NewDataset followed by AsInput.
func NewInputDataset(namespace, name string, facets, inputFacets Facets) (InputDataset, error) {
	ds, err := NewDataset(namespace, name, facets)
	if err != nil {
		return InputDataset{}, err
	}

	if err := validateFacets("inputFacets", inputFacets); err != nil {
		return InputDataset{}, err
	}

	return ds.AsInput(inputFacets), nil
}

// NewOutputDataset is NewDataset followed by AsOutput.
func NewOutputDataset(namespace, name string, facets, outputFacets Facets) (OutputDataset, error) {
	ds, err := NewDataset(namespace, name, facets)
	if err != nil {
		return OutputDataset{}, err
	}

	if err := validateFacets("outputFacets", outputFacets); err != nil {
		return OutputDataset{}, err
	}

	return ds.AsOutput(outputFacets), nil
}

// ValidateRunID rejects blank run ids and ids containing whitespace or control characters.
func ValidateRunID(runID string) error {
	if strings.TrimSpace(runID) == "" {
		return newValidationError("run.runId", "", ErrEmptyRunID)
	}

	if strings.IndexFunc(runID, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) != -1 {
		return newValidationError("run.runId", runID, ErrMalformedRunID)
	}

	return nil
}

// Validate reports the same errors NewJob would for j's identity and facets.
func (j Job) Validate() error {
	if err := validateIdentity("job", j.Namespace, j.Name); err != nil {
		return err
	}

	return validateFacets("job.facets", j.Facets)
}

// Validate reports the same errors NewRun would.
func (r Run) Validate() error {
	if err := ValidateRunID(r.ID); err != nil {
		return err
	}

	return validateFacets("run.facets", r.Facets)
}

// Validate reports the same errors NewDataset would.
func (d Dataset) Validate() error {
	if err := validateIdentity("dataset", d.Namespace, d.Name); err != nil {
		return err
	}

	return validateFacets("dataset.facets", d.Facets)
}

func validateIdentity(entity, namespace, name string) error {
	if strings.TrimSpace(namespace) == "" {
		return newValidationError(entity+".namespace", "", ErrEmptyNamespace)
	}

	if strings.TrimSpace(name) == "" {
		return newValidationError(entity+".name", "", ErrEmptyName)
	}

	return nil
}

func validateFacets(field string, facets Facets) error {
	for key, f := range facets {
		if f == nil {
			return newValidationError(field+"."+key, "", ErrNilFacet)
		}
	}

	return nil
}

// Key returns the identity of the dataset.
func (d Dataset) Key() DatasetKey {
	return DatasetKey{Namespace: d.Namespace, Name: d.Name}
}

// SameAs reports whether d and other denote the same logical dataset.
// Facets are ignored.
func (d Dataset) SameAs(other Dataset) bool {
	return d.Key() == other.Key()
}

// URN returns the canonical dataset URN, e.g. "postgresql://prod-db/analytics.public.orders".
func (d Dataset) URN() string {
	return canonicalization.DatasetURN(d.Namespace, d.Name)
}

// AsInput returns d viewed as a run input. d's own facets are left untouched.
func (d Dataset) AsInput(inputFacets Facets) InputDataset {
	return InputDataset{Dataset: d.clone(), InputFacets: inputFacets.Clone()}
}

// AsOutput returns d viewed as a run output.
func (d Dataset) AsOutput(outputFacets Facets) OutputDataset {
	return OutputDataset{Dataset: d.clone(), OutputFacets: outputFacets.Clone()}
}

func (d Dataset) clone() Dataset {
	d.Facets = d.Facets.Clone()

	return d
}

// String returns "namespace/name" without normalization.
func (k DatasetKey) String() string {
	return k.Namespace + "/" + k.Name
}

// ParentRunID returns the run id referenced by the event's parent facet.
func (e *RunEvent) ParentRunID() (string, bool) {
	parent, ok := FacetAs[ParentRunFacet](e.Run.Facets, FacetParent)
	if !ok || parent.Run.RunID == "" {
		return "", false
	}

	return parent.Run.RunID, true
}

// RootRunID returns the run at the top of the event's hierarchy: the parent
// facet's root when the producer sets one, else the direct parent.
func (e *RunEvent) RootRunID() (string, bool) {
	parent, ok := FacetAs[ParentRunFacet](e.Run.Facets, FacetParent)
	if !ok {
		return "", false
	}

	if parent.Root != nil && parent.Root.Run.RunID != "" {
		return parent.Root.Run.RunID, true
	}

	if parent.Run.RunID == "" {
		return "", false
	}

	return parent.Run.RunID, true
}

// Source returns the JSON document the event was decoded from, or nil for
// events built in code. It does not follow later changes to the event.
func (e *RunEvent) Source() []byte {
	return e.source
}

// IdempotencyKey identifies this exact event: a redelivery produces the same
// key, START and COMPLETE of one run do not.
func (e *RunEvent) IdempotencyKey() string {
	return canonicalization.IdempotencyKey(
		e.Producer,
		e.Job.Namespace,
		e.Job.Name,
		e.Run.ID,
		e.EventTime.UTC().Format(TimeFormat),
		string(e.EventType),
	)
}
