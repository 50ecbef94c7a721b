package lineage

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Sentinel errors for event validation.
var (
	ErrNilEvent                = errors.New("event cannot be nil")
	ErrInvalidEventType        = errors.New("invalid eventType")
	ErrMissingEventTime        = errors.New("eventTime is required")
	ErrMissingProducer         = errors.New("producer is required")
	ErrMissingSchemaURL        = errors.New("schemaURL is required")
	ErrInvalidSchemaURL        = errors.New("schemaURL must be an OpenLineage spec URL")
	ErrMissingRunID            = errors.New("run.runId is required")
	ErrMissingJobNamespace     = errors.New("job.namespace is required")
	ErrMissingJobName          = errors.New("job.name is required")
	ErrDatasetMissingNamespace = errors.New("dataset.namespace is required")
	ErrDatasetMissingName      = errors.New("dataset.name is required")
	ErrIncompleteParent        = errors.New("parent facet requires run.runId, job.namespace and job.name")
	ErrSelfParent              = errors.New("run cannot be its own parent")
)

// schemaURLPattern matches https://openlineage.io/spec/X-Y-Z/OpenLineage.json
// once any "#/$defs/..." fragment has been removed.
var schemaURLPattern = regexp.MustCompile(`^https://openlineage\.io/spec/\d+-\d+-\d+/OpenLineage\.json$`)

// Validator checks decoded RunEvents against the OpenLineage required fields
// plus the parent-linkage rules this module relies on. Validation is semantic
// (decode, then check fields) rather than JSON Schema based.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateRunEvent returns nil if event carries everything a backend needs:
// a known eventType, eventTime, producer, an OpenLineage schemaURL, run id,
// job identity, well-formed datasets and, when present, a complete parent facet.
func (v *Validator) ValidateRunEvent(event *RunEvent) error {
	if event == nil {
		return ErrNilEvent
	}

	if !event.EventType.IsValid() {
		return fmt.Errorf("%w: %q (valid: START, RUNNING, COMPLETE, FAIL, ABORT, OTHER)",
			ErrInvalidEventType, event.EventType)
	}

	if event.EventTime.IsZero() {
		return ErrMissingEventTime
	}

	if event.Producer == "" {
		return ErrMissingProducer
	}

	if event.SchemaURL == "" {
		return ErrMissingSchemaURL
	}

	if !IsValidOpenLineageSchemaURL(event.SchemaURL) {
		return fmt.Errorf("%w, got: %s", ErrInvalidSchemaURL, event.SchemaURL)
	}

	if event.Run.ID == "" {
		return ErrMissingRunID
	}

	if event.Job.Namespace == "" {
		return ErrMissingJobNamespace
	}

	if event.Job.Name == "" {
		return ErrMissingJobName
	}

	for i := range event.Inputs {
		if err := v.ValidateDataset(&event.Inputs[i].Dataset); err != nil {
			return fmt.Errorf("inputs[%d]: %w", i, err)
		}
	}

	for i := range event.Outputs {
		if err := v.ValidateDataset(&event.Outputs[i].Dataset); err != nil {
			return fmt.Errorf("outputs[%d]: %w", i, err)
		}
	}

	return v.validateParent(event)
}

// ValidateDataset checks the dataset identity. URN normalization happens later,
// in the canonicalization package.
func (v *Validator) ValidateDataset(dataset *Dataset) error {
	if dataset.Namespace == "" {
		return ErrDatasetMissingNamespace
	}

	if dataset.Name == "" {
		return ErrDatasetMissingName
	}

	return nil
}

func (v *Validator) validateParent(event *RunEvent) error {
	parent, ok := FacetAs[ParentRunFacet](event.Run.Facets, FacetParent)
	if !ok {
		return nil
	}

	if parent.Run.RunID == "" || parent.Job.Namespace == "" || parent.Job.Name == "" {
		return ErrIncompleteParent
	}

	if parent.Run.RunID == event.Run.ID {
		return fmt.Errorf("%w: %s", ErrSelfParent, event.Run.ID)
	}

	return nil
}

// ExtractOpenLineageVersion returns "2.0.2" for
// "https://openlineage.io/spec/2-0-2/OpenLineage.json#/$defs/RunEvent",
// or "" when schemaURL is not an OpenLineage spec URL.
func ExtractOpenLineageVersion(schemaURL string) string {
	if !IsValidOpenLineageSchemaURL(schemaURL) {
		return ""
	}

	base, _, _ := strings.Cut(schemaURL, "#")
	version := strings.TrimSuffix(strings.TrimPrefix(base, "https://openlineage.io/spec/"), "/OpenLineage.json")

	return strings.ReplaceAll(version, "-", ".")
}

// IsValidOpenLineageSchemaURL accepts any spec version, with or without a
// JSON Schema fragment (the Python client sends "#/$defs/RunEvent").
func IsValidOpenLineageSchemaURL(url string) bool {
	base, _, _ := strings.Cut(url, "#")

	return schemaURLPattern.MatchString(base)
}
