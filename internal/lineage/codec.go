package lineage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	facetProducerKey  = "_producer"
	facetSchemaURLKey = "_schemaURL"

	// naiveTimeFormat is accepted on input only: some clients send eventTime without a zone.
	naiveTimeFormat = "2006-01-02T15:04:05.999999999"
)

// ErrInvalidEventTime is returned by Unmarshal when eventTime cannot be parsed.
var ErrInvalidEventTime = errors.New("eventTime must be an ISO-8601 timestamp")

type (
	wireEvent struct {
		EventType EventType     `json:"eventType"`
		EventTime string        `json:"eventTime"`
		Producer  string        `json:"producer"`
		SchemaURL string        `json:"schemaURL"`
		Run       wireRun       `json:"run"`
		Job       wireJob       `json:"job"`
		Inputs    []wireDataset `json:"inputs"`
		Outputs   []wireDataset `json:"outputs"`
	}

	wireRun struct {
		RunID  string     `json:"runId"`
		Facets wireFacets `json:"facets,omitempty"`
	}

	wireJob struct {
		Namespace string     `json:"namespace"`
		Name      string     `json:"name"`
		Facets    wireFacets `json:"facets,omitempty"`
	}

	wireDataset struct {
		Namespace    string     `json:"namespace"`
		Name         string     `json:"name"`
		Facets       wireFacets `json:"facets,omitempty"`
		InputFacets  wireFacets `json:"inputFacets,omitempty"`
		OutputFacets wireFacets `json:"outputFacets,omitempty"`
	}

	wireFacets map[string]json.RawMessage
)

// Marshal encodes e as an OpenLineage RunEvent JSON document.
//
// Typed facets get "_producer" (the event producer) and "_schemaURL" added.
// Opaque facets, and decoded typed facets nobody has changed since, are
// written as they were received. A facet without a JSON form fails with
// *SerializationError.
func Marshal(e *RunEvent) ([]byte, error) {
	w, err := toWire(e)
	if err != nil {
		return nil, err
	}

	return json.Marshal(w)
}

// MarshalIndent is Marshal with indentation, for console output.
func MarshalIndent(e *RunEvent) ([]byte, error) {
	w, err := toWire(e)
	if err != nil {
		return nil, err
	}

	return json.MarshalIndent(w, "", "  ")
}

// Unmarshal decodes a RunEvent. Known facet keys decode into their typed
// payloads; unknown keys, and known keys whose payload does not fit the type,
// are kept as OpaqueFacet.
func Unmarshal(data []byte) (*RunEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode run event: %w", err)
	}

	e, err := fromWire(&w)
	if err != nil {
		return nil, err
	}

	e.source = bytes.Clone(data)

	return e, nil
}

func toWire(e *RunEvent) (*wireEvent, error) {
	var err error

	w := &wireEvent{
		EventType: e.EventType,
		EventTime: e.EventTime.Format(TimeFormat),
		Producer:  e.Producer,
		SchemaURL: e.SchemaURL,
		Run:       wireRun{RunID: e.Run.ID},
		Job:       wireJob{Namespace: e.Job.Namespace, Name: e.Job.Name},
		Inputs:    make([]wireDataset, len(e.Inputs)),
		Outputs:   make([]wireDataset, len(e.Outputs)),
	}

	if w.Run.Facets, err = encodeFacets(e.Producer, "run", e.Run.Facets); err != nil {
		return nil, err
	}

	if w.Job.Facets, err = encodeFacets(e.Producer, "job", e.Job.Facets); err != nil {
		return nil, err
	}

	for i, in := range e.Inputs {
		loc := fmt.Sprintf("inputs[%d]", i)
		wd := wireDataset{Namespace: in.Namespace, Name: in.Name}

		if wd.Facets, err = encodeFacets(e.Producer, loc+".facets", in.Facets); err != nil {
			return nil, err
		}

		if wd.InputFacets, err = encodeFacets(e.Producer, loc+".inputFacets", in.InputFacets); err != nil {
			return nil, err
		}

		w.Inputs[i] = wd
	}

	for i, out := range e.Outputs {
		loc := fmt.Sprintf("outputs[%d]", i)
		wd := wireDataset{Namespace: out.Namespace, Name: out.Name}

		if wd.Facets, err = encodeFacets(e.Producer, loc+".facets", out.Facets); err != nil {
			return nil, err
		}

		if wd.OutputFacets, err = encodeFacets(e.Producer, loc+".outputFacets", out.OutputFacets); err != nil {
			return nil, err
		}

		w.Outputs[i] = wd
	}

	return w, nil
}

func encodeFacets(producer, location string, facets Facets) (wireFacets, error) {
	if len(facets) == 0 {
		return nil, nil
	}

	out := make(wireFacets, len(facets))

	for key, f := range facets {
		raw, err := encodeFacet(producer, f)
		if err != nil {
			return nil, &SerializationError{Location: location, Facet: key, Err: err}
		}

		out[key] = raw
	}

	return out, nil
}

func encodeFacet(producer string, f Facet) (json.RawMessage, error) {
	if f == nil {
		return nil, ErrNilFacet
	}

	if opaque, ok := f.(OpaqueFacet); ok {
		if !isJSONObject(opaque.Raw) {
			return nil, fmt.Errorf("%w: opaque facet must be a JSON object", ErrUnrepresentable)
		}

		return opaque.Raw, nil
	}

	payload, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnrepresentable, err)
	}

	if raw, ok := sourceBytes(f, payload); ok && isJSONObject(raw) {
		return raw, nil
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: facet payload must encode as a JSON object", ErrUnrepresentable)
	}

	fields[facetProducerKey], _ = json.Marshal(producer)
	fields[facetSchemaURLKey], _ = json.Marshal(f.FacetSchemaURL())

	return json.Marshal(fields)
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)

	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

func fromWire(w *wireEvent) (*RunEvent, error) {
	eventTime, err := ParseEventTime(w.EventTime)
	if err != nil {
		return nil, err
	}

	e := &RunEvent{
		EventTime: eventTime,
		EventType: w.EventType,
		Producer:  w.Producer,
		SchemaURL: w.SchemaURL,
		Run:       Run{ID: w.Run.RunID, Facets: decodeFacets(w.Run.Facets)},
		Job: Job{
			Namespace: w.Job.Namespace,
			Name:      w.Job.Name,
			Facets:    decodeFacets(w.Job.Facets),
		},
	}

	for _, wd := range w.Inputs {
		e.Inputs = append(e.Inputs, InputDataset{
			Dataset:     Dataset{Namespace: wd.Namespace, Name: wd.Name, Facets: decodeFacets(wd.Facets)},
			InputFacets: decodeFacets(wd.InputFacets),
		})
	}

	for _, wd := range w.Outputs {
		e.Outputs = append(e.Outputs, OutputDataset{
			Dataset:      Dataset{Namespace: wd.Namespace, Name: wd.Name, Facets: decodeFacets(wd.Facets)},
			OutputFacets: decodeFacets(wd.OutputFacets),
		})
	}

	return e, nil
}

func decodeFacets(raw wireFacets) Facets {
	if len(raw) == 0 {
		return nil
	}

	out := make(Facets, len(raw))

	for key, payload := range raw {
		if decode, ok := facetDecoders[key]; ok {
			if f, err := decode(payload); err == nil {
				out[key] = f

				continue
			}
		}

		out[key] = OpaqueFacet{Raw: bytes.Clone(payload)}
	}

	return out
}

// ParseEventTime parses an eventTime value. Timestamps without a zone are taken as UTC.
func ParseEventTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}

	if t, err := time.Parse(naiveTimeFormat, value); err == nil {
		return t.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("%w, got: %q", ErrInvalidEventTime, value)
}

// MarshalJSON implements json.Marshaler using the OpenLineage wire format.
func (e RunEvent) MarshalJSON() ([]byte, error) {
	return Marshal(&e)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *RunEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	decoded, err := fromWire(&w)
	if err != nil {
		return err
	}

	decoded.source = bytes.Clone(data)
	*e = *decoded

	return nil
}
