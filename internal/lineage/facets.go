package lineage

import (
	"bytes"
	"encoding/json"
	"maps"
	"time"
)

// Well-known facet keys.
// Spec: https://openlineage.io/docs/spec/facets/
const (
	FacetSchema             = "schema"
	FacetColumnLineage      = "columnLineage"
	FacetSQL                = "sql"
	FacetSourceCodeLocation = "sourceCodeLocation"
	FacetJobType            = "jobType"
	FacetNominalTime        = "nominalTime"
	FacetParent             = "parent"
	FacetErrorMessage       = "errorMessage"
	FacetDataQualityMetrics = "dataQualityMetrics"
	FacetOutputStatistics   = "outputStatistics"
)

const facetSchemaBase = "https://openlineage.io/spec/facets/"

type (
	// Facet is a typed metadata block attached to a Dataset, Job or Run.
	//
	// Typed facets are the well-known payloads below. Anything else travels as
	// OpaqueFacet so that facets defined by other producers survive a round trip.
	Facet interface {
		// FacetSchemaURL is written as "_schemaURL"; empty for opaque facets.
		FacetSchemaURL() string
	}

	// Facets maps facet keys to payloads.
	Facets map[string]Facet

	// OpaqueFacet preserves a facet this package has no type for. Raw must be a
	// JSON object and is written verbatim, including any "_producer".
	OpaqueFacet struct {
		Raw json.RawMessage
	}

	// SchemaDatasetFacet lists the fields of a dataset.
	SchemaDatasetFacet struct {
		decodedFrom

		Fields []SchemaField `json:"fields"`
	}

	// SchemaField is one column of a SchemaDatasetFacet.
	SchemaField struct {
		Name        string        `json:"name"`
		Type        string        `json:"type,omitempty"`
		Description string        `json:"description,omitempty"`
		Fields      []SchemaField `json:"fields,omitempty"`
	}

	// ColumnLineageDatasetFacet maps each output column to the input columns it derives from.
	ColumnLineageDatasetFacet struct {
		decodedFrom

		Fields map[string]ColumnLineageField `json:"fields"`
	}

	ColumnLineageField struct {
		InputFields               []InputField `json:"inputFields"`
		TransformationDescription string       `json:"transformationDescription,omitempty"`
		TransformationType        string       `json:"transformationType,omitempty"`
	}

	InputField struct {
		Namespace string `json:"namespace"`
		Name      string `json:"name"`
		Field     string `json:"field"`
	}

	// SQLJobFacet carries the query text a job executes.
	SQLJobFacet struct {
		decodedFrom

		Query string `json:"query"`
	}

	// SourceCodeLocationJobFacet points at the code that defines a job.
	SourceCodeLocationJobFacet struct {
		decodedFrom

		Type    string `json:"type"`
		URL     string `json:"url"`
		RepoURL string `json:"repoUrl,omitempty"`
		Path    string `json:"path,omitempty"`
		Version string `json:"version,omitempty"`
		Tag     string `json:"tag,omitempty"`
		Branch  string `json:"branch,omitempty"`
	}

	// JobTypeJobFacet classifies a job (BATCH/STREAMING, integration, DAG/TASK/QUERY).
	JobTypeJobFacet struct {
		decodedFrom

		ProcessingType string `json:"processingType"`
		Integration    string `json:"integration"`
		JobType        string `json:"jobType,omitempty"`
	}

	// NominalTimeRunFacet is the scheduled time of a run, as opposed to when it actually ran.
	NominalTimeRunFacet struct {
		decodedFrom

		NominalStartTime time.Time  `json:"nominalStartTime"`
		NominalEndTime   *time.Time `json:"nominalEndTime,omitempty"`
	}

	// ParentRunFacet links a child run to the run (and job) that spawned it.
	ParentRunFacet struct {
		decodedFrom

		Run ParentRun `json:"run"`
		Job ParentJob `json:"job"`

		// Root is the run at the top of the hierarchy; nil for producers that
		// predate it.
		Root *ParentRoot `json:"root,omitempty"`
	}

	ParentRoot struct {
		Run ParentRun `json:"run"`
		Job ParentJob `json:"job"`
	}

	ParentRun struct {
		RunID string `json:"runId"`
	}

	ParentJob struct {
		Namespace string `json:"namespace"`
		Name      string `json:"name"`
	}

	// ErrorMessageRunFacet describes why a run ended in FAIL or ABORT.
	ErrorMessageRunFacet struct {
		decodedFrom

		Message             string `json:"message"`
		ProgrammingLanguage string `json:"programmingLanguage"`
		StackTrace          string `json:"stackTrace,omitempty"`
	}

	// DataQualityMetricsInputDatasetFacet carries metrics observed on an input.
	DataQualityMetricsInputDatasetFacet struct {
		decodedFrom

		RowCount      *int64                  `json:"rowCount,omitempty"`
		Bytes         *int64                  `json:"bytes,omitempty"`
		ColumnMetrics map[string]ColumnMetric `json:"columnMetrics,omitempty"`
	}

	ColumnMetric struct {
		NullCount     *int64             `json:"nullCount,omitempty"`
		DistinctCount *int64             `json:"distinctCount,omitempty"`
		Sum           *float64           `json:"sum,omitempty"`
		Count         *float64           `json:"count,omitempty"`
		Min           *float64           `json:"min,omitempty"`
		Max           *float64           `json:"max,omitempty"`
		Quantiles     map[string]float64 `json:"quantiles,omitempty"`
	}

	// decodedFrom keeps the JSON a typed facet was decoded from. Marshal writes
	// those bytes back, foreign "_producer" and unknown fields included, while
	// the typed value still encodes the same as when it was decoded.
	decodedFrom struct {
		origin *facetOrigin
	}

	facetOrigin struct {
		raw   json.RawMessage
		typed []byte
	}

	// OutputStatisticsOutputDatasetFacet carries the size of what a run wrote.
	OutputStatisticsOutputDatasetFacet struct {
		decodedFrom

		RowCount *int64 `json:"rowCount,omitempty"`
		Size     *int64 `json:"size,omitempty"`
	}
)

func (OpaqueFacet) FacetSchemaURL() string { return "" }

func (d decodedFrom) decodedOrigin() *facetOrigin { return d.origin }

func (d *decodedFrom) setDecodedOrigin(o *facetOrigin) { d.origin = o }

// sourceBytes returns the decoded JSON of f if f still encodes to payload.
func sourceBytes(f Facet, payload []byte) (json.RawMessage, bool) {
	carrier, ok := f.(interface{ decodedOrigin() *facetOrigin })
	if !ok {
		return nil, false
	}

	origin := carrier.decodedOrigin()
	if origin == nil || !bytes.Equal(origin.typed, payload) {
		return nil, false
	}

	return origin.raw, true
}

func (SchemaDatasetFacet) FacetSchemaURL() string {
	return facetSchemaBase + "1-1-1/SchemaDatasetFacet.json#/$defs/SchemaDatasetFacet"
}

func (ColumnLineageDatasetFacet) FacetSchemaURL() string {
	return facetSchemaBase + "1-2-0/ColumnLineageDatasetFacet.json#/$defs/ColumnLineageDatasetFacet"
}

func (SQLJobFacet) FacetSchemaURL() string {
	return facetSchemaBase + "1-0-1/SQLJobFacet.json#/$defs/SQLJobFacet"
}

func (SourceCodeLocationJobFacet) FacetSchemaURL() string {
	return facetSchemaBase + "1-0-1/SourceCodeLocationJobFacet.json#/$defs/SourceCodeLocationJobFacet"
}

func (JobTypeJobFacet) FacetSchemaURL() string {
	return facetSchemaBase + "2-0-3/JobTypeJobFacet.json#/$defs/JobTypeJobFacet"
}

func (NominalTimeRunFacet) FacetSchemaURL() string {
	return facetSchemaBase + "1-0-1/NominalTimeRunFacet.json#/$defs/NominalTimeRunFacet"
}

func (ParentRunFacet) FacetSchemaURL() string {
	return facetSchemaBase + "1-1-0/ParentRunFacet.json#/$defs/ParentRunFacet"
}

func (ErrorMessageRunFacet) FacetSchemaURL() string {
	return facetSchemaBase + "1-0-1/ErrorMessageRunFacet.json#/$defs/ErrorMessageRunFacet"
}

func (DataQualityMetricsInputDatasetFacet) FacetSchemaURL() string {
	return facetSchemaBase + "1-0-2/DataQualityMetricsInputDatasetFacet.json#/$defs/DataQualityMetricsInputDatasetFacet"
}

func (OutputStatisticsOutputDatasetFacet) FacetSchemaURL() string {
	return facetSchemaBase + "1-0-2/OutputStatisticsOutputDatasetFacet.json#/$defs/OutputStatisticsOutputDatasetFacet"
}

// facetDecoders maps well-known keys to a decoder for their typed payload.
var facetDecoders = map[string]func(json.RawMessage) (Facet, error){
	FacetSchema:             decodeFacet[SchemaDatasetFacet, *SchemaDatasetFacet],
	FacetColumnLineage:      decodeFacet[ColumnLineageDatasetFacet, *ColumnLineageDatasetFacet],
	FacetSQL:                decodeFacet[SQLJobFacet, *SQLJobFacet],
	FacetSourceCodeLocation: decodeFacet[SourceCodeLocationJobFacet, *SourceCodeLocationJobFacet],
	FacetJobType:            decodeFacet[JobTypeJobFacet, *JobTypeJobFacet],
	FacetNominalTime:        decodeFacet[NominalTimeRunFacet, *NominalTimeRunFacet],
	FacetParent:             decodeFacet[ParentRunFacet, *ParentRunFacet],
	FacetErrorMessage:       decodeFacet[ErrorMessageRunFacet, *ErrorMessageRunFacet],
	FacetDataQualityMetrics: decodeFacet[DataQualityMetricsInputDatasetFacet, *DataQualityMetricsInputDatasetFacet],
	FacetOutputStatistics:   decodeFacet[OutputStatisticsOutputDatasetFacet, *OutputStatisticsOutputDatasetFacet],
}

func decodeFacet[T Facet, P interface {
	*T
	setDecodedOrigin(o *facetOrigin)
}](raw json.RawMessage) (Facet, error) {
	var f T
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}

	typed, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}

	P(&f).setDecodedOrigin(&facetOrigin{raw: bytes.Clone(raw), typed: typed})

	return f, nil
}

// Clone returns a shallow copy; nil stays nil.
func (f Facets) Clone() Facets {
	if f == nil {
		return nil
	}

	return maps.Clone(f)
}

// With returns a copy of f with key set to facet. f itself is not modified.
func (f Facets) With(key string, facet Facet) Facets {
	out := make(Facets, len(f)+1)
	maps.Copy(out, f)
	out[key] = facet

	return out
}

// FacetAs returns the facet stored under key if it has type T.
//
//	parent, ok := lineage.FacetAs[lineage.ParentRunFacet](run.Facets, lineage.FacetParent)
func FacetAs[T Facet](facets Facets, key string) (T, bool) {
	f, ok := facets[key].(T)

	return f, ok
}
