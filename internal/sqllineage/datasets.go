package sqllineage

import (
	"slices"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

// transformation types of the columnLineage facet.
const (
	transformationIdentity       = "IDENTITY"
	transformationTransformation = "TRANSFORMATION"
)

// InputDatasets returns one input dataset per read table, named by its
// qualified name in namespace.
func (r *Result) InputDatasets(namespace string) ([]lineage.InputDataset, error) {
	inputs := make([]lineage.InputDataset, 0, len(r.InTables))

	for _, t := range r.InTables {
		in, err := lineage.NewInputDataset(namespace, t.QualifiedName(), nil, nil)
		if err != nil {
			return nil, err
		}

		inputs = append(inputs, in)
	}

	return inputs, nil
}

// OutputDatasets returns one output dataset per written table. Tables with
// known column lineage carry a columnLineage facet.
func (r *Result) OutputDatasets(namespace string) ([]lineage.OutputDataset, error) {
	outputs := make([]lineage.OutputDataset, 0, len(r.OutTables))

	for _, t := range r.OutTables {
		var facets lineage.Facets
		if facet, ok := r.ColumnLineageFacet(namespace, t); ok {
			facets = lineage.Facets{lineage.FacetColumnLineage: facet}
		}

		out, err := lineage.NewOutputDataset(namespace, t.QualifiedName(), facets, nil)
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, out)
	}

	return outputs, nil
}

// ColumnLineageFacet builds the columnLineage facet of output table out.
// Input fields are placed in namespace. It reports false when no column of
// out has known lineage.
func (r *Result) ColumnLineageFacet(namespace string, out Table) (lineage.ColumnLineageDatasetFacet, bool) {
	cols := r.ColumnsOf(out)
	if len(cols) == 0 {
		return lineage.ColumnLineageDatasetFacet{}, false
	}

	facet := lineage.ColumnLineageDatasetFacet{
		Fields: make(map[string]lineage.ColumnLineageField, len(cols)),
	}

	for _, cl := range cols {
		field := facet.Fields[cl.Descendant.Name]

		for _, src := range cl.Lineage {
			in := lineage.InputField{
				Namespace: namespace,
				Name:      src.Table.QualifiedName(),
				Field:     src.Name,
			}

			if !slices.Contains(field.InputFields, in) {
				field.InputFields = append(field.InputFields, in)
			}
		}

		switch {
		case field.TransformationType == transformationTransformation:
		case cl.Transform == TransformDirect:
			field.TransformationType = transformationIdentity
		default:
			field.TransformationType = transformationTransformation
		}

		facet.Fields[cl.Descendant.Name] = field
	}

	return facet, true
}
