// Package sqllineage extracts table and column lineage from SQL text.
//
// An Extractor reports which tables a statement reads (InTables), which it
// writes (OutTables) and, where the query shape allows it, which input columns
// each written column derives from. Results convert directly into OpenLineage
// input and output datasets with a columnLineage facet.
//
// PGQueryExtractor parses with the PostgreSQL parser (pg_query). Snowflake
// scripts are accepted through a small dialect shim that rewrites the DDL forms
// PostgreSQL lacks (CREATE OR REPLACE TABLE, TRANSIENT tables, SECURE views).
package sqllineage

import (
	"errors"
	"strings"
)

var (
	// ErrEmptySQL is returned when there is no statement to analyze.
	ErrEmptySQL = errors.New("sql is empty")

	// ErrParse is returned when the SQL cannot be parsed.
	ErrParse = errors.New("sql parse failed")

	_ Extractor = (*PGQueryExtractor)(nil)
)

// Dialect selects the rewrites applied before parsing.
type Dialect string

const (
	DialectPostgres  Dialect = "postgres"
	DialectSnowflake Dialect = "snowflake"
)

// TransformType tells whether a column is copied or computed.
type TransformType string

const (
	// TransformDirect is a plain column reference.
	TransformDirect TransformType = "DIRECT"

	// TransformExpression is anything computed: functions, arithmetic, CASE.
	TransformExpression TransformType = "EXPRESSION"
)

type (
	// Extractor analyzes one or more SQL statements.
	Extractor interface {
		Extract(sql string, opts Options) (*Result, error)
	}

	// Options tune an extraction.
	Options struct {
		Dialect Dialect

		// DefaultSchema qualifies tables written without a schema. It may carry a
		// database part: "PATTERN_DB.DATA_SCIENCE_STAGE".
		DefaultSchema string
	}

	// Table is a fully resolved table reference. Unquoted identifiers are lower case.
	Table struct {
		Database string
		Schema   string
		Name     string
	}

	// Column is one column of a table.
	Column struct {
		Table Table
		Name  string
	}

	// ColumnLineage lists the input columns a written column derives from.
	ColumnLineage struct {
		Descendant Column
		Lineage    []Column
		Transform  TransformType
	}

	// Result is the lineage of the analyzed statements, in order of first appearance.
	Result struct {
		InTables      []Table
		OutTables     []Table
		ColumnLineage []ColumnLineage
	}
)

// QualifiedName joins the non-empty parts with dots.
func (t Table) QualifiedName() string {
	parts := make([]string, 0, 3)

	for _, p := range []string{t.Database, t.Schema, t.Name} {
		if p != "" {
			parts = append(parts, p)
		}
	}

	return strings.Join(parts, ".")
}

func (t Table) String() string {
	return t.QualifiedName()
}

func (c Column) String() string {
	return c.Table.QualifiedName() + "." + c.Name
}

// ColumnsOf returns the column lineage entries whose descendant belongs to out.
func (r *Result) ColumnsOf(out Table) []ColumnLineage {
	var cols []ColumnLineage

	for _, cl := range r.ColumnLineage {
		if cl.Descendant.Table == out {
			cols = append(cols, cl)
		}
	}

	return cols
}

// IsEmpty reports whether nothing was read or written.
func (r *Result) IsEmpty() bool {
	return r == nil || (len(r.InTables) == 0 && len(r.OutTables) == 0)
}

// splitDefaultSchema lower-cases "db.schema" (or "schema") into its parts.
func splitDefaultSchema(defaultSchema string) (database, schema string) {
	defaultSchema = strings.ToLower(strings.TrimSpace(defaultSchema))
	if defaultSchema == "" {
		return "", ""
	}

	if db, s, ok := strings.Cut(defaultSchema, "."); ok {
		return db, s
	}

	return "", defaultSchema
}
