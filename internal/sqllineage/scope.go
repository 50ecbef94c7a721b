package sqllineage

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// scopeCol is one column visible through a FROM source or produced by a query.
type scopeCol struct {
	name      string
	origins   []Column
	transform TransformType
}

// source is one relation of a FROM clause. table is set for base tables,
// columns for CTEs and subqueries.
type source struct {
	alias   string
	table   *Table
	columns []scopeCol
}

// scope is the column namespace of one query level.
type scope struct {
	sources []source
	ctes    map[string][]scopeCol
	parent  *scope
}

func newScope(parent *scope) *scope {
	return &scope{ctes: make(map[string][]scopeCol), parent: parent}
}

func (s *scope) lookupCTE(name string) ([]scopeCol, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if cols, ok := sc.ctes[strings.ToLower(name)]; ok {
			return cols, true
		}
	}

	return nil, false
}

func (s *scope) findSource(alias string) (*source, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		for i := range sc.sources {
			if strings.EqualFold(sc.sources[i].alias, alias) {
				return &sc.sources[i], true
			}
		}
	}

	return nil, false
}

// resolve maps a column name, optionally qualified, to its origin columns.
// Unqualified names bind to the only source that can provide them; ambiguous
// names resolve to nothing.
func (s *scope) resolve(qualifier, name string) []Column {
	if qualifier != "" {
		src, ok := s.findSource(qualifier)
		if !ok {
			return nil
		}

		return src.column(name)
	}

	for sc := s; sc != nil; sc = sc.parent {
		if cols, ok := sc.resolveLocal(name); ok {
			return cols
		}
	}

	return nil
}

func (s *scope) resolveLocal(name string) ([]Column, bool) {
	if len(s.sources) == 1 {
		return s.sources[0].column(name), true
	}

	var (
		derived []Column
		matches int
		bases   []*source
	)

	for i := range s.sources {
		src := &s.sources[i]
		if src.table != nil {
			bases = append(bases, src)

			continue
		}

		if col, ok := src.find(name); ok {
			derived = col.origins
			matches++
		}
	}

	switch {
	case matches == 1:
		return derived, true
	case matches == 0 && len(bases) == 1:
		return bases[0].column(name), true
	case matches > 1 || len(bases) > 1:
		return nil, true
	}

	return nil, false
}

// expandStar returns the columns a "*" or "alias.*" selects. Base tables have
// no known column list and contribute nothing.
func (s *scope) expandStar(qualifier string) []scopeCol {
	if qualifier != "" {
		src, ok := s.findSource(qualifier)
		if !ok {
			return nil
		}

		return src.columns
	}

	var cols []scopeCol
	for _, src := range s.sources {
		cols = append(cols, src.columns...)
	}

	return cols
}

func (src *source) find(name string) (scopeCol, bool) {
	for _, col := range src.columns {
		if strings.EqualFold(col.name, name) {
			return col, true
		}
	}

	return scopeCol{}, false
}

func (src *source) column(name string) []Column {
	if src.table != nil {
		return []Column{{Table: *src.table, Name: strings.ToLower(name)}}
	}

	col, ok := src.find(name)
	if !ok {
		return nil
	}

	return col.origins
}

// renameColumns applies an explicit column alias list (CTE, view, CTAS).
func renameColumns(cols []scopeCol, names []*pg_query.Node) []scopeCol {
	if len(names) == 0 {
		return cols
	}

	out := make([]scopeCol, len(cols))
	copy(out, cols)

	for i, n := range names {
		if i >= len(out) {
			break
		}

		if name := stringValue(n); name != "" {
			out[i].name = name
		}
	}

	return out
}

// mergeSetOperation combines the branches of a UNION, INTERSECT or EXCEPT by
// position; names come from the left branch.
func mergeSetOperation(left, right []scopeCol) []scopeCol {
	out := make([]scopeCol, len(left))

	for i, col := range left {
		out[i] = scopeCol{name: col.name, transform: col.transform}
		out[i].origins = appendUnique(out[i].origins, col.origins...)

		if i < len(right) {
			out[i].origins = appendUnique(out[i].origins, right[i].origins...)
			if right[i].transform == TransformExpression {
				out[i].transform = TransformExpression
			}
		}
	}

	return out
}

func appendUnique(cols []Column, more ...Column) []Column {
	for _, c := range more {
		found := false

		for _, existing := range cols {
			if existing == c {
				found = true

				break
			}
		}

		if !found {
			cols = append(cols, c)
		}
	}

	return cols
}

func stringValue(n *pg_query.Node) string {
	if n == nil {
		return ""
	}

	if s, ok := n.Node.(*pg_query.Node_String_); ok && s.String_ != nil {
		return s.String_.Sval
	}

	return ""
}
