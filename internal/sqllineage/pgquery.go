package sqllineage

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// PGQueryExtractor extracts lineage with the PostgreSQL parser. It holds no
// state and is safe for concurrent use.
type PGQueryExtractor struct{}

// NewPGQueryExtractor returns an extractor backed by pg_query.
func NewPGQueryExtractor() *PGQueryExtractor {
	return &PGQueryExtractor{}
}

// Extract parses sql, which may hold several statements, and merges their lineage.
// Statements that neither read nor write tables (SET, GRANT, ...) are skipped.
func (e *PGQueryExtractor) Extract(sql string, opts Options) (*Result, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, ErrEmptySQL
	}

	tree, err := pg_query.Parse(opts.Dialect.normalize(sql))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	a := newAnalyzer(opts)
	for _, raw := range tree.GetStmts() {
		a.statement(raw.GetStmt())
	}

	return a.result(), nil
}

type tableSet struct {
	seen   map[Table]struct{}
	tables []Table
}

func (s *tableSet) add(t Table) {
	if _, ok := s.seen[t]; ok {
		return
	}

	s.seen[t] = struct{}{}
	s.tables = append(s.tables, t)
}

type analyzer struct {
	database string
	schema   string

	inputs  tableSet
	outputs tableSet
	columns []ColumnLineage
}

func newAnalyzer(opts Options) *analyzer {
	db, schema := splitDefaultSchema(opts.DefaultSchema)

	return &analyzer{
		database: db,
		schema:   schema,
		inputs:   tableSet{seen: make(map[Table]struct{})},
		outputs:  tableSet{seen: make(map[Table]struct{})},
	}
}

func (a *analyzer) result() *Result {
	return &Result{
		InTables:      a.inputs.tables,
		OutTables:     a.outputs.tables,
		ColumnLineage: a.columns,
	}
}

// table resolves a RangeVar against the default schema.
func (a *analyzer) table(rv *pg_query.RangeVar) Table {
	t := Table{
		Database: strings.ToLower(rv.GetCatalogname()),
		Schema:   strings.ToLower(rv.GetSchemaname()),
		Name:     strings.ToLower(rv.GetRelname()),
	}

	if t.Schema == "" && t.Database == "" {
		t.Database, t.Schema = a.database, a.schema
	}

	return t
}

func (a *analyzer) addOutput(out Table, cols []scopeCol) {
	a.outputs.add(out)

	for _, col := range cols {
		if len(col.origins) == 0 || col.name == "" {
			continue
		}

		a.columns = append(a.columns, ColumnLineage{
			Descendant: Column{Table: out, Name: strings.ToLower(col.name)},
			Lineage:    col.origins,
			Transform:  col.transform,
		})
	}
}

func (a *analyzer) statement(node *pg_query.Node) {
	if node == nil {
		return
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		cols := a.analyzeSelect(n.SelectStmt, nil)
		if into := n.SelectStmt.GetIntoClause(); into != nil && into.GetRel() != nil {
			a.addOutput(a.table(into.GetRel()), renameColumns(cols, into.GetColNames()))
		}
	case *pg_query.Node_CreateTableAsStmt:
		into := n.CreateTableAsStmt.GetInto()
		cols := a.analyzeQuery(n.CreateTableAsStmt.GetQuery(), nil)

		if into.GetRel() != nil {
			a.addOutput(a.table(into.GetRel()), renameColumns(cols, into.GetColNames()))
		}
	case *pg_query.Node_ViewStmt:
		cols := a.analyzeQuery(n.ViewStmt.GetQuery(), nil)
		if n.ViewStmt.GetView() != nil {
			a.addOutput(a.table(n.ViewStmt.GetView()), renameColumns(cols, n.ViewStmt.GetAliases()))
		}
	case *pg_query.Node_CreateStmt:
		if n.CreateStmt.GetRelation() != nil {
			a.addOutput(a.table(n.CreateStmt.GetRelation()), nil)
		}
	case *pg_query.Node_InsertStmt:
		a.insert(n.InsertStmt)
	case *pg_query.Node_UpdateStmt:
		a.update(n.UpdateStmt)
	case *pg_query.Node_DeleteStmt:
		a.deleteFrom(n.DeleteStmt)
	case *pg_query.Node_MergeStmt:
		a.merge(n.MergeStmt)
	}
}

func (a *analyzer) insert(stmt *pg_query.InsertStmt) {
	if stmt.GetRelation() == nil {
		return
	}

	sc := newScope(nil)
	a.addCTEs(sc, stmt.GetWithClause())

	cols := a.analyzeQuery(stmt.GetSelectStmt(), sc)

	names := make([]*pg_query.Node, 0, len(stmt.GetCols()))
	for _, c := range stmt.GetCols() {
		names = append(names, pg_query.MakeStrNode(c.GetResTarget().GetName()))
	}

	a.addOutput(a.table(stmt.GetRelation()), renameColumns(cols, names))
}

func (a *analyzer) update(stmt *pg_query.UpdateStmt) {
	if stmt.GetRelation() == nil {
		return
	}

	target := a.table(stmt.GetRelation())

	sc := newScope(nil)
	a.addCTEs(sc, stmt.GetWithClause())
	sc.sources = append(sc.sources, source{alias: aliasOf(stmt.GetRelation()), table: &target})

	for _, from := range stmt.GetFromClause() {
		a.addFrom(sc, from)
	}

	a.origins(sc, stmt.GetWhereClause())

	a.addOutput(target, a.assignments(sc, stmt.GetTargetList()))
}

func (a *analyzer) deleteFrom(stmt *pg_query.DeleteStmt) {
	if stmt.GetRelation() == nil {
		return
	}

	sc := newScope(nil)
	a.addCTEs(sc, stmt.GetWithClause())

	for _, using := range stmt.GetUsingClause() {
		a.addFrom(sc, using)
	}

	a.origins(sc, stmt.GetWhereClause())
	a.addOutput(a.table(stmt.GetRelation()), nil)
}

func (a *analyzer) merge(stmt *pg_query.MergeStmt) {
	if stmt.GetRelation() == nil {
		return
	}

	target := a.table(stmt.GetRelation())

	sc := newScope(nil)
	a.addCTEs(sc, stmt.GetWithClause())
	sc.sources = append(sc.sources, source{alias: aliasOf(stmt.GetRelation()), table: &target})
	a.addFrom(sc, stmt.GetSourceRelation())
	a.origins(sc, stmt.GetJoinCondition())

	var cols []scopeCol

	for _, n := range stmt.GetMergeWhenClauses() {
		clause := n.GetMergeWhenClause()
		if clause == nil {
			continue
		}

		values := clause.GetValues()
		if len(values) == 0 {
			cols = append(cols, a.assignments(sc, clause.GetTargetList())...)

			continue
		}

		for i, t := range clause.GetTargetList() {
			if i >= len(values) {
				break
			}

			cols = append(cols, a.column(sc, t.GetResTarget().GetName(), values[i]))
		}
	}

	a.addOutput(target, cols)
}

// assignments maps SET col = expr lists.
func (a *analyzer) assignments(sc *scope, targets []*pg_query.Node) []scopeCol {
	cols := make([]scopeCol, 0, len(targets))

	for _, t := range targets {
		res := t.GetResTarget()
		if res == nil {
			continue
		}

		cols = append(cols, a.column(sc, res.GetName(), res.GetVal()))
	}

	return cols
}

func (a *analyzer) column(sc *scope, name string, expr *pg_query.Node) scopeCol {
	transform := TransformExpression
	if expr.GetColumnRef() != nil {
		transform = TransformDirect
	}

	return scopeCol{name: name, origins: a.origins(sc, expr), transform: transform}
}

// analyzeQuery analyzes a nested query node; only SELECTs produce columns.
func (a *analyzer) analyzeQuery(node *pg_query.Node, parent *scope) []scopeCol {
	if sel := node.GetSelectStmt(); sel != nil {
		return a.analyzeSelect(sel, parent)
	}

	return nil
}

func (a *analyzer) addCTEs(sc *scope, with *pg_query.WithClause) {
	if with == nil {
		return
	}

	for _, n := range with.GetCtes() {
		cte := n.GetCommonTableExpr()
		if cte == nil {
			continue
		}

		name := strings.ToLower(cte.GetCtename())
		if with.GetRecursive() {
			sc.ctes[name] = nil
		}

		cols := a.analyzeQuery(cte.GetCtequery(), sc)
		sc.ctes[name] = renameColumns(cols, cte.GetAliascolnames())
	}
}

// analyzeSelect registers every base table the query reads and returns its
// output columns.
func (a *analyzer) analyzeSelect(sel *pg_query.SelectStmt, parent *scope) []scopeCol {
	if sel == nil {
		return nil
	}

	sc := newScope(parent)
	a.addCTEs(sc, sel.GetWithClause())

	// UNION / INTERSECT / EXCEPT
	if sel.GetLarg() != nil && sel.GetRarg() != nil {
		left := a.analyzeSelect(sel.GetLarg(), sc)
		right := a.analyzeSelect(sel.GetRarg(), sc)

		return mergeSetOperation(left, right)
	}

	for _, from := range sel.GetFromClause() {
		a.addFrom(sc, from)
	}

	a.origins(sc, sel.GetWhereClause())
	a.origins(sc, sel.GetHavingClause())

	cols := make([]scopeCol, 0, len(sel.GetTargetList()))

	for _, t := range sel.GetTargetList() {
		res := t.GetResTarget()
		if res == nil {
			continue
		}

		if ref := res.GetVal().GetColumnRef(); ref != nil && isStar(ref) {
			qualifier, _ := refParts(ref)
			cols = append(cols, sc.expandStar(qualifier)...)

			continue
		}

		cols = append(cols, a.column(sc, targetName(res), res.GetVal()))
	}

	return cols
}

func (a *analyzer) addFrom(sc *scope, node *pg_query.Node) {
	if node == nil {
		return
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_RangeVar:
		rv := n.RangeVar
		if rv.GetSchemaname() == "" && rv.GetCatalogname() == "" {
			if cols, ok := sc.lookupCTE(rv.GetRelname()); ok {
				sc.sources = append(sc.sources, source{alias: aliasOf(rv), columns: cols})

				return
			}
		}

		t := a.table(rv)
		a.inputs.add(t)
		sc.sources = append(sc.sources, source{alias: aliasOf(rv), table: &t})
	case *pg_query.Node_JoinExpr:
		a.addFrom(sc, n.JoinExpr.GetLarg())
		a.addFrom(sc, n.JoinExpr.GetRarg())
		a.origins(sc, n.JoinExpr.GetQuals())
	case *pg_query.Node_RangeSubselect:
		cols := a.analyzeQuery(n.RangeSubselect.GetSubquery(), sc)
		alias := n.RangeSubselect.GetAlias()
		sc.sources = append(sc.sources, source{
			alias:   alias.GetAliasname(),
			columns: renameColumns(cols, alias.GetColnames()),
		})
	case *pg_query.Node_RangeFunction:
		// Table functions read no table.
	}
}

// origins returns the input columns an expression reads. Subqueries inside
// the expression register their tables as inputs.
func (a *analyzer) origins(sc *scope, node *pg_query.Node) []Column {
	if node == nil {
		return nil
	}

	var cols []Column

	switch n := node.Node.(type) {
	case *pg_query.Node_ColumnRef:
		if isStar(n.ColumnRef) {
			return nil
		}

		qualifier, name := refParts(n.ColumnRef)
		cols = sc.resolve(qualifier, name)
	case *pg_query.Node_ResTarget:
		cols = a.origins(sc, n.ResTarget.GetVal())
	case *pg_query.Node_FuncCall:
		args := n.FuncCall.GetArgs()
		if len(args) > 0 && isDatePart(n.FuncCall, args[0]) {
			args = args[1:]
		}

		cols = a.originsOf(sc, args...)
		cols = appendUnique(cols, a.origins(sc, n.FuncCall.GetAggFilter())...)
	case *pg_query.Node_TypeCast:
		cols = a.origins(sc, n.TypeCast.GetArg())
	case *pg_query.Node_AExpr:
		cols = a.originsOf(sc, n.AExpr.GetLexpr(), n.AExpr.GetRexpr())
	case *pg_query.Node_BoolExpr:
		cols = a.originsOf(sc, n.BoolExpr.GetArgs()...)
	case *pg_query.Node_CaseExpr:
		cols = a.originsOf(sc, append([]*pg_query.Node{n.CaseExpr.GetArg(), n.CaseExpr.GetDefresult()}, n.CaseExpr.GetArgs()...)...)
	case *pg_query.Node_CaseWhen:
		cols = a.originsOf(sc, n.CaseWhen.GetExpr(), n.CaseWhen.GetResult())
	case *pg_query.Node_CoalesceExpr:
		cols = a.originsOf(sc, n.CoalesceExpr.GetArgs()...)
	case *pg_query.Node_MinMaxExpr:
		cols = a.originsOf(sc, n.MinMaxExpr.GetArgs()...)
	case *pg_query.Node_NullTest:
		cols = a.origins(sc, n.NullTest.GetArg())
	case *pg_query.Node_BooleanTest:
		cols = a.origins(sc, n.BooleanTest.GetArg())
	case *pg_query.Node_NamedArgExpr:
		cols = a.origins(sc, n.NamedArgExpr.GetArg())
	case *pg_query.Node_AIndirection:
		cols = a.origins(sc, n.AIndirection.GetArg())
	case *pg_query.Node_RowExpr:
		cols = a.originsOf(sc, n.RowExpr.GetArgs()...)
	case *pg_query.Node_List:
		cols = a.originsOf(sc, n.List.GetItems()...)
	case *pg_query.Node_SubLink:
		cols = a.origins(sc, n.SubLink.GetTestexpr())
		for _, col := range a.analyzeQuery(n.SubLink.GetSubselect(), sc) {
			cols = appendUnique(cols, col.origins...)
		}
	}

	return cols
}

func (a *analyzer) originsOf(sc *scope, nodes ...*pg_query.Node) []Column {
	var cols []Column
	for _, n := range nodes {
		cols = appendUnique(cols, a.origins(sc, n)...)
	}

	return cols
}

func aliasOf(rv *pg_query.RangeVar) string {
	if alias := rv.GetAlias().GetAliasname(); alias != "" {
		return alias
	}

	return rv.GetRelname()
}

func isStar(ref *pg_query.ColumnRef) bool {
	fields := ref.GetFields()

	return len(fields) > 0 && fields[len(fields)-1].GetAStar() != nil
}

// refParts splits a column reference into the relation qualifier (empty if
// none) and the column name. For "schema.table.col" the qualifier is "table".
func refParts(ref *pg_query.ColumnRef) (qualifier, name string) {
	fields := ref.GetFields()
	if len(fields) == 0 {
		return "", ""
	}

	name = stringValue(fields[len(fields)-1])
	if len(fields) >= 2 {
		qualifier = stringValue(fields[len(fields)-2])
	}

	return qualifier, name
}

// targetName is the output name PostgreSQL would give a select-list entry.
func targetName(res *pg_query.ResTarget) string {
	if res.GetName() != "" {
		return res.GetName()
	}

	return exprName(res.GetVal())
}

func exprName(node *pg_query.Node) string {
	switch n := node.GetNode().(type) {
	case *pg_query.Node_ColumnRef:
		_, name := refParts(n.ColumnRef)

		return name
	case *pg_query.Node_FuncCall:
		names := n.FuncCall.GetFuncname()
		if len(names) > 0 {
			return stringValue(names[len(names)-1])
		}
	case *pg_query.Node_TypeCast:
		return exprName(n.TypeCast.GetArg())
	case *pg_query.Node_CaseExpr:
		return "case"
	case *pg_query.Node_CoalesceExpr:
		return "coalesce"
	}

	return "?column?"
}

func isDatePart(fn *pg_query.FuncCall, first *pg_query.Node) bool {
	names := fn.GetFuncname()
	if len(names) == 0 {
		return false
	}

	if _, ok := datePartFunctions[strings.ToLower(stringValue(names[len(names)-1]))]; !ok {
		return false
	}

	ref := first.GetColumnRef()
	if ref == nil || len(ref.GetFields()) != 1 {
		return false
	}

	_, ok := dateParts[strings.ToLower(stringValue(ref.GetFields()[0]))]

	return ok
}
