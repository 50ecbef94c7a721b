package sqllineage

import (
	"regexp"
	"strings"
)

type rewrite struct {
	pattern *regexp.Regexp
	replace string
}

// snowflakeRewrites map Snowflake DDL onto the nearest PostgreSQL form. Only
// statement heads are touched; the query bodies parse as they are.
var snowflakeRewrites = []rewrite{
	{
		pattern: regexp.MustCompile(`(?i)\bCREATE\s+OR\s+REPLACE\s+(?:(?:LOCAL|GLOBAL)\s+)?(?:TRANSIENT\s+|TEMPORARY\s+|TEMP\s+|VOLATILE\s+)?TABLE\b`),
		replace: "CREATE TABLE",
	},
	{
		pattern: regexp.MustCompile(`(?i)\bCREATE\s+(?:TRANSIENT|VOLATILE)\s+TABLE\b`),
		replace: "CREATE TABLE",
	},
	{
		pattern: regexp.MustCompile(`(?i)\bCREATE\s+OR\s+REPLACE\s+SECURE\s+(?:MATERIALIZED\s+)?VIEW\b`),
		replace: "CREATE OR REPLACE VIEW",
	},
	{
		pattern: regexp.MustCompile(`(?i)\bCREATE\s+SECURE\s+VIEW\b`),
		replace: "CREATE VIEW",
	},
}

// normalize rewrites sql for the PostgreSQL parser.
func (d Dialect) normalize(sql string) string {
	if !strings.EqualFold(string(d), string(DialectSnowflake)) {
		return sql
	}

	for _, r := range snowflakeRewrites {
		sql = r.pattern.ReplaceAllString(sql, r.replace)
	}

	return sql
}

// datePartFunctions take an unquoted date part as first argument
// (DATE_TRUNC(DAY, ts)); that argument is a keyword, not a column.
var datePartFunctions = map[string]struct{}{
	"date_trunc":    {},
	"date_part":     {},
	"dateadd":       {},
	"datediff":      {},
	"timeadd":       {},
	"timediff":      {},
	"timestampadd":  {},
	"timestampdiff": {},
	"time_slice":    {},
	"extract":       {},
}

var dateParts = map[string]struct{}{
	"year": {}, "quarter": {}, "month": {}, "week": {}, "day": {},
	"hour": {}, "minute": {}, "second": {}, "millisecond": {}, "microsecond": {},
	"dayofweek": {}, "dayofyear": {}, "epoch": {},
	"y": {}, "mm": {}, "d": {}, "dd": {}, "h": {}, "hh": {}, "mi": {}, "s": {}, "ss": {},
}
