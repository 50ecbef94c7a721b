package sqllineage

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// SplitStatements splits a script on top-level semicolons. It only scans
// tokens, so statements the parser would reject are still returned whole.
// Empty statements and statements holding only comments are dropped.
func SplitStatements(script string) ([]string, error) {
	if strings.TrimSpace(script) == "" {
		return nil, nil
	}

	parts, err := pg_query.SplitWithScanner(script, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	statements := make([]string, 0, len(parts))

	for _, p := range parts {
		if isBlank(p) {
			continue
		}

		statements = append(statements, p)
	}

	return statements, nil
}

// isBlank reports whether s has nothing but whitespace and "--" comments.
func isBlank(s string) bool {
	for line := range strings.Lines(s) {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}

	return true
}
