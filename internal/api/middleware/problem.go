// Package middleware provides HTTP middleware components for the lineage collector.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ContentTypeProblemJSON is the RFC 7807 media type.
const ContentTypeProblemJSON = "application/problem+json"

// ProblemTypeURI returns the problem "type" member for an HTTP status.
func ProblemTypeURI(status int) string {
	return fmt.Sprintf("https://correlator.io/problems/%d", status)
}

// writeProblem writes an RFC 7807 body without importing the api package.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, detail string) error {
	problem := map[string]any{
		"type":          ProblemTypeURI(status),
		"title":         http.StatusText(status),
		"status":        status,
		"detail":        detail,
		"instance":      r.URL.Path,
		"correlationId": GetCorrelationID(r.Context()),
	}

	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(problem)
}
