// Package canonicalization builds canonical identifiers for lineage entities.
//
// Dataset identity in OpenLineage is the (namespace, name) pair. Tools spell the
// same namespace differently (postgres:// vs postgresql://, s3a:// vs s3://,
// with or without the default port), so identifiers are built from a normalized
// namespace. Use DatasetURN for both writing and looking up datasets; never
// concatenate the parts by hand.
//
// Spec: https://openlineage.io/docs/spec/naming#dataset-naming
package canonicalization

import (
	"errors"
	"strings"
)

// Sentinel errors for URN parsing.
var (
	ErrURNMissingDelimiter = errors.New("invalid URN format: missing '/' delimiter")
	ErrURNEmptyNamespace   = errors.New("invalid URN format: empty namespace")
	ErrURNEmptyName        = errors.New("invalid URN format: empty name")
)

const schemeSeparator = "://"

// DatasetURN returns "{normalized namespace}/{name}".
//
// A leading slash in name is kept, which yields the double slash OpenLineage
// uses for object-store roots:
//
//	DatasetURN("postgres://prod-db:5432", "analytics.public.orders") // "postgresql://prod-db/analytics.public.orders"
//	DatasetURN("s3a://bucket", "/file.csv")                          // "s3://bucket//file.csv"
//	DatasetURN("snowflake://", "tmp_demo.user_counts")               // "snowflake:///tmp_demo.user_counts"
func DatasetURN(namespace, name string) string {
	return NormalizeNamespace(namespace) + "/" + name
}

// ParseDatasetURN splits a URN produced by DatasetURN back into namespace and name.
// For namespaces with a scheme, the delimiter is the first "/" after "://".
func ParseDatasetURN(urn string) (string, string, error) {
	urn = strings.TrimSpace(urn)

	searchFrom := 0
	if idx := strings.Index(urn, schemeSeparator); idx != -1 {
		searchFrom = idx + len(schemeSeparator)
	}

	rel := strings.Index(urn[searchFrom:], "/")
	if rel == -1 {
		return "", "", ErrURNMissingDelimiter
	}

	delim := searchFrom + rel
	namespace, name := urn[:delim], urn[delim+1:]

	if namespace == "" {
		return "", "", ErrURNEmptyNamespace
	}

	if name == "" || name == "/" {
		return "", "", ErrURNEmptyName
	}

	return namespace, name, nil
}
