package canonicalization

import "strings"

// defaultPorts are stripped from namespaces so "db:5432" and "db" compare equal.
var defaultPorts = map[string]string{
	"postgresql": ":5432",
	"mysql":      ":3306",
	"mongodb":    ":27017",
	"redis":      ":6379",
	"kafka":      ":9092",
}

// NormalizeNamespace canonicalizes a dataset or job namespace.
//
// Rules:
//   - scheme is lowercased; postgres -> postgresql, s3a/s3n -> s3
//   - the scheme's default port is removed (postgresql://db:5432 -> postgresql://db)
//   - namespaces without "://" (bigquery, python_client) pass through unchanged
//
// The URL is split by hand instead of going through net/url so masked
// credentials and other raw characters are not percent-encoded.
func NormalizeNamespace(namespace string) string {
	scheme, remainder, ok := strings.Cut(namespace, schemeSeparator)
	if !ok {
		return namespace
	}

	scheme = normalizeScheme(scheme)

	return scheme + schemeSeparator + removeDefaultPort(scheme, remainder)
}

func normalizeScheme(scheme string) string {
	switch s := strings.ToLower(scheme); s {
	case "postgres":
		return "postgresql"
	case "s3a", "s3n":
		return "s3"
	default:
		return s
	}
}

// removeDefaultPort handles "db:5432", "db:5432/path", "db:5432?opts" and "user@db:5432".
func removeDefaultPort(scheme, remainder string) string {
	port, ok := defaultPorts[scheme]
	if !ok {
		return remainder
	}

	for _, next := range []string{"/", "?"} {
		if strings.Contains(remainder, port+next) {
			return strings.Replace(remainder, port+next, next, 1)
		}
	}

	return strings.TrimSuffix(remainder, port)
}
