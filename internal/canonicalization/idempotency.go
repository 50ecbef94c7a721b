package canonicalization

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// keySeparator keeps ("ab","c") and ("a","bc") from hashing to the same key.
const keySeparator = "\x1f"

// IdempotencyKey returns the SHA-256 hex digest identifying one lifecycle
// transition of one run: the same event delivered twice yields the same key,
// while START and COMPLETE of the same run yield different keys.
//
// eventTime must already be formatted (RFC 3339 with nanoseconds) so that the
// key does not depend on time.Time's monotonic clock reading.
func IdempotencyKey(producer, jobNamespace, jobName, runID, eventTime, eventType string) string {
	input := strings.Join([]string{
		producer,
		NormalizeNamespace(jobNamespace),
		jobName,
		runID,
		eventTime,
		eventType,
	}, keySeparator)

	sum := sha256.Sum256([]byte(input))

	return hex.EncodeToString(sum[:])
}
