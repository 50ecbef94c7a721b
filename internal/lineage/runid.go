package lineage

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewRunID() string
}

// UUIDv7Generator produces time-ordered UUIDv7 run ids. It is the default.
type UUIDv7Generator struct{}

// NewRunID implements IDGenerator.
func (UUIDv7Generator) NewRunID() string {
	return NewRunID()
}

// NewRunID returns a new UUIDv7. Ids sort by creation time, so a backend can
// order runs without trusting producer clocks.
//
// Like uuid.New it panics if the random source fails, which crypto/rand no
// longer reports as an error since Go 1.24.
func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator produces Prefix+"1", Prefix+"2", ... Safe for concurrent use.
// Used where output must be reproducible (tests, --deterministic).
type SequenceGenerator struct {
	Prefix string
	next   atomic.Int64
}

// NewSequenceGenerator returns a SequenceGenerator starting at 1.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{Prefix: prefix}
}

// NewRunID implements IDGenerator.
func (g *SequenceGenerator) NewRunID() string {
	return g.Prefix + strconv.FormatInt(g.next.Add(1), 10)
}
