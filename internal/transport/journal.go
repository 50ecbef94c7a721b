package transport

import (
	"context"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

// Journal is the storage contract JournalTransport writes through;
// storage.EventJournal and storage.MemoryJournal satisfy it.
type Journal interface {
	StoreEvent(ctx context.Context, event *lineage.RunEvent) (stored, duplicate bool, err error)
}

// JournalTransport stores events directly, bypassing HTTP. A redelivered event
// is a duplicate in the journal and counts as delivered.
type JournalTransport struct {
	journal Journal
	closer  func() error
}

// NewJournal wraps j. closer, if non-nil, runs on Close.
func NewJournal(j Journal, closer func() error) *JournalTransport {
	return &JournalTransport{journal: j, closer: closer}
}

func (t *JournalTransport) Emit(ctx context.Context, event *lineage.RunEvent) error {
	if _, _, err := t.journal.StoreEvent(ctx, event); err != nil {
		return newError(TypeJournal, ctx.Err() == nil, err)
	}

	return nil
}

// Close releases the journal's resources.
func (t *JournalTransport) Close() error {
	if t.closer == nil {
		return nil
	}

	return t.closer()
}
