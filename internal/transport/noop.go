package transport

import (
	"context"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

// NoopTransport drops every event. Selected by OPENLINEAGE_DISABLED=true.
type NoopTransport struct{}

func (NoopTransport) Emit(context.Context, *lineage.RunEvent) error {
	return nil
}
