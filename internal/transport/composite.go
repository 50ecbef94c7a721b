package transport

import (
	"context"
	"errors"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

// CompositeTransport fans each event out to several transports in order.
type CompositeTransport struct {
	transports        []Transport
	continueOnFailure bool
}

// NewComposite builds a fan-out. With continueOnFailure every transport gets
// the event and failures are joined; otherwise the first failure stops it.
func NewComposite(continueOnFailure bool, transports ...Transport) *CompositeTransport {
	return &CompositeTransport{transports: transports, continueOnFailure: continueOnFailure}
}

func (t *CompositeTransport) Emit(ctx context.Context, event *lineage.RunEvent) error {
	var errs []error

	for _, tr := range t.transports {
		if err := tr.Emit(ctx, event); err != nil {
			if !t.continueOnFailure {
				return err
			}

			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Close closes every child transport.
func (t *CompositeTransport) Close() error {
	var errs []error

	for _, tr := range t.transports {
		if err := Close(tr); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
