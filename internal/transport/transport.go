// Package transport delivers OpenLineage run events to a backend.
//
// Every transport implements Transport. Failures are reported as *Error, which
// names the transport, carries the HTTP status when there is one and says
// whether the same event may be sent again. The emission path never retries on
// its own; wrap a transport with NewRetry to opt in.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

// Transport names as used in openlineage.yml.
const (
	TypeHTTP      = "http"
	TypeFile      = "file"
	TypeConsole   = "console"
	TypeKafka     = "kafka"
	TypeJournal   = "journal"
	TypeComposite = "composite"
	TypeNoop      = "noop"
)

// Transport delivers one event.
type Transport interface {
	Emit(ctx context.Context, event *lineage.RunEvent) error
}

// Error is a delivery failure.
type Error struct {
	Transport  string
	StatusCode int // HTTP status, 0 when not applicable
	Retriable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s transport: status %d: %v", e.Transport, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("%s transport: %v", e.Transport, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetriable reports whether err is a *Error marked retriable.
func IsRetriable(err error) bool {
	var te *Error

	return errors.As(err, &te) && te.Retriable
}

// Close closes t if it holds resources.
func Close(t Transport) error {
	if c, ok := t.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

func newError(name string, retriable bool, err error) *Error {
	return &Error{Transport: name, Retriable: retriable, Err: err}
}

// encode marshals the event, passing a *lineage.SerializationError through
// unchanged so callers can tell a bad payload from a delivery failure.
func encode(event *lineage.RunEvent, indent bool) ([]byte, error) {
	if indent {
		return lineage.MarshalIndent(event)
	}

	return lineage.Marshal(event)
}
