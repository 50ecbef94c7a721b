package transport

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

// ConsoleTransport prints each event as indented JSON.
type ConsoleTransport struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole writes to w; nil means stdout.
func NewConsole(w io.Writer) *ConsoleTransport {
	if w == nil {
		w = os.Stdout
	}

	return &ConsoleTransport{w: w}
}

func (t *ConsoleTransport) Emit(_ context.Context, event *lineage.RunEvent) error {
	data, err := encode(event, true)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.w.Write(append(data, '\n')); err != nil {
		return newError(TypeConsole, false, err)
	}

	return nil
}
