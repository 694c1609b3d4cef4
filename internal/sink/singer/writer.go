package singer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/JakeFAU/tap-acuite/internal/state"
	"github.com/JakeFAU/tap-acuite/internal/tap"
)

// Writer writes Singer messages as JSON lines. Lines from concurrent callers
// never interleave. STATE messages flush the buffer.
type Writer struct {
	mu  sync.Mutex
	buf *bufio.Writer
}

var _ tap.Sink = (*Writer)(nil)

// NewWriter wraps w, typically os.Stdout.
func NewWriter(w io.Writer) *Writer {
	return &Writer{buf: bufio.NewWriterSize(w, 64<<10)}
}

// WriteSchema implements tap.Sink.
func (w *Writer) WriteSchema(_ context.Context, stream string, schema tap.Schema, keyProperties []string) error {
	return w.write(SchemaMessage(stream, schema, keyProperties), false)
}

// WriteRecord implements tap.Sink.
func (w *Writer) WriteRecord(_ context.Context, stream string, record tap.Record, extractedAt time.Time) error {
	return w.write(RecordMessage(stream, record, extractedAt), false)
}

// WriteState implements tap.Sink.
func (w *Writer) WriteState(_ context.Context, st state.State) error {
	return w.write(StateMessage(st), true)
}

// Flush writes any buffered lines.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush singer output: %w", err)
	}
	return nil
}

func (w *Writer) write(msg Message, flush bool) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.buf.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write %s message: %w", msg.Type, err)
	}
	if flush {
		if err := w.buf.Flush(); err != nil {
			return fmt.Errorf("flush singer output: %w", err)
		}
	}
	return nil
}
