// Package memory contains an in-memory tap.Sink for tests and dry runs.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/JakeFAU/tap-acuite/internal/sink/singer"
	"github.com/JakeFAU/tap-acuite/internal/state"
	"github.com/JakeFAU/tap-acuite/internal/tap"
)

// Sink stores every message it receives for inspection.
type Sink struct {
	mu       sync.RWMutex
	messages []singer.Message
	err      error
}

var _ tap.Sink = (*Sink)(nil)

// New returns a memory Sink.
func New() *Sink {
	return &Sink{}
}

// FailWith makes every later write return err.
func (s *Sink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// WriteSchema implements tap.Sink.
func (s *Sink) WriteSchema(_ context.Context, stream string, schema tap.Schema, keyProperties []string) error {
	return s.append(singer.SchemaMessage(stream, schema, append([]string(nil), keyProperties...)))
}

// WriteRecord implements tap.Sink. The record map is copied.
func (s *Sink) WriteRecord(_ context.Context, stream string, record tap.Record, extractedAt time.Time) error {
	return s.append(singer.RecordMessage(stream, maps.Clone(record), extractedAt))
}

// WriteState implements tap.Sink.
func (s *Sink) WriteState(_ context.Context, st state.State) error {
	return s.append(singer.StateMessage(maps.Clone(st)))
}

func (s *Sink) append(msg singer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

// Messages returns every recorded message in arrival order.
func (s *Sink) Messages() []singer.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]singer.Message(nil), s.messages...)
}

// Records returns the records written to stream in arrival order.
func (s *Sink) Records(stream string) []tap.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tap.Record
	for _, msg := range s.messages {
		if msg.Type == singer.TypeRecord && msg.Stream == stream {
			out = append(out, msg.Record)
		}
	}
	return out
}

// Schemas returns the streams whose schema was announced, in order.
func (s *Sink) Schemas() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, msg := range s.messages {
		if msg.Type == singer.TypeSchema {
			out = append(out, msg.Stream)
		}
	}
	return out
}

// States returns every state written.
func (s *Sink) States() []state.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []state.State
	for _, msg := range s.messages {
		if st, ok := msg.Value.(state.State); ok && msg.Type == singer.TypeState {
			out = append(out, st)
		}
	}
	return out
}
