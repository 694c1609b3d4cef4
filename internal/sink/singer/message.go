// Package singer encodes tap output as Singer messages: one JSON object per
// line, typed SCHEMA, RECORD or STATE.
package singer

import (
	"time"

	"github.com/JakeFAU/tap-acuite/internal/state"
	"github.com/JakeFAU/tap-acuite/internal/tap"
)

// Message types.
const (
	TypeSchema = "SCHEMA"
	TypeRecord = "RECORD"
	TypeState  = "STATE"
)

// TimeExtractedLayout renders time_extracted with microsecond precision.
const TimeExtractedLayout = "2006-01-02T15:04:05.000000Z07:00"

// Message is one Singer message. Only the fields relevant to Type are set.
type Message struct {
	Type          string     `json:"type"`
	Stream        string     `json:"stream,omitempty"`
	Schema        tap.Schema `json:"schema,omitempty"`
	KeyProperties []string   `json:"key_properties,omitempty"`
	Record        tap.Record `json:"record,omitempty"`
	TimeExtracted string     `json:"time_extracted,omitempty"`
	// Value holds the state.State of a STATE message. It is typed any so an
	// empty state still encodes as {}.
	Value any `json:"value,omitempty"`
}

// SchemaMessage announces a stream's schema and primary key.
func SchemaMessage(stream string, schema tap.Schema, keyProperties []string) Message {
	if keyProperties == nil {
		keyProperties = []string{}
	}
	return Message{Type: TypeSchema, Stream: stream, Schema: schema, KeyProperties: keyProperties}
}

// RecordMessage carries one record.
func RecordMessage(stream string, record tap.Record, extractedAt time.Time) Message {
	msg := Message{Type: TypeRecord, Stream: stream, Record: record}
	if !extractedAt.IsZero() {
		msg.TimeExtracted = extractedAt.UTC().Format(TimeExtractedLayout)
	}
	return msg
}

// StateMessage carries the bookmark state.
func StateMessage(st state.State) Message {
	if st == nil {
		st = state.State{}
	}
	return Message{Type: TypeState, Value: st}
}
