package engine

import (
	"github.com/goccy/go-json"

	"github.com/JakeFAU/tap-acuite/internal/tap"
)

// Transformer mutates a record in place before it is emitted.
type Transformer interface {
	Apply(rec tap.Record)
}

// ForeignKey sets Field to Value, linking a child record to its parent.
type ForeignKey struct {
	Field string
	Value any
}

// Apply implements Transformer.
func (f ForeignKey) Apply(rec tap.Record) {
	rec[f.Field] = f.Value
}

// Trimmer caps string Fields at Limit runes. With Encode set the (capped)
// value is replaced by its JSON string encoding so newlines and quotes reach
// the warehouse escaped. Non-string and absent fields are left alone.
type Trimmer struct {
	Limit  int
	Fields []string
	Encode bool
}

// Apply implements Transformer.
func (t Trimmer) Apply(rec tap.Record) {
	for _, field := range t.Fields {
		s, ok := rec[field].(string)
		if !ok {
			continue
		}
		s = truncateRunes(s, t.Limit)
		if t.Encode {
			encoded, err := json.Marshal(s)
			if err != nil {
				continue
			}
			rec[field] = string(encoded)
			continue
		}
		rec[field] = s
	}
}

// Chain applies transformers in order, skipping nil entries.
type Chain []Transformer

// Apply implements Transformer.
func (c Chain) Apply(rec tap.Record) {
	for _, t := range c {
		if t != nil {
			t.Apply(rec)
		}
	}
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
