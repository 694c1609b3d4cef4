// Package catalog loads Singer catalogs, answers which streams are selected,
// and builds the discovery catalog from the embedded stream schemas.
package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/JakeFAU/tap-acuite/internal/tap"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// KeyProperty is the primary key of every stream.
const KeyProperty = "Id"

// Catalog lists the streams a tap can emit and which of them are selected.
type Catalog struct {
	Streams []Stream `json:"streams"`
}

// Stream is one catalog entry.
type Stream struct {
	Stream        string     `json:"stream"`
	TapStreamID   string     `json:"tap_stream_id"`
	Schema        tap.Schema `json:"schema"`
	Metadata      []Metadata `json:"metadata"`
	KeyProperties []string   `json:"key_properties"`
}

// Metadata attaches properties to a breadcrumb. The empty breadcrumb is the
// stream itself; ["properties", name] is one field.
type Metadata struct {
	Breadcrumb []string       `json:"breadcrumb"`
	Metadata   map[string]any `json:"metadata"`
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	for i, s := range cat.Streams {
		if s.TapStreamID == "" {
			return nil, fmt.Errorf("decode catalog: stream %d has no tap_stream_id", i)
		}
	}
	return &cat, nil
}

// Selected returns the IDs of selected streams in catalog order. A stream is
// selected when its schema carries "selected": true or its root metadata does.
func (c *Catalog) Selected() []string {
	if c == nil {
		return nil
	}
	var out []string
	for _, s := range c.Streams {
		if s.selected() {
			out = append(out, s.TapStreamID)
		}
	}
	return out
}

func (s Stream) selected() bool {
	if v, _ := s.Schema["selected"].(bool); v {
		return true
	}
	for _, m := range s.Metadata {
		if len(m.Breadcrumb) != 0 {
			continue
		}
		if v, _ := m.Metadata["selected"].(bool); v {
			return true
		}
	}
	return false
}

// Stream looks up a stream by tap_stream_id.
func (c *Catalog) Stream(id string) (Stream, bool) {
	if c == nil {
		return Stream{}, false
	}
	for _, s := range c.Streams {
		if s.TapStreamID == id {
			return s, true
		}
	}
	return Stream{}, false
}

// Discover builds the catalog from the embedded schemas, one stream per file
// in file name order. Nothing is selected.
func Discover() (*Catalog, error) {
	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	cat := &Catalog{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".json" {
			continue
		}
		data, err := schemaFS.ReadFile(path.Join("schemas", name))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		var schema tap.Schema
		if err := json.Unmarshal(data, &schema); err != nil {
			return nil, fmt.Errorf("decode schema %s: %w", name, err)
		}
		id := strings.TrimSuffix(name, ".json")
		cat.Streams = append(cat.Streams, Stream{
			Stream:        id,
			TapStreamID:   id,
			Schema:        schema,
			Metadata:      metadataFor(schema),
			KeyProperties: []string{KeyProperty},
		})
	}
	return cat, nil
}

func metadataFor(schema tap.Schema) []Metadata {
	out := []Metadata{{
		Breadcrumb: []string{},
		Metadata:   map[string]any{"table-key-properties": []string{KeyProperty}},
	}}
	props, _ := schema["properties"].(map[string]any)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		inclusion := "available"
		if name == KeyProperty {
			inclusion = "automatic"
		}
		out = append(out, Metadata{
			Breadcrumb: []string{"properties", name},
			Metadata:   map[string]any{"inclusion": inclusion},
		})
	}
	return out
}

// Marshal renders the catalog as indented JSON.
func (c *Catalog) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	return data, nil
}
