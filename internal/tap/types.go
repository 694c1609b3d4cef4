package tap

import (
	"net/url"
	"time"
)

// Record is one semi-structured entity returned by the API (a project, an
// audit, an event, ...). Numeric values decode as json.Number.
type Record map[string]any

// Bookmark pairs a resource with the extraction timestamp captured when its
// sync started. Sync functions return one per resource they emitted.
type Bookmark struct {
	Resource    string
	ExtractedAt time.Time
}

// FetchRequest captures everything needed to issue one API GET.
type FetchRequest struct {
	// Resource names the stream the request belongs to; used for metrics and logs.
	Resource string
	// Path is relative to the API base URL, e.g. "projects/12/audits".
	Path string
	// Query holds the query string parameters. It is never mutated by fetchers.
	Query url.Values
}

// WithQuery returns a copy of the request whose query is the receiver's query
// merged with extra. Values in extra replace existing keys.
func (r FetchRequest) WithQuery(extra url.Values) FetchRequest {
	merged := make(url.Values, len(r.Query)+len(extra))
	for k, v := range r.Query {
		merged[k] = append([]string(nil), v...)
	}
	for k, v := range extra {
		merged[k] = append([]string(nil), v...)
	}
	r.Query = merged
	return r
}

// Schema is a stream's JSON schema as announced to the downstream pipeline.
type Schema map[string]any
