package fetcher

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 64 << 10

// HTTPError reports a non-2xx response. Body holds at most 64KB of the
// response payload.
type HTTPError struct {
	Resource   string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("%s: unexpected status %d from %s: %s", e.Resource, e.StatusCode, e.URL, body)
}

func newHTTPError(resource, target string, resp *http.Response) *HTTPError {
	return &HTTPError{
		Resource:   resource,
		URL:        target,
		StatusCode: resp.StatusCode,
		Body:       readBodyForError(resp.Body),
	}
}

func readBodyForError(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return fmt.Sprintf("<unreadable body: %v>", err)
	}
	return strings.TrimSpace(string(data))
}
