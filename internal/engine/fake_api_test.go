package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tap-acuite/internal/clock/system"
	"github.com/JakeFAU/tap-acuite/internal/sink/memory"
	"github.com/JakeFAU/tap-acuite/internal/tap"
)

var testNow = time.Date(2024, 6, 1, 9, 30, 15, 0, time.UTC)

type handler func(req tap.FetchRequest) (any, error)

// fakeAPI routes requests by path. Unknown paths fail the fetch so unexpected
// traffic shows up as a sync error.
type fakeAPI struct {
	mu       sync.Mutex
	routes   map[string]handler
	requests []tap.FetchRequest
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{routes: map[string]handler{}}
}

func (f *fakeAPI) Fetch(_ context.Context, req tap.FetchRequest) ([]byte, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	h, ok := f.routes[req.Path]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unexpected request for %s", req.Path)
	}
	payload, err := h(req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(payload)
}

// paged serves items through the page envelope honouring pageNumber/pageSize.
func (f *fakeAPI) paged(path string, items ...map[string]any) {
	f.routes[path] = func(req tap.FetchRequest) (any, error) {
		return pageOf(req, items)
	}
}

// summary serves an unpaginated {"Data": [...]} list of IDs.
func (f *fakeAPI) summary(path string, ids ...int) {
	rows := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, map[string]any{"Id": id, "Name": "summary"})
	}
	f.routes[path] = func(tap.FetchRequest) (any, error) {
		return map[string]any{"Data": rows}, nil
	}
}

// detail serves {"Data": obj}.
func (f *fakeAPI) detail(path string, obj map[string]any) {
	f.routes[path] = func(tap.FetchRequest) (any, error) {
		return map[string]any{"Data": obj}, nil
	}
}

func (f *fakeAPI) fail(path string, err error) {
	f.routes[path] = func(tap.FetchRequest) (any, error) {
		return nil, err
	}
}

func (f *fakeAPI) Requests(path string) []tap.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tap.FetchRequest
	for _, req := range f.requests {
		if req.Path == path {
			out = append(out, req)
		}
	}
	return out
}

func pageOf(req tap.FetchRequest, items []map[string]any) (any, error) {
	number, err := strconv.Atoi(req.Query.Get("pageNumber"))
	if err != nil {
		return nil, errors.New("missing pageNumber")
	}
	size, err := strconv.Atoi(req.Query.Get("pageSize"))
	if err != nil || size <= 0 {
		return nil, errors.New("missing pageSize")
	}
	pages := max((len(items)+size-1)/size, 1)
	start := min((number-1)*size, len(items))
	end := min(start+size, len(items))
	return map[string]any{
		"Data": map[string]any{
			"Items":         items[start:end],
			"NumberOfPages": pages,
			"CurrentPage":   number,
		},
	}, nil
}

func newTestEngine(t *testing.T, api tap.Fetcher, cfg Config) (*Engine, *memory.Sink) {
	t.Helper()
	sink := memory.New()
	eng, err := New(Deps{
		Fetcher: api,
		Sink:    sink,
		Clock:   system.NewFixed(testNow),
	}, cfg)
	require.NoError(t, err)
	return eng, sink
}

func ids(records []tap.Record) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		id, _ := tap.IDString(rec["Id"])
		out = append(out, id)
	}
	return out
}

func bookmarkNames(bookmarks []tap.Bookmark) []string {
	out := make([]string, 0, len(bookmarks))
	for _, b := range bookmarks {
		out = append(out, b.Resource)
	}
	return out
}
