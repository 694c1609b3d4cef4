package engine

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tap-acuite/internal/clock/system"
	"github.com/JakeFAU/tap-acuite/internal/paginator"
	"github.com/JakeFAU/tap-acuite/internal/progress"
	"github.com/JakeFAU/tap-acuite/internal/state"
	"github.com/JakeFAU/tap-acuite/internal/tap"
)

// Config tunes extraction. Zero values take the defaults noted per field.
type Config struct {
	PageSize           int   // 1000
	SlowPageSize       int   // 100
	TrimLimit          int   // 750
	HSEventTrimLimit   int   // 500
	DetailConcurrency  int   // 32
	LocationCountryIDs []int // [1, 2]
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 1000
	}
	if c.SlowPageSize <= 0 {
		c.SlowPageSize = 100
	}
	if c.TrimLimit <= 0 {
		c.TrimLimit = 750
	}
	if c.HSEventTrimLimit <= 0 {
		c.HSEventTrimLimit = 500
	}
	if c.DetailConcurrency <= 0 {
		c.DetailConcurrency = 32
	}
	if len(c.LocationCountryIDs) == 0 {
		c.LocationCountryIDs = []int{1, 2}
	}
	return c
}

// Deps are the collaborators an Engine needs.
type Deps struct {
	Fetcher tap.Fetcher
	Sink    tap.Sink
	Clock   tap.Clock
	Emitter progress.Emitter
	Logger  *zap.Logger
}

// Request scopes one top-level sync call.
type Request struct {
	Selection Selection
	State     state.State
}

// SyncFunc syncs one top-level stream and its sub-streams.
type SyncFunc func(ctx context.Context, req Request) ([]tap.Bookmark, error)

// Engine holds the stream graph and the sync functions for it.
type Engine struct {
	cfg     Config
	graph   *Graph
	pages   *paginator.Paginator
	fetcher tap.Fetcher
	sink    tap.Sink
	clock   tap.Clock
	emitter progress.Emitter
	logger  *zap.Logger
}

// New builds an Engine over the default Acuite resources.
func New(deps Deps, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	graph, err := NewGraph(DefaultResources(cfg))
	if err != nil {
		return nil, fmt.Errorf("build stream graph: %w", err)
	}
	if deps.Fetcher == nil || deps.Sink == nil {
		return nil, fmt.Errorf("engine: fetcher and sink are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = system.New()
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = progress.Nop{}
	}
	return &Engine{
		cfg:     cfg,
		graph:   graph,
		pages:   paginator.New(deps.Fetcher, paginator.WithLogger(logger)),
		fetcher: deps.Fetcher,
		sink:    deps.Sink,
		clock:   clock,
		emitter: emitter,
		logger:  logger,
	}, nil
}

// Graph returns the stream graph.
func (e *Engine) Graph() *Graph {
	return e.graph
}

// SyncFuncs returns the registry of top-level sync functions.
func (e *Engine) SyncFuncs() map[string]SyncFunc {
	return map[string]SyncFunc{
		StreamCompanies: e.syncCompanies,
		StreamLocations: e.syncLocations,
		StreamPeople:    e.syncPeople,
		StreamProjects:  e.syncProjects,
	}
}

// call runs body inside the scope of one top-level sync call and turns a
// successful run into bookmarks.
func (e *Engine) call(ctx context.Context, root string, req Request, body func(context.Context, *run) error) ([]tap.Bookmark, error) {
	if !req.Selection.Needs(root) {
		return nil, nil
	}
	r := &run{
		engine:      e,
		root:        root,
		sel:         req.Selection,
		st:          req.State,
		extractedAt: e.clock.Now().UTC(),
		counts:      make(map[string]int64),
		seen:        make(map[string]*seenSet),
		logger:      e.logger.With(zap.String("stream", root)),
	}
	for _, name := range r.emitted() {
		e.emitter.Emit(progress.Event{TS: r.extractedAt, Stage: progress.StageStreamStart, Stream: name})
	}
	start := time.Now()
	if err := body(ctx, r); err != nil {
		return nil, fmt.Errorf("sync %s: %w", root, err)
	}
	r.logger.Info("stream synced", zap.Duration("dur", time.Since(start)), zap.Any("records", r.snapshot()))

	now := e.clock.Now().UTC()
	counts := r.snapshot()
	var bookmarks []tap.Bookmark
	for _, name := range r.emitted() {
		bookmarks = append(bookmarks, tap.Bookmark{Resource: name, ExtractedAt: r.extractedAt})
		e.emitter.Emit(progress.Event{TS: now, Stage: progress.StageStreamDone, Stream: name, Records: counts[name]})
	}
	return bookmarks, nil
}

// run is the mutable scope of one top-level sync call. Its goroutines share
// the seen-sets and record counters.
type run struct {
	engine      *Engine
	root        string
	sel         Selection
	st          state.State
	extractedAt time.Time
	logger      *zap.Logger

	mu     sync.Mutex
	counts map[string]int64
	seen   map[string]*seenSet
}

// emitted lists the selected streams of this call's tree, parent first.
func (r *run) emitted() []string {
	var out []string
	for _, name := range r.engine.graph.Tree(r.root) {
		if r.sel.Selected(name) {
			out = append(out, name)
		}
	}
	return out
}

// emit writes rec to stream when the stream is selected.
func (r *run) emit(ctx context.Context, stream string, rec tap.Record) error {
	if !r.sel.Selected(stream) {
		return nil
	}
	if err := r.engine.sink.WriteRecord(ctx, stream, rec, r.extractedAt); err != nil {
		return fmt.Errorf("write %s record: %w", stream, err)
	}
	r.mu.Lock()
	r.counts[stream]++
	r.mu.Unlock()
	return nil
}

// emitOnce emits rec only the first time its Id is seen for stream during
// this call. Records without an Id cannot be deduplicated and are dropped.
func (r *run) emitOnce(ctx context.Context, stream string, rec tap.Record) error {
	if !r.sel.Selected(stream) {
		return nil
	}
	id, ok := tap.IDString(rec["Id"])
	if !ok {
		r.logger.Debug("dropping record without id", zap.String("child", stream))
		return nil
	}
	if !r.seenSet(stream).firstSeen(id) {
		return nil
	}
	return r.emit(ctx, stream, rec)
}

func (r *run) seenSet(stream string) *seenSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.seen[stream]
	if !ok {
		s = newSeenSet()
		r.seen[stream] = s
	}
	return s
}

func (r *run) snapshot() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.counts)
}

// request builds the list request for res, expanding path placeholders and
// adding the server-side bookmark filter where the endpoint supports it.
func (r *run) request(res Resource, vars map[string]string) tap.FetchRequest {
	req := tap.FetchRequest{
		Resource: res.Name,
		Path:     expandPath(res.Path, vars),
	}
	query := url.Values{}
	for k, v := range res.StaticQuery {
		query[k] = append([]string(nil), v...)
	}
	if res.ServerFilter {
		if since, ok := state.GetBookmark(r.st, res.Name); ok {
			query.Set("lastModifiedSince", since)
		}
	}
	if len(query) > 0 {
		req.Query = query
	}
	return req
}

func (r *run) pageSize(res Resource) int {
	if res.Slow {
		return r.engine.cfg.SlowPageSize
	}
	return r.engine.cfg.PageSize
}

func (r *run) resource(name string) Resource {
	res, _ := r.engine.graph.Resource(name)
	return res
}

// apply runs the descriptor's transform, if any, followed by extra.
func apply(res Resource, rec tap.Record, extra ...Transformer) {
	if res.Transform != nil {
		res.Transform.Apply(rec)
	}
	Chain(extra).Apply(rec)
}
