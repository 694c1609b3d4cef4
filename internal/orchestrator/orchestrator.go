// Package orchestrator drives one tap run: it announces schemas, runs every
// needed top-level sync concurrently, folds the returned bookmarks into state
// and persists that state once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/tap-acuite/internal/catalog"
	"github.com/JakeFAU/tap-acuite/internal/clock/system"
	"github.com/JakeFAU/tap-acuite/internal/engine"
	"github.com/JakeFAU/tap-acuite/internal/progress"
	"github.com/JakeFAU/tap-acuite/internal/state"
	"github.com/JakeFAU/tap-acuite/internal/tap"
)

// Deps wires the orchestrator. Store is optional; without it state is only
// emitted through the sink.
type Deps struct {
	Engine  *engine.Engine
	Sink    tap.Sink
	Store   tap.StateStore
	Clock   tap.Clock
	Emitter progress.Emitter
	Logger  *zap.Logger
}

// Orchestrator runs syncs.
type Orchestrator struct {
	engine  *engine.Engine
	sink    tap.Sink
	store   tap.StateStore
	clock   tap.Clock
	emitter progress.Emitter
	logger  *zap.Logger
}

// New validates deps and returns an Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Engine == nil {
		return nil, errors.New("orchestrator: engine is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("orchestrator: sink is required")
	}
	o := &Orchestrator{
		engine:  deps.Engine,
		sink:    deps.Sink,
		store:   deps.Store,
		clock:   deps.Clock,
		emitter: deps.Emitter,
		logger:  deps.Logger,
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	if o.emitter == nil {
		o.emitter = progress.Nop{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o, nil
}

// Run syncs the streams selected in cat starting from st and returns the new
// state. On failure nothing is written or saved and st remains authoritative.
func (o *Orchestrator) Run(ctx context.Context, cat *catalog.Catalog, st state.State) (state.State, error) {
	start := o.clock.Now()
	o.emitter.Emit(progress.Event{TS: start, Stage: progress.StageRunStart})

	next, err := o.run(ctx, cat, st)
	dur := o.clock.Now().Sub(start)
	if err != nil {
		o.emitter.Emit(progress.Event{TS: o.clock.Now(), Stage: progress.StageRunError, Dur: dur, Note: err.Error()})
		return nil, err
	}
	o.emitter.Emit(progress.Event{TS: o.clock.Now(), Stage: progress.StageRunDone, Dur: dur})
	o.logger.Info("sync run complete", zap.Duration("dur", dur), zap.Int("bookmarks", len(next)))
	return next, nil
}

func (o *Orchestrator) run(ctx context.Context, cat *catalog.Catalog, st state.State) (state.State, error) {
	graph := o.engine.Graph()
	sel := graph.Select(cat.Selected()...)
	if sel.Empty() {
		o.logger.Warn("no streams selected")
	}

	funcs := o.engine.SyncFuncs()
	var tops []string
	for _, top := range graph.TopLevel() {
		if _, ok := funcs[top]; !ok || !sel.Needs(top) {
			continue
		}
		if err := o.writeSchemas(ctx, cat, graph.Tree(top), sel); err != nil {
			return nil, err
		}
		tops = append(tops, top)
	}
	o.logger.Info("starting sync", zap.Strings("selected", sel.Names()), zap.Strings("top_level", tops))

	results := make([][]tap.Bookmark, len(tops))
	g, gctx := errgroup.WithContext(ctx)
	for i, top := range tops {
		g.Go(func() error {
			bookmarks, err := funcs[top](gctx, engine.Request{Selection: sel, State: st})
			if err != nil {
				return err
			}
			results[i] = bookmarks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("run sync: %w", err)
	}

	next := st
	if next == nil {
		next = state.State{}
	}
	for _, bookmarks := range results {
		for _, b := range bookmarks {
			next = state.WriteBookmark(next, b.Resource, b.ExtractedAt)
		}
	}
	if err := o.sink.WriteState(ctx, next); err != nil {
		return nil, fmt.Errorf("write state: %w", err)
	}
	if o.store != nil {
		if err := o.store.Save(ctx, next); err != nil {
			return nil, fmt.Errorf("save state: %w", err)
		}
	}
	return next, nil
}

// writeSchemas announces the selected streams of one tree, parent first.
func (o *Orchestrator) writeSchemas(ctx context.Context, cat *catalog.Catalog, tree []string, sel engine.Selection) error {
	for _, name := range tree {
		if !sel.Selected(name) {
			continue
		}
		stream, ok := cat.Stream(name)
		if !ok {
			return fmt.Errorf("write schema: stream %q missing from catalog", name)
		}
		keys := stream.KeyProperties
		if len(keys) == 0 {
			keys = []string{catalog.KeyProperty}
		}
		if err := o.sink.WriteSchema(ctx, name, stream.Schema, keys); err != nil {
			return fmt.Errorf("write %s schema: %w", name, err)
		}
	}
	return nil
}
