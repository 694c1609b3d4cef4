package engine

import (
	"context"
	"maps"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/tap-acuite/internal/tap"
)

// syncHSEvents lists a project's health and safety events, then fetches,
// trims and emits each event's detail as soon as it arrives. Details are
// never collected, which keeps memory flat for projects with many events.
func (r *run) syncHSEvents(ctx context.Context, project projectRef) error {
	res := r.resource(StreamHSEvents)
	ids, err := r.listIDs(ctx, r.request(res, project.vars()))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.engine.cfg.DetailConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			event, err := r.fetchDetail(gctx, res, project.vars(), id)
			if err != nil {
				return err
			}
			apply(res, event, project.foreignKey())
			if err := r.emit(gctx, StreamHSEvents, event); err != nil {
				return err
			}
			return r.emitCategories(gctx, event)
		})
	}
	return g.Wait()
}

// emitCategories emits the event's SubCategory.ParentCategory and SubCategory
// the first time each is seen in this call.
func (r *run) emitCategories(ctx context.Context, event tap.Record) error {
	sub, ok := asRecord(event["SubCategory"])
	if !ok {
		return nil
	}
	if parent, ok := asRecord(sub["ParentCategory"]); ok {
		if err := r.emitOnce(ctx, StreamCategories, maps.Clone(parent)); err != nil {
			return err
		}
	}
	return r.emitOnce(ctx, StreamSubcategories, maps.Clone(sub))
}
