package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/tap-acuite/internal/tap"
)

// syncProjects emits projects and fans out to audits, rfis and hsevents for
// every project concurrently. Projects are never server-filtered because every
// project ID is needed to address the sub-streams.
func (e *Engine) syncProjects(ctx context.Context, req Request) ([]tap.Bookmark, error) {
	return e.call(ctx, StreamProjects, req, func(ctx context.Context, r *run) error {
		res := r.resource(StreamProjects)
		projects, err := e.pages.Collect(ctx, r.request(res, nil), r.pageSize(res))
		if err != nil {
			return err
		}
		for _, project := range projects {
			apply(res, project)
			if err := r.emit(ctx, res.Name, project); err != nil {
				return err
			}
		}

		children := map[string]func(context.Context, projectRef) error{
			StreamAudits:   r.syncAudits,
			StreamRFIs:     r.syncRFIs,
			StreamHSEvents: r.syncHSEvents,
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, project := range projects {
			ref, ok := newProjectRef(project)
			if !ok {
				r.logger.Debug("project without id, skipping sub-streams")
				continue
			}
			for _, child := range res.Children {
				syncChild, known := children[child]
				if !known || !r.sel.Needs(child) {
					continue
				}
				g.Go(func() error {
					return syncChild(gctx, ref)
				})
			}
		}
		return g.Wait()
	})
}

// projectRef carries a project's ID both as path text and as the raw value
// injected into child records.
type projectRef struct {
	id  string
	raw any
}

func newProjectRef(project tap.Record) (projectRef, bool) {
	id, ok := tap.IDString(project["Id"])
	if !ok {
		return projectRef{}, false
	}
	return projectRef{id: id, raw: project["Id"]}, true
}

func (p projectRef) vars() map[string]string {
	return map[string]string{"projectId": p.id}
}

func (p projectRef) foreignKey() ForeignKey {
	return ForeignKey{Field: "ProjectId", Value: p.raw}
}

// syncRFIs pages lazily through a project's RFIs.
func (r *run) syncRFIs(ctx context.Context, project projectRef) error {
	res := r.resource(StreamRFIs)
	for page, err := range r.engine.pages.Pages(ctx, r.request(res, project.vars()), r.pageSize(res)) {
		if err != nil {
			return err
		}
		for _, row := range page.Items {
			apply(res, row, project.foreignKey())
			if err := r.emit(ctx, res.Name, row); err != nil {
				return err
			}
		}
	}
	return nil
}
