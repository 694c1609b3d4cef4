package engine

import (
	"context"
	"net/url"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/tap-acuite/internal/tap"
)

func (e *Engine) syncCompanies(ctx context.Context, req Request) ([]tap.Bookmark, error) {
	return e.call(ctx, StreamCompanies, req, func(ctx context.Context, r *run) error {
		return r.syncList(ctx, r.resource(StreamCompanies))
	})
}

// syncLocations issues the locations query once per configured country and
// emits the results in that order.
func (e *Engine) syncLocations(ctx context.Context, req Request) ([]tap.Bookmark, error) {
	return e.call(ctx, StreamLocations, req, func(ctx context.Context, r *run) error {
		res := r.resource(StreamLocations)
		for _, country := range e.cfg.LocationCountryIDs {
			listReq := r.request(res, nil).WithQuery(map[string][]string{
				"countryId": {strconv.Itoa(country)},
			})
			rows, err := e.pages.Collect(ctx, listReq, r.pageSize(res))
			if err != nil {
				return err
			}
			for _, row := range rows {
				apply(res, row)
				if err := r.emit(ctx, res.Name, row); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// syncPeople emits people and, when people_projects is needed, walks each
// person's project memberships. Memberships change without touching the
// person row, so the list is fetched unfiltered whenever they are needed.
func (e *Engine) syncPeople(ctx context.Context, req Request) ([]tap.Bookmark, error) {
	return e.call(ctx, StreamPeople, req, func(ctx context.Context, r *run) error {
		res := r.resource(StreamPeople)
		listReq := r.request(res, nil)
		if r.sel.Needs(StreamPeopleProjects) {
			listReq = withoutSince(listReq)
		}
		people, err := e.pages.Collect(ctx, listReq, r.pageSize(res))
		if err != nil {
			return err
		}
		for _, person := range people {
			apply(res, person)
			if err := r.emit(ctx, res.Name, person); err != nil {
				return err
			}
		}
		if !r.sel.Needs(StreamPeopleProjects) {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.DetailConcurrency)
		for _, person := range people {
			personID, ok := tap.IDString(person["Id"])
			if !ok {
				r.logger.Debug("person without id, skipping memberships")
				continue
			}
			g.Go(func() error {
				return r.syncPersonProjects(gctx, personID)
			})
		}
		return g.Wait()
	})
}

// syncPersonProjects turns each membership row into a join record keyed
// "{personId}|{projectId}". Rows lacking a project ID are skipped.
func (r *run) syncPersonProjects(ctx context.Context, personID string) error {
	res := r.resource(StreamPeopleProjects)
	listReq := r.request(res, map[string]string{"personId": personID})
	skipped := 0
	for page, err := range r.engine.pages.Pages(ctx, listReq, r.pageSize(res)) {
		if err != nil {
			return err
		}
		for _, row := range page.Items {
			rec, ok := joinRecord(personID, row)
			if !ok {
				skipped++
				continue
			}
			if err := r.emit(ctx, res.Name, rec); err != nil {
				return err
			}
		}
	}
	if skipped > 0 {
		r.logger.Debug("skipped memberships with partial keys",
			zap.String("person_id", personID),
			zap.Int("skipped", skipped),
		)
	}
	return nil
}

func joinRecord(personID string, row tap.Record) (tap.Record, bool) {
	projectID, ok := tap.IDString(row["ProjectId"])
	if !ok {
		projectID, ok = tap.IDString(row["Id"])
	}
	if !ok || personID == "" {
		return nil, false
	}
	return tap.Record{
		"Id":        personID + "|" + projectID,
		"PersonId":  personID,
		"ProjectId": projectID,
	}, true
}

// syncList emits every row of a plain paginated resource.
func (r *run) syncList(ctx context.Context, res Resource, extra ...Transformer) error {
	rows, err := r.engine.pages.Collect(ctx, r.request(res, nil), r.pageSize(res))
	if err != nil {
		return err
	}
	for _, row := range rows {
		apply(res, row, extra...)
		if err := r.emit(ctx, res.Name, row); err != nil {
			return err
		}
	}
	return nil
}

// withoutSince drops the lastModifiedSince filter from req.
func withoutSince(req tap.FetchRequest) tap.FetchRequest {
	if req.Query == nil {
		return req
	}
	query := url.Values{}
	for k, v := range req.Query {
		if k != "lastModifiedSince" {
			query[k] = v
		}
	}
	req.Query = query
	return req
}
