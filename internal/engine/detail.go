package engine

import (
	"context"
	"fmt"
	"maps"

	"go.uber.org/zap"

	"github.com/JakeFAU/tap-acuite/internal/tap"
)

// listIDs fetches an unpaginated summary list and keeps only the row IDs, so
// the summary payload can be released before the detail fetches start.
func (r *run) listIDs(ctx context.Context, req tap.FetchRequest) ([]string, error) {
	body, err := r.engine.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	var env struct {
		Data []struct {
			ID any `json:"Id"`
		} `json:"Data"`
	}
	if err := tap.DecodeJSON(body, &env); err != nil {
		return nil, fmt.Errorf("%s list: %w", req.Resource, err)
	}
	ids := make([]string, 0, len(env.Data))
	for _, row := range env.Data {
		id, ok := tap.IDString(row.ID)
		if !ok {
			r.logger.Debug("summary row without id", zap.String("resource", req.Resource))
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// fetchDetail fetches one row's detail payload, {"Data": {...}}.
func (r *run) fetchDetail(ctx context.Context, res Resource, vars map[string]string, id string) (tap.Record, error) {
	pathVars := maps.Clone(vars)
	if pathVars == nil {
		pathVars = map[string]string{}
	}
	pathVars["id"] = id
	req := tap.FetchRequest{Resource: res.Name, Path: expandPath(res.DetailPath, pathVars)}
	body, err := r.engine.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	var env struct {
		Data tap.Record `json:"Data"`
	}
	if err := tap.DecodeJSON(body, &env); err != nil {
		return nil, fmt.Errorf("%s %s detail: %w", res.Name, id, err)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("%s %s detail: empty payload", res.Name, id)
	}
	return env.Data, nil
}

// asRecord accepts a decoded JSON object in either of its map forms.
func asRecord(v any) (tap.Record, bool) {
	switch m := v.(type) {
	case tap.Record:
		return m, m != nil
	case map[string]any:
		return tap.Record(m), m != nil
	default:
		return nil, false
	}
}

// asList accepts a decoded JSON array. Absent and null values are reported
// as present-but-empty so callers only log real shape mismatches.
func asList(v any) (items []any, wellFormed bool) {
	switch l := v.(type) {
	case nil:
		return nil, true
	case []any:
		return l, true
	default:
		return nil, false
	}
}
