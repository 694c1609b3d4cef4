package engine

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Stream names.
const (
	StreamCompanies             = "companies"
	StreamLocations             = "locations"
	StreamPeople                = "people"
	StreamPeopleProjects        = "people_projects"
	StreamProjects              = "projects"
	StreamAudits                = "audits"
	StreamAuditSections         = "audit_sections"
	StreamAuditQuestions        = "audit_questions"
	StreamAuditQuestionComments = "audit_question_comments"
	StreamRFIs                  = "rfis"
	StreamHSEvents              = "hsevents"
	StreamCategories            = "categories"
	StreamSubcategories         = "subcategories"
)

// maxDepth is the number of parent links allowed below a top-level stream.
const maxDepth = 2

// Resource describes one syncable entity type. Descriptors are built once at
// startup and never mutated.
type Resource struct {
	Name string
	// Path is the list endpoint relative to the API base URL. It may contain
	// {projectId} or {personId} placeholders filled from the parent record.
	Path string
	// DetailPath, when set, is fetched once per listed row; {id} is the row ID.
	DetailPath string
	Paginated  bool
	// Slow resources use the smaller page size.
	Slow bool
	// ServerFilter marks endpoints that honour lastModifiedSince.
	ServerFilter bool
	StaticQuery  url.Values
	Children     []string
	// Transform runs once on every record, or on the nested object for
	// streams extracted from a parent payload, before emission. Optional.
	Transform Transformer
}

// DefaultResources returns the Acuite stream descriptors. Sub-objects that are
// extracted from a parent payload rather than fetched have no Path.
func DefaultResources(cfg Config) []Resource {
	cfg = cfg.withDefaults()
	return []Resource{
		{
			Name:         StreamCompanies,
			Path:         "companies",
			Paginated:    true,
			ServerFilter: true,
			StaticQuery:  url.Values{"includeDeleted": {"true"}},
		},
		{
			Name:         StreamLocations,
			Path:         "locations",
			Paginated:    true,
			ServerFilter: true,
		},
		{
			Name:         StreamPeople,
			Path:         "people",
			Paginated:    true,
			ServerFilter: true,
			StaticQuery:  url.Values{"includeDeleted": {"true"}},
			Children:     []string{StreamPeopleProjects},
		},
		{
			Name:      StreamPeopleProjects,
			Path:      "people/{personId}/projects",
			Paginated: true,
			Slow:      true,
		},
		{
			Name:        StreamProjects,
			Path:        "projects",
			Paginated:   true,
			StaticQuery: url.Values{"includeArchived": {"true"}},
			Children:    []string{StreamAudits, StreamRFIs, StreamHSEvents},
		},
		{
			Name:       StreamAudits,
			Path:       "projects/{projectId}/audits",
			DetailPath: "projects/{projectId}/audits/{id}",
			Children:   []string{StreamAuditSections, StreamAuditQuestions, StreamAuditQuestionComments},
		},
		{Name: StreamAuditSections},
		{
			Name:      StreamAuditQuestions,
			Transform: Trimmer{Limit: cfg.TrimLimit, Fields: []string{"Answer"}, Encode: true},
		},
		{
			Name:      StreamAuditQuestionComments,
			Transform: Trimmer{Limit: cfg.TrimLimit, Fields: []string{"Comment"}, Encode: true},
		},
		{
			Name:         StreamRFIs,
			Path:         "projects/{projectId}/rfi",
			Paginated:    true,
			Slow:         true,
			ServerFilter: true,
		},
		{
			Name:         StreamHSEvents,
			Path:         "projects/{projectId}/hse/events",
			DetailPath:   "projects/{projectId}/hse/events/{id}",
			ServerFilter: true,
			Children:     []string{StreamCategories, StreamSubcategories},
			Transform: Trimmer{
				Limit:  cfg.HSEventTrimLimit,
				Fields: []string{"Description", "PreventativeAction", "ActionTaken", "WeatherConditions"},
			},
		},
		{Name: StreamCategories},
		{Name: StreamSubcategories},
	}
}

// Graph is the static parent -> ordered children mapping between streams.
type Graph struct {
	order     []string
	resources map[string]Resource
	parent    map[string]string
}

// NewGraph indexes resources and validates the graph they describe: names are
// unique, children exist and have a single parent, there are no cycles, and no
// stream sits more than two levels below a top-level stream.
func NewGraph(resources []Resource) (*Graph, error) {
	g := &Graph{
		resources: make(map[string]Resource, len(resources)),
		parent:    make(map[string]string),
	}
	for _, res := range resources {
		if res.Name == "" {
			return nil, errors.New("resource name is required")
		}
		if _, dup := g.resources[res.Name]; dup {
			return nil, fmt.Errorf("duplicate resource %q", res.Name)
		}
		g.resources[res.Name] = res
		g.order = append(g.order, res.Name)
	}
	for _, name := range g.order {
		for _, child := range g.resources[name].Children {
			if _, ok := g.resources[child]; !ok {
				return nil, fmt.Errorf("resource %q lists unknown child %q", name, child)
			}
			if prev, taken := g.parent[child]; taken {
				return nil, fmt.Errorf("resource %q has two parents: %q and %q", child, prev, name)
			}
			g.parent[child] = name
		}
	}
	for _, name := range g.order {
		depth := 0
		for cur := name; ; depth++ {
			p, ok := g.parent[cur]
			if !ok {
				break
			}
			if p == name || depth >= len(g.order) {
				return nil, fmt.Errorf("resource %q is part of a cycle", name)
			}
			cur = p
		}
		if depth > maxDepth {
			return nil, fmt.Errorf("resource %q is nested %d levels deep, limit is %d", name, depth, maxDepth)
		}
	}
	return g, nil
}

// Resource returns the descriptor for name.
func (g *Graph) Resource(name string) (Resource, bool) {
	res, ok := g.resources[name]
	return res, ok
}

// Children returns the direct sub-streams of name in declared order.
func (g *Graph) Children(name string) []string {
	return append([]string(nil), g.resources[name].Children...)
}

// Parent returns the stream name is nested under, if any.
func (g *Graph) Parent(name string) (string, bool) {
	p, ok := g.parent[name]
	return p, ok
}

// Descendants returns every stream below name, depth first, each parent
// before its own children.
func (g *Graph) Descendants(name string) []string {
	var out []string
	for _, child := range g.resources[name].Children {
		out = append(out, child)
		out = append(out, g.Descendants(child)...)
	}
	return out
}

// Tree returns name followed by its descendants.
func (g *Graph) Tree(name string) []string {
	return append([]string{name}, g.Descendants(name)...)
}

// TopLevel returns the streams without a parent in declared order.
func (g *Graph) TopLevel() []string {
	var out []string
	for _, name := range g.order {
		if _, nested := g.parent[name]; !nested {
			out = append(out, name)
		}
	}
	return out
}

// Names returns every stream in declared order.
func (g *Graph) Names() []string {
	return append([]string(nil), g.order...)
}

func expandPath(tmpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", url.PathEscape(v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
