package engine

import "sort"

// Selection is the set of streams the user asked for. A stream that is not
// selected may still be fetched when one of its descendants is.
type Selection struct {
	graph *Graph
	names map[string]struct{}
}

// Select builds a Selection over g. Unknown names are ignored.
func (g *Graph) Select(names ...string) Selection {
	s := Selection{graph: g, names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		if _, ok := g.resources[name]; ok {
			s.names[name] = struct{}{}
		}
	}
	return s
}

// Selected reports whether records of name should be emitted.
func (s Selection) Selected(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Needs reports whether name must be fetched: it is selected or one of its
// descendants is.
func (s Selection) Needs(name string) bool {
	if s.Selected(name) {
		return true
	}
	if s.graph == nil {
		return false
	}
	for _, d := range s.graph.Descendants(name) {
		if s.Selected(d) {
			return true
		}
	}
	return false
}

// Names returns the selected streams sorted.
func (s Selection) Names() []string {
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Empty reports whether nothing is selected.
func (s Selection) Empty() bool {
	return len(s.names) == 0
}
