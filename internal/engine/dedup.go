package engine

import "sync"

// seenSet remembers identifiers already emitted for one stream during one
// top-level sync call. First occurrence wins.
type seenSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{ids: make(map[string]struct{})}
}

// firstSeen records id and reports whether it had not been seen before.
func (s *seenSet) firstSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}
