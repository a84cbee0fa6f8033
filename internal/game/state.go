package game

import (
	"sync"
	"time"
)

// State is the authoritative in-memory discovery state for one active
// session. It is loaded from the store when a room comes up and every
// mutation is merged back, so a process restart loses nothing.
type State struct {
	mu        sync.Mutex
	startNode string
	adj       map[string][]string
	links     []DiscoveredLink
	positions map[string]Point
	tags      map[string][]string
}

// NewState builds session state from persisted data. The inputs are copied;
// callers keep ownership of their slices and maps.
func NewState(startNode string, edges []Edge, links []DiscoveredLink, positions map[string]Point, tags map[string][]string) *State {
	s := &State{
		startNode: startNode,
		adj:       buildAdjacency(edges),
		links:     append([]DiscoveredLink(nil), links...),
		positions: make(map[string]Point, len(positions)),
		tags:      make(map[string][]string, len(tags)),
	}
	if s.startNode == "" {
		s.startNode = DefaultStartNode
	}
	for k, v := range positions {
		s.positions[k] = v
	}
	for k, v := range tags {
		s.tags[k] = append([]string(nil), v...)
	}
	return s
}

// Discover records the reported link and everything it reveals through
// preexisting connections. It returns only the links added by this call, in
// discovery order; the result is empty when the link was already known.
func (s *State) Discover(source, target string, by Actor, now time.Time) []DiscoveredLink {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := DiscoveredNodes(s.startNode, s.links)
	known := make(map[Link]bool, len(s.links))
	for _, l := range s.links {
		known[Link{l.Source, l.Target}] = true
	}

	added := propagate(s.adj, nodes, known, source, target, func(l Link) DiscoveredLink {
		return DiscoveredLink{Source: l.Source, Target: l.Target, DiscoveredAt: now, DiscoveredBy: by}
	})
	s.links = append(s.links, added...)
	return added
}

// MergePositions applies a partial position map. Existing keys not present in
// the update are kept; overlapping keys take the update's value.
func (s *State) MergePositions(positions map[string]Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range positions {
		s.positions[k] = v
	}
}

// SetTags replaces a zone's tag list. An empty list removes the zone's entry.
func (s *State) SetTags(zone string, tags []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(tags) == 0 {
		delete(s.tags, zone)
		return
	}
	s.tags[zone] = append([]string(nil), tags...)
}

// Snapshot returns copies of the discovered links (wire form), positions, and
// tags, suitable for a welcome payload.
func (s *State) Snapshot() ([]Link, map[string]Point, map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	links := make([]Link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, Link{Source: l.Source, Target: l.Target})
	}
	positions := make(map[string]Point, len(s.positions))
	for k, v := range s.positions {
		positions[k] = v
	}
	tags := make(map[string][]string, len(s.tags))
	for k, v := range s.tags {
		tags[k] = append([]string(nil), v...)
	}
	return links, positions, tags
}

// Nodes returns the current discovered-node set.
func (s *State) Nodes() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DiscoveredNodes(s.startNode, s.links)
}
