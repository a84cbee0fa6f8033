package game

import "time"

// EdgeKind distinguishes randomized connections from ones that exist in every run.
type EdgeKind string

const (
	EdgeRandom      EdgeKind = "random"
	EdgePreexisting EdgeKind = "preexisting"
)

// Edge is one directed connection in a session's static graph. The edge list
// is supplied at session creation and never changes afterwards.
type Edge struct {
	Source      string   `json:"source"`
	Destination string   `json:"destination"`
	Kind        EdgeKind `json:"type"`
}

// Actor identifies who reported a discovery.
type Actor string

const (
	ActorMod    Actor = "mod"
	ActorManual Actor = "manual"
)

// DiscoveredLink records one revealed directed connection. Links are
// append-only: never edited, never removed. A bidirectional connection is
// stored as two links.
type DiscoveredLink struct {
	Source       string    `json:"source"`
	Target       string    `json:"target"`
	DiscoveredAt time.Time `json:"discovered_at"`
	DiscoveredBy Actor     `json:"discovered_by"`
}

// Link is the wire form of a connection, without discovery metadata.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Point is a node position on the host's map layout.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DefaultStartNode is the zone every run begins in, used when a session does
// not override it.
const DefaultStartNode = "Chapel of Anticipation"

// DiscoveredNodes derives the reachable-node set: the start node plus every
// endpoint of a discovered link. The set is never stored, always derived.
func DiscoveredNodes(startNode string, links []DiscoveredLink) map[string]bool {
	nodes := make(map[string]bool, 2*len(links)+1)
	nodes[startNode] = true
	for _, l := range links {
		nodes[l.Source] = true
		nodes[l.Target] = true
	}
	return nodes
}
