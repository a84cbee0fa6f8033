package game

// Preexisting connections are considered always-known once either endpoint is
// reachable, so a single reported discovery can reveal a whole chain of them.
// The adjacency below is restricted to preexisting edges; an edge is
// traversable in both directions only when its exact reverse also appears
// among the preexisting edges. An edge without a reverse stays one-way.

func buildAdjacency(edges []Edge) map[string][]string {
	reverse := make(map[Link]bool)
	for _, e := range edges {
		if e.Kind == EdgePreexisting {
			reverse[Link{e.Source, e.Destination}] = true
		}
	}

	adj := make(map[string][]string)
	for _, e := range edges {
		if e.Kind != EdgePreexisting {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Destination)
		if reverse[Link{e.Destination, e.Source}] {
			adj[e.Destination] = append(adj[e.Destination], e.Source)
		}
	}
	return adj
}

// propagate runs a BFS from the reported (source, target) pair. Every pair it
// reaches that is not yet a discovered link is appended to links and returned.
// When a pop reveals a previously unreachable node, preexisting connections
// from that node back into the already-discovered set are enqueued, which is
// what expands one report into a chain of reveals. The visited set bounds
// each directed pair to a single expansion, so cyclic graphs terminate.
func propagate(adj map[string][]string, nodes map[string]bool, known map[Link]bool, source, target string, mk func(Link) DiscoveredLink) []DiscoveredLink {
	var added []DiscoveredLink
	queue := []Link{{source, target}}
	visited := make(map[Link]bool)

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true

		if !known[cur] {
			known[cur] = true
			added = append(added, mk(cur))
		}

		if !nodes[cur.Target] {
			nodes[cur.Target] = true
			for _, next := range adj[cur.Target] {
				if nodes[next] {
					queue = append(queue, Link{cur.Target, next})
				}
			}
		}
	}
	return added
}
