package traversal

import (
	"sort"

	"forensicgraph/internal/evidence"
)

// CoEdge is one COOBSERVED projection edge: the entity nodes two alerts
// share, directed from the earlier alert to the later one.
type CoEdge struct {
	Via    []string `json:"via_nodes"`
	Weight int      `json:"weight"`
}

// Projection is the alert-to-alert co-observation graph derived from one
// campaign subgraph.
type Projection struct {
	nodes []string
	out   map[string]map[string]*CoEdge
	in    map[string]map[string]*CoEdge
}

// Nodes returns all alert nodes, sorted.
func (p *Projection) Nodes() []string { return p.nodes }

// Successors returns the out-neighbors of an alert, sorted.
func (p *Projection) Successors(node string) []string {
	return sortedTargets(p.out[node])
}

// Edge returns the projection edge between two alerts.
func (p *Projection) Edge(from, to string) (*CoEdge, bool) {
	e, ok := p.out[from][to]
	return e, ok
}

// Degree returns in-degree plus out-degree.
func (p *Projection) Degree(node string) int {
	return len(p.in[node]) + len(p.out[node])
}

// NumEdges returns the edge count.
func (p *Projection) NumEdges() int {
	n := 0
	for _, m := range p.out {
		n += len(m)
	}
	return n
}

func (p *Projection) addEdge(from, to, via string) {
	if p.out[from] == nil {
		p.out[from] = make(map[string]*CoEdge)
	}
	if p.in[to] == nil {
		p.in[to] = make(map[string]*CoEdge)
	}
	e, ok := p.out[from][to]
	if !ok {
		e = &CoEdge{}
		p.out[from][to] = e
		p.in[to][from] = e
	}
	for _, existing := range e.Via {
		if existing == via {
			return
		}
	}
	e.Via = append(e.Via, via)
	sort.Strings(e.Via)
	e.Weight = len(e.Via)
}

// BuildProjection collapses the campaign subgraph onto its alert nodes.
// Every non-alert entity touching two or more alerts induces a COOBSERVED
// edge per alert pair, directed earlier to later (ties broken by node id),
// carrying the shared entities and their count.
func BuildProjection(sub *evidence.Graph, meta map[string]evidence.Meta) *Projection {
	p := &Projection{
		nodes: sub.NodesOfType(evidence.TypeAlert),
		out:   make(map[string]map[string]*CoEdge),
		in:    make(map[string]map[string]*CoEdge),
	}

	isAlert := make(map[string]bool, len(p.nodes))
	for _, n := range p.nodes {
		isAlert[n] = true
	}

	for _, node := range sub.NodeIDs() {
		if isAlert[node] {
			continue
		}
		connected := map[string]struct{}{}
		for _, pred := range sub.Predecessors(node) {
			if isAlert[pred] {
				connected[pred] = struct{}{}
			}
		}
		for _, succ := range sub.Successors(node) {
			if isAlert[succ] {
				connected[succ] = struct{}{}
			}
		}
		if len(connected) < 2 {
			continue
		}

		alerts := make([]string, 0, len(connected))
		for a := range connected {
			alerts = append(alerts, a)
		}
		sort.Strings(alerts)
		for i := 0; i < len(alerts); i++ {
			for j := i + 1; j < len(alerts); j++ {
				src, dst := orientPair(alerts[i], alerts[j], meta)
				p.addEdge(src, dst, node)
			}
		}
	}
	return p
}

// orientPair directs a co-observation edge from the earlier alert to the
// later one. Pairs with a missing timestamp fall back to id order.
func orientPair(left, right string, meta map[string]evidence.Meta) (string, string) {
	lm, lok := meta[left]
	rm, rok := meta[right]
	if lok && rok && lm.HasTS && rm.HasTS {
		if !lm.TS.After(rm.TS) {
			return left, right
		}
		return right, left
	}
	if left <= right {
		return left, right
	}
	return right, left
}

// shortestPath runs a BFS over sorted adjacency, so the returned path is
// the same on every run.
func (p *Projection) shortestPath(from, to string) []string {
	if from == to {
		return []string{from}
	}
	prev := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range p.Successors(node) {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = node
			if next == to {
				var path []string
				for at := to; at != ""; at = prev[at] {
					path = append(path, at)
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// betweenness computes directed betweenness centrality (Brandes),
// normalized by (n-1)(n-2) for n > 2.
func (p *Projection) betweenness() map[string]float64 {
	cb := make(map[string]float64, len(p.nodes))
	for _, n := range p.nodes {
		cb[n] = 0
	}

	for _, s := range p.nodes {
		stack := make([]string, 0, len(p.nodes))
		preds := make(map[string][]string)
		sigma := map[string]float64{s: 1}
		dist := map[string]int{s: 0}
		queue := []string{s}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, w := range p.Successors(v) {
				if _, seen := dist[w]; !seen {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					preds[w] = append(preds[w], v)
				}
			}
		}

		delta := make(map[string]float64)
		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range preds[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				cb[w] += delta[w]
			}
		}
	}

	n := len(p.nodes)
	if n > 2 {
		scale := 1.0 / float64((n-1)*(n-2))
		for k := range cb {
			cb[k] *= scale
		}
	}
	return cb
}

func sortedTargets(m map[string]*CoEdge) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
