// Package evidence holds the typed directed evidence graph and the
// star-schema construction that turns admitted alerts into it. Iteration
// order over nodes and edges is always deterministic so downstream analysis
// and artifacts are reproducible run to run.
package evidence

import "sort"

// Node is one typed entity in the evidence graph.
type Node struct {
	ID    string            `json:"id"`
	Type  string            `json:"type"`
	Value string            `json:"value,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Edge is a directed, relationship-tagged connection. At most one edge
// exists per (From, To) pair; re-adding overwrites the relationship.
type Edge struct {
	From         string `json:"source"`
	To           string `json:"target"`
	Relationship string `json:"relationship"`
}

// Graph is a directed graph with unique (from, to) edges.
type Graph struct {
	nodes map[string]Node
	out   map[string]map[string]string
	in    map[string]map[string]string
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]Node),
		out:   make(map[string]map[string]string),
		in:    make(map[string]map[string]string),
	}
}

// AddNode inserts or updates a node. Type and value overwrite on re-add;
// existing attrs are preserved unless overwritten.
func (g *Graph) AddNode(id, nodeType, value string) {
	n, ok := g.nodes[id]
	if !ok {
		n = Node{ID: id}
	}
	n.Type = nodeType
	n.Value = value
	g.nodes[id] = n
}

// SetAttr sets one attribute on an existing or new node.
func (g *Graph) SetAttr(id, key, value string) {
	n, ok := g.nodes[id]
	if !ok {
		n = Node{ID: id}
	}
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	n.Attrs[key] = value
	g.nodes[id] = n
}

// SetEdge adds a directed edge, creating endpoint nodes implicitly if they
// do not exist yet.
func (g *Graph) SetEdge(from, to, relationship string) {
	if _, ok := g.nodes[from]; !ok {
		g.nodes[from] = Node{ID: from}
	}
	if _, ok := g.nodes[to]; !ok {
		g.nodes[to] = Node{ID: to}
	}
	if g.out[from] == nil {
		g.out[from] = make(map[string]string)
	}
	if g.in[to] == nil {
		g.in[to] = make(map[string]string)
	}
	g.out[from][to] = relationship
	g.in[to][from] = relationship
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// HasNode reports membership.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// NumNodes returns the node count.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NumEdges returns the edge count.
func (g *Graph) NumEdges() int {
	n := 0
	for _, m := range g.out {
		n += len(m)
	}
	return n
}

// NodeIDs returns all node ids in sorted order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Nodes returns all nodes ordered by id.
func (g *Graph) Nodes() []Node {
	ids := g.NodeIDs()
	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.nodes[id])
	}
	return out
}

// NodesOfType returns the ids of all nodes with the given type, sorted.
func (g *Graph) NodesOfType(nodeType string) []string {
	var ids []string
	for id, n := range g.nodes {
		if n.Type == nodeType {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// OutEdges returns the outgoing edges of a node ordered by target id.
func (g *Graph) OutEdges(id string) []Edge {
	return sortedEdges(id, g.out[id], false)
}

// InEdges returns the incoming edges of a node ordered by source id.
func (g *Graph) InEdges(id string) []Edge {
	return sortedEdges(id, g.in[id], true)
}

// Successors returns the out-neighbors of a node, sorted.
func (g *Graph) Successors(id string) []string {
	return sortedKeys(g.out[id])
}

// Predecessors returns the in-neighbors of a node, sorted.
func (g *Graph) Predecessors(id string) []string {
	return sortedKeys(g.in[id])
}

// Degree returns in-degree plus out-degree.
func (g *Graph) Degree(id string) int {
	return len(g.in[id]) + len(g.out[id])
}

// Edges returns every edge ordered by (from, to).
func (g *Graph) Edges() []Edge {
	froms := make([]string, 0, len(g.out))
	for from := range g.out {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	var edges []Edge
	for _, from := range froms {
		edges = append(edges, sortedEdges(from, g.out[from], false)...)
	}
	return edges
}

// Clone returns a deep copy.
func (g *Graph) Clone() *Graph {
	c := NewGraph()
	for id, n := range g.nodes {
		copied := n
		if n.Attrs != nil {
			copied.Attrs = make(map[string]string, len(n.Attrs))
			for k, v := range n.Attrs {
				copied.Attrs[k] = v
			}
		}
		c.nodes[id] = copied
	}
	for from, m := range g.out {
		for to, rel := range m {
			c.SetEdge(from, to, rel)
		}
	}
	return c
}

// RemoveNode deletes a node and all incident edges.
func (g *Graph) RemoveNode(id string) {
	delete(g.nodes, id)
	for to := range g.out[id] {
		delete(g.in[to], id)
	}
	delete(g.out, id)
	for from := range g.in[id] {
		delete(g.out[from], id)
	}
	delete(g.in, id)
}

// Subgraph returns the induced subgraph over the given node ids.
func (g *Graph) Subgraph(ids []string) *Graph {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	sub := NewGraph()
	for id := range keep {
		if n, ok := g.nodes[id]; ok {
			sub.nodes[id] = n
		}
	}
	for from, m := range g.out {
		if _, ok := keep[from]; !ok {
			continue
		}
		for to, rel := range m {
			if _, ok := keep[to]; ok {
				sub.SetEdge(from, to, rel)
			}
		}
	}
	return sub
}

// Components returns the connected components of the graph treated as
// undirected. Each component is sorted; components are ordered by their
// smallest node id.
func (g *Graph) Components() [][]string {
	visited := make(map[string]bool, len(g.nodes))
	var components [][]string
	for _, start := range g.NodeIDs() {
		if visited[start] {
			continue
		}
		var comp []string
		queue := []string{start}
		visited[start] = true
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			comp = append(comp, node)
			for _, next := range g.Successors(node) {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
			for _, next := range g.Predecessors(node) {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		sort.Strings(comp)
		components = append(components, comp)
	}
	sort.Slice(components, func(i, j int) bool { return components[i][0] < components[j][0] })
	return components
}

// Triples flattens the graph into (source, relationship, target) rows for
// ledger export, ordered by (source, target).
func (g *Graph) Triples() []Edge {
	return g.Edges()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedEdges(anchor string, m map[string]string, incoming bool) []Edge {
	others := sortedKeys(m)
	edges := make([]Edge, 0, len(others))
	for _, other := range others {
		if incoming {
			edges = append(edges, Edge{From: other, To: anchor, Relationship: m[other]})
		} else {
			edges = append(edges, Edge{From: anchor, To: other, Relationship: m[other]})
		}
	}
	return edges
}
