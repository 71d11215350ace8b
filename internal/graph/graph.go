// Package graph provides the generic keyed graph used for the control-flow,
// data-dependency and loop-inclusion graphs. Nodes refer to their neighbors
// through keys, never through raw back-pointers, so graphs over arena-owned
// entities stay safe under mutation.
package graph

// Node is a single graph node: a key, a payload and its adjacency.
type Node[K comparable, N any, E any] struct {
	Key  K
	Data N

	graph    *Graph[K, N, E]
	outgoing map[K]*E
	incoming map[K]*E
}

// Graph is a directed or undirected graph with typed edge payloads. For
// undirected graphs every edge is recorded in both directions sharing one
// payload.
type Graph[K comparable, N any, E any] struct {
	directed bool
	nodes    map[K]*Node[K, N, E]
}

func NewDirected[K comparable, N any, E any]() *Graph[K, N, E] {
	return &Graph[K, N, E]{directed: true, nodes: make(map[K]*Node[K, N, E])}
}

func NewUndirected[K comparable, N any, E any]() *Graph[K, N, E] {
	return &Graph[K, N, E]{nodes: make(map[K]*Node[K, N, E])}
}

// GetOrCreateNode returns the node for the key, creating it when missing.
func (g *Graph[K, N, E]) GetOrCreateNode(key K) *Node[K, N, E] {
	if node, ok := g.nodes[key]; ok {
		return node
	}
	node := &Node[K, N, E]{
		Key:      key,
		graph:    g,
		outgoing: make(map[K]*E),
		incoming: make(map[K]*E),
	}
	g.nodes[key] = node
	return node
}

// FindNode returns the node for the key, or nil.
func (g *Graph[K, N, E]) FindNode(key K) *Node[K, N, E] {
	return g.nodes[key]
}

// AssertNode returns the node for the key and panics when it is missing.
func (g *Graph[K, N, E]) AssertNode(key K) *Node[K, N, E] {
	node := g.nodes[key]
	if node == nil {
		panic("graph: node not found")
	}
	return node
}

// EraseNode removes the node and all edges mentioning it.
func (g *Graph[K, N, E]) EraseNode(key K) {
	node := g.nodes[key]
	if node == nil {
		return
	}
	for to := range node.outgoing {
		delete(g.nodes[to].incoming, key)
		if !g.directed {
			delete(g.nodes[to].outgoing, key)
		}
	}
	for from := range node.incoming {
		delete(g.nodes[from].outgoing, key)
		if !g.directed {
			delete(g.nodes[from].incoming, key)
		}
	}
	delete(g.nodes, key)
}

// NumNodes returns the number of nodes.
func (g *Graph[K, N, E]) NumNodes() int { return len(g.nodes) }

// ForAllNodes calls fn for every node. Iteration order is unspecified.
func (g *Graph[K, N, E]) ForAllNodes(fn func(*Node[K, N, E])) {
	for _, node := range g.nodes {
		fn(node)
	}
}

// AddEdge inserts an edge from the receiver to the node keyed to and returns
// the shared edge payload. Adding an existing edge returns the original
// payload.
func (n *Node[K, N, E]) AddEdge(to K, data E) *E {
	if edge, ok := n.outgoing[to]; ok {
		return edge
	}
	other := n.graph.GetOrCreateNode(to)
	edge := &data
	n.outgoing[to] = edge
	other.incoming[n.Key] = edge
	if !n.graph.directed {
		other.outgoing[n.Key] = edge
		n.incoming[to] = edge
	}
	return edge
}

// RemoveEdge deletes the edge towards the given key, if present.
func (n *Node[K, N, E]) RemoveEdge(to K) {
	if _, ok := n.outgoing[to]; !ok {
		return
	}
	delete(n.outgoing, to)
	other := n.graph.FindNode(to)
	if other != nil {
		delete(other.incoming, n.Key)
		if !n.graph.directed {
			delete(other.outgoing, n.Key)
			delete(n.incoming, to)
		}
	}
}

// EdgeTo returns the payload of the edge towards the key, if present.
func (n *Node[K, N, E]) EdgeTo(to K) (*E, bool) {
	edge, ok := n.outgoing[to]
	return edge, ok
}

// ForAllOutgoingEdges calls fn for every outgoing edge until fn returns
// false.
func (n *Node[K, N, E]) ForAllOutgoingEdges(fn func(neighbor *Node[K, N, E], edge *E) bool) {
	for to, edge := range n.outgoing {
		if !fn(n.graph.nodes[to], edge) {
			return
		}
	}
}

// ForAllIncomingEdges calls fn for every incoming edge until fn returns
// false.
func (n *Node[K, N, E]) ForAllIncomingEdges(fn func(neighbor *Node[K, N, E], edge *E) bool) {
	for from, edge := range n.incoming {
		if !fn(n.graph.nodes[from], edge) {
			return
		}
	}
}

// OutDegree returns the number of outgoing edges.
func (n *Node[K, N, E]) OutDegree() int { return len(n.outgoing) }

// InDegree returns the number of incoming edges.
func (n *Node[K, N, E]) InDegree() int { return len(n.incoming) }

// SingleSuccessor returns the sole outgoing neighbor, or nil.
func (n *Node[K, N, E]) SingleSuccessor() *Node[K, N, E] {
	if len(n.outgoing) != 1 {
		return nil
	}
	for to := range n.outgoing {
		return n.graph.nodes[to]
	}
	return nil
}

// SinglePredecessor returns the sole incoming neighbor, or nil.
func (n *Node[K, N, E]) SinglePredecessor() *Node[K, N, E] {
	if len(n.incoming) != 1 {
		return nil
	}
	for from := range n.incoming {
		return n.graph.nodes[from]
	}
	return nil
}
