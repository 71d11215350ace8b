package graph

import "testing"

func TestDirectedEdges(t *testing.T) {
	g := NewDirected[string, struct{}, int]()
	a := g.GetOrCreateNode("a")
	edge := a.AddEdge("b", 7)
	if *edge != 7 {
		t.Fatalf("edge payload = %d, want 7", *edge)
	}
	// adding the same edge twice keeps the original payload
	if again := a.AddEdge("b", 9); *again != 7 {
		t.Fatalf("duplicate edge replaced payload")
	}

	b := g.FindNode("b")
	if b == nil {
		t.Fatalf("target node not created")
	}
	if b.InDegree() != 1 || b.OutDegree() != 0 {
		t.Fatalf("degrees of b = %d/%d, want 1/0", b.InDegree(), b.OutDegree())
	}
	if b.SinglePredecessor() != a {
		t.Fatalf("single predecessor lookup failed")
	}
	if a.SingleSuccessor() != b {
		t.Fatalf("single successor lookup failed")
	}
}

func TestUndirectedEdges(t *testing.T) {
	g := NewUndirected[int, struct{}, string]()
	n1 := g.GetOrCreateNode(1)
	n1.AddEdge(2, "x")
	n2 := g.AssertNode(2)
	edge, ok := n2.EdgeTo(1)
	if !ok || *edge != "x" {
		t.Fatalf("reverse edge missing in undirected graph")
	}
}

func TestEraseNode(t *testing.T) {
	g := NewDirected[string, struct{}, struct{}]()
	g.GetOrCreateNode("a").AddEdge("b", struct{}{})
	g.GetOrCreateNode("c").AddEdge("a", struct{}{})

	g.EraseNode("a")
	if g.FindNode("a") != nil {
		t.Fatalf("node still present after erase")
	}
	if g.AssertNode("b").InDegree() != 0 {
		t.Fatalf("dangling incoming edge after erase")
	}
	if g.AssertNode("c").OutDegree() != 0 {
		t.Fatalf("dangling outgoing edge after erase")
	}
}

func TestForAllOutgoingEdgesEarlyStop(t *testing.T) {
	g := NewDirected[int, struct{}, struct{}]()
	n := g.GetOrCreateNode(0)
	for i := 1; i <= 4; i++ {
		n.AddEdge(i, struct{}{})
	}
	var visited int
	n.ForAllOutgoingEdges(func(*Node[int, struct{}, struct{}], *struct{}) bool {
		visited++
		return visited < 2
	})
	if visited != 2 {
		t.Fatalf("early stop visited %d edges, want 2", visited)
	}
}
