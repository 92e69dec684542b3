package lock

import "testing"

func TestWaitForGraphNoCycle(t *testing.T) {
	g := NewWaitForGraph()
	g.AddEdge(1, 2)
	g.AddEdge(2, 3)
	if g.HasCycle() {
		t.Fatal("linear chain should have no cycle")
	}
}

func TestWaitForGraphDetectsSimpleCycle(t *testing.T) {
	g := NewWaitForGraph()
	g.AddEdge(1, 2)
	g.AddEdge(2, 3)
	g.AddEdge(3, 1)
	if !g.HasCycle() {
		t.Fatal("expected cycle 1 -> 2 -> 3 -> 1 to be detected")
	}
}

func TestWaitForGraphRemoveNodeBreaksCycle(t *testing.T) {
	g := NewWaitForGraph()
	g.AddEdge(1, 2)
	g.AddEdge(2, 3)
	g.AddEdge(3, 1)
	g.RemoveNode(2)
	if g.HasCycle() {
		t.Fatal("removing a node on the only cycle should clear it")
	}
	edges := g.EdgeList()
	for _, e := range edges {
		if e.From == 2 || e.To == 2 {
			t.Fatalf("edge %+v should have been removed with node 2", e)
		}
	}
}

func TestWaitForGraphEdgeListDeterministicOrder(t *testing.T) {
	g := NewWaitForGraph()
	g.AddEdge(5, 1)
	g.AddEdge(1, 2)
	g.AddEdge(1, 9)

	edges := g.EdgeList()
	for i := 1; i < len(edges); i++ {
		prev, cur := edges[i-1], edges[i]
		if prev.From > cur.From || (prev.From == cur.From && prev.To > cur.To) {
			t.Fatalf("EdgeList not sorted: %+v before %+v", prev, cur)
		}
	}
}

func TestWaitForGraphRemoveEdge(t *testing.T) {
	g := NewWaitForGraph()
	g.AddEdge(1, 2)
	g.RemoveEdge(1, 2)
	if g.HasCycle() {
		t.Fatal("no cycle possible with a single edge")
	}
	edges := g.EdgeList()
	if len(edges) != 0 {
		t.Fatalf("EdgeList after RemoveEdge = %v, want empty", edges)
	}
}

func TestWaitForGraphSelfLoopIsACycle(t *testing.T) {
	g := NewWaitForGraph()
	g.AddEdge(1, 1)
	if !g.HasCycle() {
		t.Fatal("a self-loop is a (degenerate) cycle")
	}
}
