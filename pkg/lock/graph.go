package lock

import (
	"sort"
	"sync"

	"github.com/mnohosten/diskcore/pkg/concurrent"
	"github.com/mnohosten/diskcore/pkg/txn"
)

// WaitForGraph is a directed graph of transaction dependencies: an
// edge t1 -> t2 means t1 is blocked waiting on a lock held by t2. Exposed
// standalone with Add/Remove/HasCycle/EdgeList so it is independently
// testable apart from the detector's scan-and-rebuild loop.
type WaitForGraph struct {
	mu    sync.Mutex
	edges map[txn.ID]map[txn.ID]bool
}

// Edge is one wait-for relationship, for EdgeList's snapshot.
type Edge struct {
	From txn.ID
	To   txn.ID
}

// NewWaitForGraph returns an empty graph.
func NewWaitForGraph() *WaitForGraph {
	return &WaitForGraph{edges: make(map[txn.ID]map[txn.ID]bool)}
}

// AddEdge records that from waits on to.
func (g *WaitForGraph) AddEdge(from, to txn.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.edges[from] == nil {
		g.edges[from] = make(map[txn.ID]bool)
	}
	g.edges[from][to] = true
	if _, ok := g.edges[to]; !ok {
		g.edges[to] = make(map[txn.ID]bool)
	}
}

// RemoveEdge drops a single wait-for relationship.
func (g *WaitForGraph) RemoveEdge(from, to txn.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.edges[from]; ok {
		delete(m, to)
	}
}

// RemoveNode drops a transaction and every edge touching it, used after a
// victim is aborted so cycle search restarts on the reduced graph.
func (g *WaitForGraph) RemoveNode(id txn.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.edges, id)
	for _, m := range g.edges {
		delete(m, id)
	}
}

// EdgeList returns a deterministically ordered snapshot of every edge.
func (g *WaitForGraph) EdgeList() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Edge
	for from, tos := range g.edges {
		for to := range tos {
			out = append(out, Edge{From: from, To: to})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// HasCycle reports whether the graph currently contains a cycle.
func (g *WaitForGraph) HasCycle() bool {
	return len(g.findCycle()) > 0
}

type dfsFrame struct {
	node      txn.ID
	neighbors []txn.ID
	idx       int
}

// findCycle runs a tri-color DFS using an explicit stack (pkg/concurrent's
// generic Stack) rather than call-stack recursion, so a pathological
// wait-for graph cannot blow the call stack. Deterministic node and
// neighbor ordering (by ascending txn id) makes the result reproducible
// for a given graph.
func (g *WaitForGraph) findCycle() []txn.ID {
	g.mu.Lock()
	nodes := make([]txn.ID, 0, len(g.edges))
	neighborsOf := make(map[txn.ID][]txn.ID, len(g.edges))
	for n, tos := range g.edges {
		nodes = append(nodes, n)
		ns := make([]txn.ID, 0, len(tos))
		for m := range tos {
			ns = append(ns, m)
		}
		sort.Slice(ns, func(i, j int) bool { return ns[i] < ns[j] })
		neighborsOf[n] = ns
	}
	g.mu.Unlock()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	const white, gray, black = 0, 1, 2
	color := make(map[txn.ID]int, len(nodes))

	for _, start := range nodes {
		if color[start] != white {
			continue
		}
		stack := concurrent.NewStack[*dfsFrame]()
		stack.Push(&dfsFrame{node: start, neighbors: neighborsOf[start]})
		color[start] = gray

		for !stack.Empty() {
			top, _ := stack.Peek()
			if top.idx >= len(top.neighbors) {
				color[top.node] = black
				stack.Pop()
				continue
			}
			next := top.neighbors[top.idx]
			top.idx++
			switch color[next] {
			case white:
				color[next] = gray
				stack.Push(&dfsFrame{node: next, neighbors: neighborsOf[next]})
			case gray:
				return cycleFromStack(stack, next)
			case black:
				// already fully explored elsewhere, no cycle through here
			}
		}
	}
	return nil
}

// cycleFromStack drains the DFS stack (which is about to be discarded
// anyway, cycle search having concluded) and returns the path segment from
// target to the top of the stack, i.e. the cycle itself.
func cycleFromStack(stack *concurrent.Stack[*dfsFrame], target txn.ID) []txn.ID {
	var frames []*dfsFrame
	for !stack.Empty() {
		f, _ := stack.Pop()
		frames = append(frames, f)
	}
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
	var cycle []txn.ID
	started := false
	for _, f := range frames {
		if f.node == target {
			started = true
		}
		if started {
			cycle = append(cycle, f.node)
		}
	}
	return cycle
}
