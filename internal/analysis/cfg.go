// Package analysis derives control-flow and data-dependency facts from
// methods. All graphs key their nodes by basic block, so they stay valid
// references into the owning method as long as the block list is not
// mutated.
package analysis

import (
	"github.com/vc4go/vc4cc/internal/graph"
	"github.com/vc4go/vc4cc/internal/ir"
)

// CFGEdge is the payload of a control-flow edge.
type CFGEdge struct {
	// Branch is the branch instruction creating this edge. It is only
	// meaningful when the edge is not implicit.
	Branch ir.InstructionWalker
	// Implicit marks fall-through edges.
	Implicit bool
}

// CFGNode is a node of the control-flow graph, keyed by basic block.
type CFGNode = graph.Node[*ir.BasicBlock, struct{}, CFGEdge]

// CFG is the control-flow graph of a single method.
type CFG struct {
	method *ir.Method
	graph  *graph.Graph[*ir.BasicBlock, struct{}, CFGEdge]
}

// NewCFG builds the control-flow graph for the method.
func NewCFG(method *ir.Method) *CFG {
	cfg := &CFG{
		method: method,
		graph:  graph.NewDirected[*ir.BasicBlock, struct{}, CFGEdge](),
	}
	blocks := method.BasicBlocks()
	for i, block := range blocks {
		node := cfg.graph.GetOrCreateNode(block)
		endsUnconditionally := false
		for it := block.Walk(); !it.IsEndOfBlock(); it = it.NextInBlock() {
			branch, ok := it.Get().(*ir.Branch)
			if !ok {
				continue
			}
			target := method.FindBasicBlock(branch.Target())
			if target == nil {
				continue
			}
			node.AddEdge(target, CFGEdge{Branch: it})
			if branch.IsUnconditional() {
				endsUnconditionally = true
			}
		}
		if !endsUnconditionally && i+1 < len(blocks) {
			node.AddEdge(blocks[i+1], CFGEdge{Implicit: true})
		}
	}
	return cfg
}

// Method returns the method the graph was built for.
func (c *CFG) Method() *ir.Method { return c.method }

// AssertNode returns the node for the block and panics when missing.
func (c *CFG) AssertNode(block *ir.BasicBlock) *CFGNode {
	return c.graph.AssertNode(block)
}

// FindNode returns the node for the block, or nil.
func (c *CFG) FindNode(block *ir.BasicBlock) *CFGNode {
	return c.graph.FindNode(block)
}

// ForAllNodes calls fn for every node.
func (c *CFG) ForAllNodes(fn func(*CFGNode)) {
	c.graph.ForAllNodes(fn)
}

// FindLoops returns all natural loops of the method, detected via
// depth-first back-edge identification. Every loop lists its header first
// and its latch last.
func (c *CFG) FindLoops() []*Loop {
	blocks := c.method.BasicBlocks()
	if len(blocks) == 0 {
		return nil
	}

	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[*ir.BasicBlock]int, len(blocks))
	var loops []*Loop

	var visit func(block *ir.BasicBlock)
	visit = func(block *ir.BasicBlock) {
		state[block] = onStack
		c.graph.AssertNode(block).ForAllOutgoingEdges(func(succ *CFGNode, _ *CFGEdge) bool {
			switch state[succ.Key] {
			case unvisited:
				visit(succ.Key)
			case onStack:
				// back edge block -> succ: succ is a loop header, block the
				// latch
				loops = append(loops, c.collectNaturalLoop(succ.Key, block))
			}
			return true
		})
		state[block] = done
	}
	visit(blocks[0])
	return loops
}

// collectNaturalLoop gathers all nodes reaching the latch without passing
// the header.
func (c *CFG) collectNaturalLoop(header, latch *ir.BasicBlock) *Loop {
	inLoop := map[*ir.BasicBlock]bool{header: true, latch: true}
	stack := []*ir.BasicBlock{latch}
	for len(stack) > 0 {
		block := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if block == header {
			// the header's predecessors are outside the loop
			continue
		}
		c.graph.AssertNode(block).ForAllIncomingEdges(func(pred *CFGNode, _ *CFGEdge) bool {
			if !inLoop[pred.Key] {
				inLoop[pred.Key] = true
				stack = append(stack, pred.Key)
			}
			return true
		})
	}

	loop := &Loop{cfg: c}
	loop.nodes = append(loop.nodes, c.graph.AssertNode(header))
	for _, block := range c.method.BasicBlocks() {
		if block != header && block != latch && inLoop[block] {
			loop.nodes = append(loop.nodes, c.graph.AssertNode(block))
		}
	}
	if latch != header {
		loop.nodes = append(loop.nodes, c.graph.AssertNode(latch))
	}
	return loop
}
