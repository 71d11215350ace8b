package analysis

import "github.com/vc4go/vc4cc/internal/ir"

// Loop is an ordered set of control-flow nodes forming a natural loop. The
// front node is the header, the back node the latch.
type Loop struct {
	cfg   *CFG
	nodes []*CFGNode
}

// Front returns the loop header.
func (l *Loop) Front() *CFGNode { return l.nodes[0] }

// Back returns the loop latch.
func (l *Loop) Back() *CFGNode { return l.nodes[len(l.nodes)-1] }

// Nodes returns the loop nodes, header first.
func (l *Loop) Nodes() []*CFGNode { return l.nodes }

// Size returns the number of blocks in the loop.
func (l *Loop) Size() int { return len(l.nodes) }

// Contains reports whether the block belongs to the loop.
func (l *Loop) Contains(block *ir.BasicBlock) bool {
	for _, node := range l.nodes {
		if node.Key == block {
			return true
		}
	}
	return false
}

// Includes reports whether every node of the other loop also belongs to this
// loop while the loops are not identical.
func (l *Loop) Includes(other *Loop) bool {
	if l == other || len(other.nodes) >= len(l.nodes) {
		return false
	}
	for _, node := range other.nodes {
		if !l.Contains(node.Key) {
			return false
		}
	}
	return true
}

// FindInLoop returns a walker for the instruction, if it is located in one
// of the loop blocks.
func (l *Loop) FindInLoop(inst ir.Instruction) (ir.InstructionWalker, bool) {
	for _, node := range l.nodes {
		if it, ok := node.Key.FindWalkerForInstruction(inst); ok {
			return it, true
		}
	}
	return ir.InstructionWalker{}, false
}

// FindPredecessor returns the single node outside the loop branching (or
// falling through) into the header, or nil when there are several.
func (l *Loop) FindPredecessor() *CFGNode {
	var pred *CFGNode
	multiple := false
	l.Front().ForAllIncomingEdges(func(neighbor *CFGNode, _ *CFGEdge) bool {
		if l.Contains(neighbor.Key) {
			return true
		}
		if pred != nil && pred != neighbor {
			multiple = true
			return false
		}
		pred = neighbor
		return true
	})
	if multiple {
		return nil
	}
	return pred
}

// ForAllInstructions walks every instruction of every loop block.
func (l *Loop) ForAllInstructions(fn func(ir.InstructionWalker) bool) {
	for _, node := range l.nodes {
		for it := node.Key.Walk(); !it.IsEndOfBlock(); it = it.NextInBlock() {
			if !fn(it) {
				return
			}
		}
	}
}
