package analysis

import (
	"testing"

	"github.com/vc4go/vc4cc/internal/ir"
)

// buildLoopMethod creates the canonical counting loop:
//
//	%start:  %i = 0 (phi)
//	%loop:   %inc = add %i, 1
//	         %i = %inc (phi)
//	         %cmp = sub %inc, 16 (setf)
//	         br.ifzc %loop (on %cmp)
//	%end:
func buildLoopMethod(t *testing.T) (*ir.Method, *ir.Local) {
	t.Helper()
	method := ir.NewMethod("loop_test")
	start := method.AppendBlock(ir.DefaultBlockName)
	loop := method.AppendBlock("%loop")
	method.AppendBlock(ir.LastBlockName)

	i := method.AddNewLocal(ir.TypeInt32, "%i")
	inc := method.AddNewLocal(ir.TypeInt32, "%inc")
	cmp := method.AddNewLocal(ir.TypeBool, "%cmp")

	init := ir.NewMove(i, ir.IntZero)
	init.AddDecorations(ir.DecorationPhiNode)
	start.WalkEnd().Emplace(init)

	loop.WalkEnd().Emplace(ir.NewOperation(ir.OpAdd, inc, i, ir.IntOne))
	latch := ir.NewMove(i, inc)
	latch.AddDecorations(ir.DecorationPhiNode)
	loop.WalkEnd().Emplace(latch)
	compare := ir.NewOperation(ir.OpSub, cmp, inc, ir.NewLiteralValue(ir.LiteralInt(16), ir.TypeInt32))
	compare.SetFlags(ir.SetFlags)
	loop.WalkEnd().Emplace(compare)
	loop.WalkEnd().Emplace(ir.NewBranch(loop.LabelLocal(), ir.CondZeroClear, cmp))

	return method, i.CheckLocal()
}

func TestCFGEdges(t *testing.T) {
	method, _ := buildLoopMethod(t)
	cfg := NewCFG(method)
	blocks := method.BasicBlocks()

	start := cfg.AssertNode(blocks[0])
	loop := cfg.AssertNode(blocks[1])
	end := cfg.AssertNode(blocks[2])

	if succ := start.SingleSuccessor(); succ != loop {
		t.Fatalf("start successor = %v, want the loop block", succ)
	}
	edge, ok := start.EdgeTo(blocks[1])
	if !ok || !edge.Implicit {
		t.Fatalf("start -> loop edge must be an implicit fall-through")
	}
	if _, ok := loop.EdgeTo(blocks[1]); !ok {
		t.Fatalf("loop back edge missing")
	}
	if _, ok := loop.EdgeTo(blocks[2]); !ok {
		t.Fatalf("loop exit fall-through missing")
	}
	if end.OutDegree() != 0 {
		t.Fatalf("end block must have no successors")
	}
}

func TestFindLoops(t *testing.T) {
	method, _ := buildLoopMethod(t)
	cfg := NewCFG(method)
	loops := cfg.FindLoops()
	if len(loops) != 1 {
		t.Fatalf("found %d loops, want 1", len(loops))
	}
	loop := loops[0]
	if loop.Size() != 1 {
		t.Fatalf("loop spans %d blocks, want 1", loop.Size())
	}
	if loop.Front().Key != method.BasicBlocks()[1] {
		t.Fatalf("loop header is not the loop block")
	}
	if pred := loop.FindPredecessor(); pred == nil || pred.Key != method.BasicBlocks()[0] {
		t.Fatalf("loop predecessor lookup failed")
	}
}

func TestDataDependencyPhiSelfEdge(t *testing.T) {
	method, iterVar := buildLoopMethod(t)
	depGraph := NewDataDependencyGraph(method)
	loopBlock := method.BasicBlocks()[1]

	node := depGraph.FindNode(loopBlock)
	if node == nil {
		t.Fatalf("no dependency node for the loop block")
	}
	var foundInner, foundOuter bool
	node.ForAllIncomingEdges(func(neighbor *DependencyNode, edge *DependencyEdge) bool {
		kind, ok := edge.Locals[iterVar]
		if !ok {
			return true
		}
		if !kind.Has(DependencyPhi | DependencyFlow) {
			return true
		}
		if neighbor.Key == loopBlock {
			foundInner = true
		} else {
			foundOuter = true
		}
		return true
	})
	if !foundInner {
		t.Fatalf("missing phi self-dependency for the iteration variable")
	}
	if !foundOuter {
		t.Fatalf("missing phi dependency from the loop entry")
	}
}
