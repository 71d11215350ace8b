package optimization

import (
	"testing"

	"github.com/vc4go/vc4cc/internal/ir"
)

// buildCountingLoop creates the canonical `for(i = 0; i < 16; ++i)` shape
// after phi elimination:
//
//	%start:  %i = 0 (phi)
//	%loop:   %sum = add %i, %i
//	         %inc = add %i, 1
//	         %i = %inc (phi)
//	         %cmp = sub %inc, 16 (setf)
//	         br.ifzc %loop (on %cmp)
//	%end:
func buildCountingLoop(t *testing.T) (*ir.Module, *ir.Method, *ir.Local, *ir.MoveOperation) {
	t.Helper()
	module := ir.NewModule("test")
	method := ir.NewMethod("loop")
	module.Methods = append(module.Methods, method)
	start := method.AppendBlock(ir.DefaultBlockName)
	loop := method.AppendBlock("%loop")
	method.AppendBlock(ir.LastBlockName)

	i := method.AddNewLocal(ir.TypeInt32, "%i")
	sum := method.AddNewLocal(ir.TypeInt32, "%sum")
	inc := method.AddNewLocal(ir.TypeInt32, "%inc")
	cmp := method.AddNewLocal(ir.TypeBool, "%cmp")

	init := ir.NewMove(i, ir.IntZero)
	init.AddDecorations(ir.DecorationPhiNode)
	start.WalkEnd().Emplace(init)

	loop.WalkEnd().Emplace(ir.NewOperation(ir.OpAdd, sum, i, i))
	loop.WalkEnd().Emplace(ir.NewOperation(ir.OpAdd, inc, i, ir.IntOne))
	latch := ir.NewMove(i, inc)
	latch.AddDecorations(ir.DecorationPhiNode)
	loop.WalkEnd().Emplace(latch)
	compare := ir.NewOperation(ir.OpSub, cmp, inc, ir.NewLiteralValue(ir.LiteralInt(16), ir.TypeInt32))
	compare.SetFlags(ir.SetFlags)
	loop.WalkEnd().Emplace(compare)
	loop.WalkEnd().Emplace(ir.NewBranch(loop.LabelLocal(), ir.CondZeroClear, cmp))

	return module, method, i.CheckLocal(), init
}

func TestVectorizeCountingLoop(t *testing.T) {
	module, method, iterVar, init := buildCountingLoop(t)

	if err := VectorizeLoops(module, method); err != nil {
		t.Fatalf("vectorization failed: %v", err)
	}

	if iterVar.Type.VectorWidth() != 16 {
		t.Fatalf("iteration variable width = %d, want 16", iterVar.Type.VectorWidth())
	}
	if !init.Source().HasRegister(ir.RegElementNumber) {
		t.Fatalf("initial value not rewritten to the element number, got %v", init.Source())
	}
	if !init.HasDecoration(ir.DecorationAutoVectorized) {
		t.Fatalf("rewritten initial value not marked as vectorized")
	}

	// every instruction depending on the widened local is marked
	for user := range iterVar.Users() {
		if _, isLabel := user.(*ir.BranchLabel); isLabel {
			continue
		}
		if !user.HasDecoration(ir.DecorationAutoVectorized) {
			t.Fatalf("user of widened local not vectorized: %s", user.String())
		}
	}

	// the step was scaled by the factor; 16 does not fit a small immediate
	// anymore, so it was materialized through a load
	var foundScaledLoad bool
	for it := method.WalkAllInstructions(); !it.IsEndOfMethod(); it = it.NextInMethod() {
		if load, ok := it.Get().(*ir.LoadImmediate); ok && load.Immediate.SignedInt() == 16 {
			foundScaledLoad = true
		}
	}
	if !foundScaledLoad {
		t.Fatalf("scaled step of 16 was not materialized")
	}
}

func TestRejectLoopWithVectorRotation(t *testing.T) {
	module, method, iterVar, init := buildCountingLoop(t)

	// insert a vector rotation into the loop body
	loop := method.BasicBlocks()[1]
	rotated := method.AddNewLocal(ir.TypeInt32, "%rotated")
	offset, _ := ir.SmallImmediateFromRotation(1)
	loop.Walk().NextInBlock().Emplace(ir.NewVectorRotation(rotated, iterVar.CreateReference(),
		ir.NewSmallImmediateValue(offset, ir.TypeInt8)))

	if err := VectorizeLoops(module, method); err != nil {
		t.Fatalf("vectorization must decline, not fail: %v", err)
	}
	if iterVar.Type.VectorWidth() != 1 {
		t.Fatalf("loop with rotation was widened")
	}
	if !init.Source().HasLiteral(ir.LiteralInt(0)) {
		t.Fatalf("initial value of rejected loop was rewritten")
	}
}

func TestRejectLoopWithSemaphore(t *testing.T) {
	module, method, iterVar, _ := buildCountingLoop(t)

	loop := method.BasicBlocks()[1]
	loop.Walk().NextInBlock().Emplace(ir.NewSemaphoreAdjustment(1, true))

	if err := VectorizeLoops(module, method); err != nil {
		t.Fatalf("vectorization must decline, not fail: %v", err)
	}
	if iterVar.Type.VectorWidth() != 1 {
		t.Fatalf("loop with semaphore was widened")
	}
}

func TestDeclineLoopWithoutLiteralBound(t *testing.T) {
	module := ir.NewModule("test")
	method := ir.NewMethod("loop")
	module.Methods = append(module.Methods, method)
	start := method.AppendBlock(ir.DefaultBlockName)
	loop := method.AppendBlock("%loop")
	method.AppendBlock(ir.LastBlockName)

	limit := method.AddParameter("%n", ir.TypeInt32, 0)
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
	compare := ir.NewOperation(ir.OpSub, cmp, inc, limit.CreateReference())
	compare.SetFlags(ir.SetFlags)
	loop.WalkEnd().Emplace(compare)
	loop.WalkEnd().Emplace(ir.NewBranch(loop.LabelLocal(), ir.CondZeroClear, cmp))

	if err := VectorizeLoops(module, method); err != nil {
		t.Fatalf("vectorization must decline, not fail: %v", err)
	}
	if i.CheckLocal().Type.VectorWidth() != 1 {
		t.Fatalf("loop with dynamic bound was widened")
	}
}

func TestCountIterations(t *testing.T) {
	lc := loopControl{stepKind: stepAddConstant, comparison: comparisonLessThan}
	n, err := lc.countIterations(0, 16, 1)
	if err != nil || n != 16 {
		t.Fatalf("add/lt iterations = %d (%v), want 16", n, err)
	}
	lc = loopControl{stepKind: stepSubConstant, comparison: comparisonEqual}
	n, err = lc.countIterations(10, 0, 1)
	if err != nil || n != 9 {
		t.Fatalf("sub/eq iterations = %d (%v), want 9", n, err)
	}
	// init * step^n compared against the limit
	lc = loopControl{stepKind: stepMulConstant, comparison: comparisonLessThan}
	n, err = lc.countIterations(1, 256, 2)
	if err != nil || n != 8 {
		t.Fatalf("mul/lt iterations = %d (%v), want 8", n, err)
	}
	if _, err := lc.countIterations(0, 256, 2); err == nil {
		t.Fatalf("multiplicative bounds with zero init must fail")
	}
}
