package normalization

import (
	"testing"

	"github.com/vc4go/vc4cc/internal/ir"
)

func TestLowerSynchronization(t *testing.T) {
	module := ir.NewModule("test")
	method := ir.NewMethod("k")
	module.Methods = append(module.Methods, method)
	block := method.AppendBlock(ir.DefaultBlockName)

	block.WalkEnd().Emplace(ir.NewMemoryBarrier(ir.ScopeWorkGroup, ir.SemanticsAcquireRelease))
	block.WalkEnd().Emplace(ir.NewMemoryBarrier(ir.ScopeInvocation, ir.SemanticsAcquire))
	block.WalkEnd().Emplace(ir.NewMutexLock(ir.MutexAccessLock))
	block.WalkEnd().Emplace(ir.NewMutexLock(ir.MutexAccessRelease))

	if err := LowerSynchronization(module, method); err != nil {
		t.Fatalf("lowering failed: %v", err)
	}

	var semaphores, mutexReads, mutexWrites int
	for it := method.WalkAllInstructions(); !it.IsEndOfMethod(); it = it.NextInMethod() {
		switch inst := it.Get().(type) {
		case *ir.MemoryBarrier:
			t.Fatalf("residual memory barrier: %s", inst.String())
		case *ir.MutexLock:
			t.Fatalf("residual mutex instruction: %s", inst.String())
		case *ir.SemaphoreAdjustment:
			semaphores++
		case *ir.MoveOperation:
			if ir.ReadsRegister(inst, ir.RegMutex) {
				mutexReads++
			}
			if ir.WritesRegister(inst, ir.RegMutex) {
				mutexWrites++
			}
		}
	}
	if semaphores != 2 {
		t.Fatalf("work-group barrier lowered to %d semaphore adjustments, want 2", semaphores)
	}
	if mutexReads != 1 || mutexWrites != 1 {
		t.Fatalf("mutex lowering reads/writes = %d/%d, want 1/1", mutexReads, mutexWrites)
	}
}

func TestEliminatePhiNodes(t *testing.T) {
	module := ir.NewModule("test")
	method := ir.NewMethod("k")
	module.Methods = append(module.Methods, method)
	first := method.AppendBlock(ir.DefaultBlockName)
	second := method.AppendBlock("%second")
	join := method.AppendBlock("%join")

	x := method.AddNewLocal(ir.TypeInt32, "%x")
	first.WalkEnd().Emplace(ir.NewUnconditionalBranch(join.LabelLocal()))

	phi := ir.NewPhiNode(x, []ir.PhiPair{
		{Label: first.LabelLocal(), Value: ir.IntOne},
		{Label: second.LabelLocal(), Value: ir.IntZero},
	})
	join.Walk().NextInBlock().Emplace(phi)

	if err := EliminatePhiNodes(module, method); err != nil {
		t.Fatalf("phi elimination failed: %v", err)
	}

	for it := method.WalkAllInstructions(); !it.IsEndOfMethod(); it = it.NextInMethod() {
		if _, ok := it.Get().(*ir.PhiNode); ok {
			t.Fatalf("residual phi-node")
		}
	}
	// each predecessor got a decorated move, before its trailing branch
	for _, block := range []*ir.BasicBlock{first, second} {
		var found bool
		for it := block.Walk(); !it.IsEndOfBlock(); it = it.NextInBlock() {
			if move, ok := it.Get().(*ir.MoveOperation); ok &&
				move.HasDecoration(ir.DecorationPhiNode) && ir.WritesLocal(move, x.CheckLocal()) {
				found = true
			}
		}
		if !found {
			t.Fatalf("missing phi move in block %s", block.Name())
		}
	}
	if branch := first.LastBranch(); branch == nil {
		t.Fatalf("phi move displaced the branch")
	}
}

func TestLowerLiteralValues(t *testing.T) {
	module := ir.NewModule("test")
	method := ir.NewMethod("k")
	module.Methods = append(module.Methods, method)
	block := method.AppendBlock(ir.DefaultBlockName)

	a := method.AddNewLocal(ir.TypeInt32, "%a")
	b := method.AddNewLocal(ir.TypeInt32, "%b")
	small := ir.NewOperation(ir.OpAdd, a, ir.IntOne, ir.NewLiteralValue(ir.LiteralInt(7), ir.TypeInt32))
	block.WalkEnd().Emplace(small)
	large := ir.NewOperation(ir.OpAdd, b, a, ir.NewLiteralValue(ir.LiteralInt(100000), ir.TypeInt32))
	block.WalkEnd().Emplace(large)

	if err := LowerLiteralValues(module, method); err != nil {
		t.Fatalf("literal lowering failed: %v", err)
	}

	// the small literal became a small immediate in place
	arg, _ := small.Argument(1)
	if _, ok := arg.SmallImmediate(); !ok {
		t.Fatalf("7 not converted to a small immediate: %v", arg)
	}

	// the large literal was materialized through a load into a temporary
	arg, _ = large.Argument(1)
	if arg.CheckLocal() == nil {
		t.Fatalf("100000 not materialized into a local: %v", arg)
	}
	writer := arg.CheckLocal().SingleWriter()
	load, ok := writer.(*ir.LoadImmediate)
	if !ok || load.Immediate.SignedInt() != 100000 {
		t.Fatalf("materialized literal writer = %v", writer)
	}
}
