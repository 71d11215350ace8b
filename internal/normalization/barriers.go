package normalization

import (
	"log/slog"

	"github.com/vc4go/vc4cc/internal/ir"
)

// barrierSemaphore is the hardware semaphore used for memory fences.
const barrierSemaphore = 0

// LowerSynchronization removes all memory barriers and mutex pseudo
// instructions: barriers scoped to the invocation or the sub-group vanish (a
// single QPU executes in order), wider barriers become a semaphore up/down
// pair, and mutex accesses become the moves on the hardware mutex
// register.
func LowerSynchronization(module *ir.Module, method *ir.Method) error {
	it := method.WalkAllInstructions()
	for !it.IsEndOfMethod() {
		switch inst := it.Get().(type) {
		case *ir.MemoryBarrier:
			if inst.Scope == ir.ScopeInvocation || inst.Scope == ir.ScopeSubGroup {
				slog.Debug("Removing memory barrier with single-QPU scope", "instruction", inst.String())
				it = it.Erase()
				continue
			}
			slog.Debug("Lowering memory barrier to semaphore pair", "instruction", inst.String())
			it = emitBefore(it, ir.NewSemaphoreAdjustment(barrierSemaphore, true))
			it = it.Reset(ir.NewSemaphoreAdjustment(barrierSemaphore, false))
		case *ir.MutexLock:
			if inst.LocksMutex() {
				// reading the mutex register blocks until the mutex is taken
				it = it.Reset(ir.NewMove(ir.NewRegisterValue(ir.RegNop, ir.TypeBool),
					ir.NewRegisterValue(ir.RegMutex, ir.TypeBool)))
			} else {
				it = it.Reset(ir.NewMove(ir.NewRegisterValue(ir.RegMutex, ir.TypeBool),
					ir.NewSmallImmediateValue(1, ir.TypeBool)))
			}
		}
		it = it.NextInMethod()
	}
	return nil
}

// CheckNormalized verifies that no instruction requiring lowering survived
// normalization and optimization.
func CheckNormalized(module *ir.Module, method *ir.Method) error {
	for it := method.WalkAllInstructions(); !it.IsEndOfMethod(); it = it.NextInMethod() {
		switch inst := it.Get().(type) {
		case *ir.MemoryInstruction:
			return ir.NewError(ir.StepCodeGeneration, "Residual memory instruction", inst.String())
		case *ir.MemoryBarrier:
			return ir.NewError(ir.StepCodeGeneration, "Residual memory barrier", inst.String())
		case *ir.LifetimeBoundary:
			return ir.NewError(ir.StepCodeGeneration, "Residual lifetime instruction", inst.String())
		case *ir.PhiNode:
			return ir.NewError(ir.StepCodeGeneration, "Residual phi-node", inst.String())
		}
	}
	return nil
}

// RemoveLifetimeBoundaries drops all stack lifetime markers; the VPM/
// register backing of stack allocations keeps them alive for the whole
// invocation anyway.
func RemoveLifetimeBoundaries(module *ir.Module, method *ir.Method) error {
	it := method.WalkAllInstructions()
	for !it.IsEndOfMethod() {
		if _, ok := it.Get().(*ir.LifetimeBoundary); ok {
			it = it.Erase()
			continue
		}
		it = it.NextInMethod()
	}
	return nil
}

// EliminatePhiNodes replaces every phi-node with moves in the
// predecessor blocks: each incoming value is written to the phi output at
// the end of the corresponding predecessor, marked with the phi decoration.
func EliminatePhiNodes(module *ir.Module, method *ir.Method) error {
	it := method.WalkAllInstructions()
	for !it.IsEndOfMethod() {
		phi, ok := it.Get().(*ir.PhiNode)
		if !ok {
			it = it.NextInMethod()
			continue
		}
		out, _ := phi.Output()
		for _, pair := range phi.Pairs() {
			pred := method.FindBasicBlock(pair.Label)
			if pred == nil {
				return ir.NewError(ir.StepNormalizer, "Unknown phi predecessor label", phi.String())
			}
			move := ir.NewMove(out, pair.Value)
			move.AddDecorations(ir.DecorationPhiNode)
			insertBeforeBlockEnd(pred, move)
		}
		slog.Debug("Eliminated phi-node", "instruction", phi.String())
		it = it.Erase()
	}
	return nil
}

// insertBeforeBlockEnd inserts the instruction before the trailing branches
// of the block, so it executes on every path leaving the block.
func insertBeforeBlockEnd(block *ir.BasicBlock, inst ir.Instruction) {
	it := block.WalkEnd()
	for !it.IsStartOfBlock() {
		prev := it.PreviousInBlock()
		if _, isBranch := prev.Get().(*ir.Branch); !isBranch {
			break
		}
		it = prev
	}
	it.Emplace(inst)
}
