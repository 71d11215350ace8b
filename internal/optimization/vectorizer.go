// Package optimization hosts the method-level transformations: the loop
// vectorizer and the control-flow passes.
package optimization

import (
	"log/slog"
	"math"

	"github.com/vc4go/vc4cc/internal/analysis"
	"github.com/vc4go/vc4cc/internal/ir"
	"github.com/vc4go/vc4cc/internal/normalization"
	"github.com/vc4go/vc4cc/internal/periphery"
	"github.com/vc4go/vc4cc/internal/profiler"
)

type stepKind uint8

const (
	stepUnknown stepKind = iota
	// integer addition with constant factor, the default for for-range loops
	stepAddConstant
	// integer subtraction with constant factor, loops counting backwards
	stepSubConstant
	// integer multiplication with constant factor
	stepMulConstant
)

const (
	comparisonEqual    = "eq"
	comparisonLessThan = "lt"
)

// loopControl is everything the vectorizer extracted about one loop: the
// iteration variable, its bounds and its step.
type loopControl struct {
	iterationVariable *ir.Local
	initialization    ir.Instruction
	terminatingValue  ir.Value
	iterationStep     ir.InstructionWalker
	hasStep           bool
	stepKind          stepKind
	comparison        string
	repetitionJump    ir.InstructionWalker
	hasRepetition     bool
	factor            uint32
}

func (lc *loopControl) determineStepKind(op ir.OpCode) {
	switch op {
	case ir.OpAdd:
		lc.stepKind = stepAddConstant
	case ir.OpSub:
		lc.stepKind = stepSubConstant
	case ir.OpMul24:
		lc.stepKind = stepMulConstant
	}
}

// step returns the literal operand of the iteration step operation.
func (lc *loopControl) step() (ir.Literal, bool) {
	if !lc.hasStep {
		return ir.Literal{}, false
	}
	op, ok := lc.iterationStep.Get().(*ir.Operation)
	if !ok || len(op.Arguments()) != 2 {
		return ir.Literal{}, false
	}
	if lit, ok := op.FirstArg().LiteralValue(); ok {
		return lit, true
	}
	second, _ := op.SecondArg()
	return second.LiteralValue()
}

// countIterations derives the trip count from the bounds and the step.
func (lc *loopControl) countIterations(initial, limit, step int32) (int32, error) {
	switch lc.comparison {
	case comparisonEqual:
		// compared up to and including the limit
		limit++
	case comparisonLessThan:
		// compared up to and excluding the limit
	default:
		return 0, ir.NewError(ir.StepOptimizer, "Unhandled comparison type", lc.comparison)
	}
	switch lc.stepKind {
	case stepAddConstant:
		if step == 0 {
			return 0, ir.NewError(ir.StepOptimizer, "Iteration step of zero", "")
		}
		return (limit - initial) / step, nil
	case stepSubConstant:
		if step == 0 {
			return 0, ir.NewError(ir.StepOptimizer, "Iteration step of zero", "")
		}
		return (initial - limit) / step, nil
	case stepMulConstant:
		// from init * step^n >= limit: n = log(limit/init) / log(step)
		if initial <= 0 || limit <= 0 || step <= 1 {
			return 0, ir.NewError(ir.StepOptimizer, "Unsupported multiplicative iteration bounds", "")
		}
		return int32(math.Log(float64(limit)/float64(initial)) / math.Log(float64(step))), nil
	}
	return 0, ir.NewError(ir.StepOptimizer, "Invalid step type", "")
}

// findLoopIterations returns the locals which depend on phi-writes both
// from inside and outside the loop, the candidates for the iteration
// variable.
func findLoopIterations(loop *analysis.Loop, depGraph *analysis.DataDependencyGraph) []*ir.Local {
	inner := make(map[*ir.Local]bool)
	outer := make(map[*ir.Local]bool)
	for _, node := range loop.Nodes() {
		depNode := depGraph.FindNode(node.Key)
		if depNode == nil {
			// blocks without dependencies have no node
			continue
		}
		depNode.ForAllIncomingEdges(func(neighbor *analysis.DependencyNode, edge *analysis.DependencyEdge) bool {
			for local, kind := range edge.Locals {
				if kind.Has(analysis.DependencyPhi | analysis.DependencyFlow) {
					if loop.Contains(neighbor.Key) {
						inner[local] = true
					} else {
						outer[local] = true
					}
				}
			}
			return true
		})
	}
	var intersection []*ir.Local
	for local := range inner {
		if outer[local] {
			intersection = append(intersection, local)
		}
	}
	if len(intersection) == 0 {
		slog.Debug("Failed to find loop iteration variable for loop")
	}
	return intersection
}

// isIterationStepOperation checks for a two-operand operation with a
// literal operand whose result feeds a phi-write.
func isIterationStepOperation(inst ir.Instruction) bool {
	op, ok := inst.(*ir.Operation)
	if !ok || len(op.Arguments()) != 2 || !ir.ReadsLiteral(op) {
		return false
	}
	out := ir.OutputLocal(op)
	if out == nil {
		return false
	}
	for user := range out.Users() {
		if user.HasDecoration(ir.DecorationPhiNode) {
			return true
		}
	}
	return false
}

// extractLoopControl finds the iteration variable, bounds and step of the
// loop. A zero iterationVariable means extraction failed.
func extractLoopControl(loop *analysis.Loop, depGraph *analysis.DataDependencyGraph) loopControl {
	var candidates []loopControl

	for _, local := range findLoopIterations(loop, depGraph) {
		slog.Debug("Loop iteration variable candidate", "local", local.Name)
		lc := loopControl{iterationVariable: local}

		for user, use := range local.Users() {
			_, inLoop := loop.FindInLoop(user)
			switch {
			case use.WritesLocal() && user.HasDecoration(ir.DecorationPhiNode) && !inLoop:
				// lower bound: the initial setting of the value outside the
				// loop
				if val, ok := ir.Precalculate(user, 4); ok {
					if _, isLit := val.LiteralValue(); isLit {
						slog.Debug("Found lower bound", "value", val.String())
						lc.initialization = user
					}
				}
			case use.ReadsLocal() && inLoop:
				// iteration step: the in-loop change of the variable; only
				// single operations with literal operand are recognized
				if isIterationStepOperation(user) {
					it, _ := loop.FindInLoop(user)
					slog.Debug("Found iteration instruction", "instruction", user.String())
					lc.iterationStep = it
					lc.hasStep = true
					lc.determineStepKind(user.(*ir.Operation).Op)
				} else if move, ok := user.(*ir.MoveOperation); ok {
					// the variable may be copied for use with an immediate
					if stepLocal := ir.OutputLocal(move); stepLocal != nil {
						for secondUser, secondUse := range stepLocal.Users() {
							it, secondInLoop := loop.FindInLoop(secondUser)
							if secondUse.ReadsLocal() && secondInLoop && isIterationStepOperation(secondUser) {
								slog.Debug("Found iteration instruction", "instruction", secondUser.String())
								lc.iterationStep = it
								lc.hasStep = true
								lc.determineStepKind(secondUser.(*ir.Operation).Op)
							}
						}
					}
				}
			}
		}

		// the repetition branch is the header's outgoing edge re-entering
		// the loop
		loop.Front().ForAllOutgoingEdges(func(neighbor *analysis.CFGNode, edge *analysis.CFGEdge) bool {
			if !edge.Implicit && loop.Contains(neighbor.Key) {
				lc.repetitionJump = edge.Branch
				lc.hasRepetition = true
				slog.Debug("Found loop repetition branch", "instruction", edge.Branch.Get().String())
			}
			return true
		})

		if lc.hasRepetition && lc.hasStep {
			extractUpperBound(loop, &lc)
		}

		if lc.initialization != nil && !lc.terminatingValue.IsUndefined() && lc.hasStep && lc.hasRepetition {
			candidates = append(candidates, lc)
		} else {
			slog.Debug("Failed to find all bounds and step for iteration variable, skipping",
				"local", local.Name)
		}
	}

	if len(candidates) == 1 {
		return candidates[0]
	}
	if len(candidates) > 1 {
		slog.Debug("Selecting from multiple iteration variables is not supported, skipping loop")
	}
	return loopControl{}
}

// extractUpperBound finds the terminating value: the other operand of the
// flag-setting comparison driving the repetition branch.
func extractUpperBound(loop *analysis.Loop, lc *loopControl) {
	branch, ok := lc.repetitionJump.Get().(*ir.Branch)
	if !ok {
		return
	}
	repeatCond := branch.BranchCondition()
	stepOut, _ := lc.iterationStep.Get().Output()
	stepLocal := stepOut.CheckLocal()
	if stepLocal == nil {
		return
	}

	// simple case: an instruction directly computes the branch condition
	var comparison ir.Instruction
	for user := range stepLocal.Users() {
		if condLocal := repeatCond.CheckLocal(); condLocal != nil && ir.WritesLocal(user, condLocal) {
			comparison = user
			break
		}
	}
	if comparison == nil {
		// default case: the variable is compared and the comparison result
		// sets the flags the branch is taken on
		for user := range stepLocal.Users() {
			if user.Flags() == ir.SetFlags {
				comparison = user
				break
			}
		}
	}
	if comparison == nil || len(comparison.Arguments()) != 2 {
		return
	}

	first, _ := comparison.Argument(0)
	second, _ := comparison.Argument(1)
	if first.HasLocal(stepLocal) {
		lc.terminatingValue = second
	} else {
		lc.terminatingValue = first
	}
	if termLocal := lc.terminatingValue.CheckLocal(); termLocal != nil {
		if writer := termLocal.SingleWriter(); writer != nil {
			if val, ok := ir.Precalculate(writer, 4); ok {
				lc.terminatingValue = val
			}
		}
	}
	slog.Debug("Found upper bound", "value", lc.terminatingValue.String())

	if op, ok := comparison.(*ir.Operation); ok {
		switch op.Op {
		case ir.OpXor:
			lc.comparison = comparisonEqual
		case ir.OpSub, ir.OpFSub:
			lc.comparison = comparisonLessThan
		}
		if lc.comparison != "" {
			slog.Debug("Found comparison type", "comparison", lc.comparison)
		}
	}
}

// determineVectorizationFactor picks the largest factor not exceeding 16
// SIMD elements which divides the iteration count evenly.
func determineVectorizationFactor(loop *analysis.Loop, lc *loopControl) (uint32, bool) {
	maxTypeWidth := uint8(1)
	loop.ForAllInstructions(func(it ir.InstructionWalker) bool {
		if out, ok := it.Get().Output(); ok {
			maxTypeWidth = max(maxTypeWidth, out.Type.VectorWidth())
		}
		return true
	})
	slog.Debug("Found maximum used vector-width", "elements", maxTypeWidth)

	initial, ok := ir.Precalculate(lc.initialization, 4)
	if !ok {
		return 0, false
	}
	initialLit, ok := initial.LiteralValue()
	if !ok {
		return 0, false
	}
	endLit, ok := lc.terminatingValue.LiteralValue()
	if !ok {
		return 0, false
	}
	stepLit, ok := lc.step()
	if !ok {
		return 0, false
	}
	iterations, err := lc.countIterations(initialLit.SignedInt(), endLit.SignedInt(), stepLit.SignedInt())
	if err != nil || iterations <= 0 {
		return 0, false
	}
	slog.Debug("Determined iteration count", "iterations", iterations)

	for factor := uint32(16) / uint32(maxTypeWidth); factor > 0; factor-- {
		if uint32(iterations)%factor == 0 {
			slog.Debug("Determined possible vectorization-factor", "factor", factor)
			return factor, true
		}
	}
	return 0, false
}

// calculateCostsVsBenefits estimates the saved cycles. A negative result
// declines vectorization; loops containing rotations, barriers, semaphores
// or aliasing memory addresses are rejected outright.
func calculateCostsVsBenefits(loop *analysis.Loop, lc *loopControl) int {
	costs := 0
	readAddresses := make(map[*ir.Local]bool)
	writtenAddresses := make(map[*ir.Local]bool)
	rejected := false

	loop.ForAllInstructions(func(it ir.InstructionWalker) bool {
		inst := it.Get()
		switch inst.(type) {
		case *ir.VectorRotation:
			slog.Debug("Cannot vectorize loops containing vector rotations", "instruction", inst.String())
			rejected = true
			return false
		case *ir.MemoryBarrier:
			slog.Debug("Cannot vectorize loops containing memory barriers", "instruction", inst.String())
			rejected = true
			return false
		case *ir.SemaphoreAdjustment:
			slog.Debug("Cannot vectorize loops containing semaphore calls", "instruction", inst.String())
			rejected = true
			return false
		}
		if out, ok := inst.Output(); ok {
			switch {
			case out.HasRegister(ir.RegVPMDMALoadAddr) || out.HasRegister(ir.RegTMU0Address) || out.HasRegister(ir.RegTMU1Address):
				for _, arg := range inst.Arguments() {
					if local := arg.CheckLocal(); local != nil {
						readAddresses[local] = true
						if local.Reference != nil {
							readAddresses[local.Reference] = true
						}
					}
				}
			case out.HasRegister(ir.RegVPMDMAStoreAddr):
				for _, arg := range inst.Arguments() {
					if local := arg.CheckLocal(); local != nil {
						writtenAddresses[local] = true
						if local.Reference != nil {
							writtenAddresses[local.Reference] = true
						}
					}
				}
			}
		}
		return true
	})
	if rejected {
		return math.MinInt
	}

	for local := range readAddresses {
		if writtenAddresses[local] {
			slog.Debug("Cannot vectorize loops reading and writing the same memory addresses",
				"local", local.Name)
			return math.MinInt
		}
	}

	// a step no longer fitting into a small immediate costs one load
	if stepOut, ok := lc.iterationStep.Get().Output(); ok {
		if uint32(stepOut.Type.VectorWidth())*lc.factor > 15 {
			costs++
		}
	}

	numInstructions := 0
	for _, node := range loop.Nodes() {
		numInstructions += node.Key.Size()
	}
	benefits := numInstructions * int(lc.factor)
	slog.Debug("Calculated cost-vs-benefit rating", "rating", benefits-costs)
	return benefits - costs
}

// scheduleForVectorization enqueues all readers of the local which are not
// yet vectorized, including the r4 read following a SFU/TMU trigger.
func scheduleForVectorization(local *ir.Local, open map[ir.Instruction]bool, loop *analysis.Loop) {
	local.ForUsers(ir.LocalUseReader, func(user ir.Instruction) {
		if !user.HasDecoration(ir.DecorationAutoVectorized) {
			open[user] = true
		}
		out, ok := user.Output()
		if !ok {
			return
		}
		if reg, isReg := out.CheckRegister(); isReg && (reg.IsSpecialFunctionsUnit() || reg.IsTextureMemoryUnit()) {
			if it, inLoop := loop.FindInLoop(user); inLoop {
				for walk := it.NextInBlock(); !walk.IsEndOfBlock(); walk = walk.NextInBlock() {
					if ir.ReadsRegister(walk.Get(), ir.RegSFUOut) &&
						!walk.Get().HasDecoration(ir.DecorationAutoVectorized) {
						open[walk.Get()] = true
						break
					}
				}
			}
		}
	})
}

// vectorizeInstruction widens all types of the instruction to the vector
// widths of its (already widened) operands and propagates the widening to
// the users of its output.
func vectorizeInstruction(it ir.InstructionWalker, method *ir.Method, open map[ir.Instruction]bool, factor uint32, loop *analysis.Loop) {
	inst := it.Get()
	slog.Debug("Vectorizing instruction", "instruction", inst.String())

	vectorWidth := uint8(1)
	for i, arg := range inst.Arguments() {
		if local := arg.CheckLocal(); local != nil && arg.Type != local.Type {
			scheduleForVectorization(local, open, loop)
			widened := arg
			widened.Type = arg.Type.ToVectorType(local.Type.VectorWidth())
			inst.SetArgument(i, widened)
			vectorWidth = max(vectorWidth, widened.Type.VectorWidth())
		} else if _, isReg := arg.CheckRegister(); isReg {
			// reading e.g. a TMU response always yields a full vector
			vectorWidth = max(vectorWidth, uint8(factor))
		}
	}

	switch inst.(type) {
	case *ir.Operation, *ir.MoveOperation, *ir.VectorRotation, *ir.LoadImmediate:
		if out, ok := inst.Output(); ok {
			widened := out
			if ptr := out.Type.Pointer; ptr != nil {
				widened.Type = method.CreatePointerType(ptr.Element.ToVectorType(vectorWidth), ptr.Space)
			} else {
				widened.Type = out.Type.ToVectorType(vectorWidth)
			}
			inst.SetOutput(widened)
			if local := widened.CheckLocal(); local != nil {
				if ptr := local.Type.Pointer; ptr != nil {
					local.Type = method.CreatePointerType(ptr.Element.ToVectorType(vectorWidth), ptr.Space)
				} else {
					local.Type = local.Type.ToVectorType(widened.Type.VectorWidth())
				}
				scheduleForVectorization(local, open, loop)
			}
		}
	}

	inst.AddDecorations(ir.DecorationAutoVectorized)
	delete(open, inst)
}

// foldVectorizedLocal reduces the widened vector back to the pre-widening
// width for a use after the loop. Requires all in-loop writers to apply a
// single side-effect-free associative operation.
func foldVectorizedLocal(method *ir.Method, outsideUser ir.Instruction, local *ir.Local, factor uint32) error {
	var foldOp ir.OpCode
	for user, use := range local.Users() {
		if !use.WritesLocal() || user.HasDecoration(ir.DecorationPhiNode) {
			continue
		}
		op, ok := user.(*ir.Operation)
		if !ok || !op.Op.IsAssociative() || op.HasSideEffects() {
			return ir.NewError(ir.StepOptimizer,
				"Accessing vectorized locals outside of the loop is not yet implemented", outsideUser.String())
		}
		if foldOp != ir.OpNone && foldOp != op.Op {
			return ir.NewError(ir.StepOptimizer,
				"Cannot fold local written with different operations", outsideUser.String())
		}
		foldOp = op.Op
	}
	if foldOp == ir.OpNone {
		return ir.NewError(ir.StepOptimizer,
			"Accessing vectorized locals outside of the loop is not yet implemented", outsideUser.String())
	}

	it, ok := method.FindWalkerForInstruction(outsideUser)
	if !ok {
		return ir.NewError(ir.StepOptimizer, "Folded instruction not found in method", outsideUser.String())
	}
	current := local.CreateReference()
	for shift := factor / 2; shift > 0; shift /= 2 {
		rotated := method.AddNewLocal(current.Type, "%fold_rotated")
		imm, _ := ir.SmallImmediateFromRotation(uint8(shift))
		rotation := ir.NewVectorRotation(rotated, current, ir.NewSmallImmediateValue(imm, ir.TypeInt8))
		rotation.AddDecorations(ir.DecorationAutoVectorized)
		it = it.Emplace(rotation).NextInBlock()
		folded := method.AddNewLocal(current.Type, "%fold")
		foldInst := ir.NewOperation(foldOp, folded, current, rotated)
		foldInst.AddDecorations(ir.DecorationAutoVectorized)
		it = it.Emplace(foldInst).NextInBlock()
		current = folded
	}
	for i, arg := range outsideUser.Arguments() {
		if arg.HasLocal(local) {
			scalar := current
			scalar.Type = current.Type.ElementType()
			outsideUser.SetArgument(i, scalar)
		}
	}
	slog.Debug("Folded vectorized local for use after loop", "local", local.Name, "operation", foldOp.String())
	return nil
}

// fixVPMSetups scales the DMA setup words inside the loop by the
// vectorization factor: the write side's depth, the read side's row length
// (modulo 16).
func fixVPMSetups(loop *analysis.Loop, lc *loopControl) int {
	numVectorized := 0
	loop.ForAllInstructions(func(it ir.InstructionWalker) bool {
		inst := it.Get()
		load, ok := inst.(*ir.LoadImmediate)
		if !ok {
			return true
		}
		switch {
		case ir.WritesRegister(inst, ir.RegVPMOutSetup):
			setup := periphery.VPWSetup(load.Immediate.UnsignedInt())
			related, found := periphery.FindRelatedVPMAccess(it, false)
			if setup.IsDMASetup() && found && related.Get().HasDecoration(ir.DecorationAutoVectorized) {
				setup = setup.WithDepth(uint8(uint32(setup.Depth()) * lc.factor))
				load.Immediate = ir.LiteralUint(uint32(setup))
				load.AddDecorations(ir.DecorationAutoVectorized)
				numVectorized++
			}
		case ir.WritesRegister(inst, ir.RegVPMInSetup):
			setup := periphery.VPRSetup(load.Immediate.UnsignedInt())
			related, found := periphery.FindRelatedVPMAccess(it, true)
			if setup.IsDMASetup() && found && related.Get().HasDecoration(ir.DecorationAutoVectorized) {
				// 0 stands for 16 elements
				setup = setup.WithRowLength(uint8(uint32(setup.RowLength()) * lc.factor % 16))
				load.Immediate = ir.LiteralUint(uint32(setup))
				load.AddDecorations(ir.DecorationAutoVectorized)
				numVectorized++
			}
		}
		return true
	})
	return numVectorized
}

// fixInitialValueAndStep rewrites the iteration start to cover the widened
// lanes and scales the step by the factor.
func fixInitialValueAndStep(method *ir.Method, loop *analysis.Loop, lc *loopControl) error {
	stepOp, ok := lc.iterationStep.Get().(*ir.Operation)
	if !ok {
		return ir.NewError(ir.StepOptimizer, "Unhandled iteration step operation", "")
	}

	if out, hasOut := lc.initialization.Output(); hasOut {
		widened := out
		widened.Type = out.Type.ToVectorType(lc.iterationVariable.Type.VectorWidth())
		lc.initialization.SetOutput(widened)
	}

	move, isMove := lc.initialization.(*ir.MoveOperation)
	stepLit, _ := lc.step()
	switch {
	case isMove && move.Source().HasLiteral(ir.LiteralInt(0)) &&
		lc.stepKind == stepAddConstant && stepLit == ir.LiteralInt(1):
		// default case: counting from zero by one becomes the element number
		move.SetSource(ir.NewRegisterValue(ir.RegElementNumber, ir.TypeInt8))
		move.AddDecorations(ir.DecorationAutoVectorized)
		slog.Debug("Changed initial value", "instruction", move.String())
	case isMove && lc.stepKind == stepAddConstant && stepLit == ir.LiteralInt(1):
		if _, isLit := move.Source().LiteralValue(); !isLit {
			return ir.NewError(ir.StepOptimizer, "Unhandled initial value", lc.initialization.String())
		}
		// general case: a literal start by one becomes start + element number
		pred := loop.FindPredecessor()
		if pred == nil {
			return ir.NewError(ir.StepOptimizer, "Unhandled initial value", lc.initialization.String())
		}
		initIt, found := pred.Key.FindWalkerForInstruction(move)
		if !found {
			return ir.NewError(ir.StepOptimizer, "Unhandled initial value", lc.initialization.String())
		}
		out, _ := move.Output()
		replacement := ir.NewOperation(ir.OpAdd, out, move.Source(),
			ir.NewRegisterValue(ir.RegElementNumber, ir.TypeInt8))
		replacement.SetCondition(move.Condition())
		replacement.AddDecorations(move.Decorations() | ir.DecorationAutoVectorized)
		initIt.Reset(replacement)
		lc.initialization = replacement
		slog.Debug("Changed initial value", "instruction", replacement.String())
	default:
		return ir.NewError(ir.StepOptimizer, "Unhandled initial value", lc.initialization.String())
	}

	switch lc.stepKind {
	case stepAddConstant, stepSubConstant:
		args := stepOp.Arguments()
		for i, arg := range args {
			lit, isLit := arg.LiteralValue()
			if !isLit {
				continue
			}
			scaled := ir.NewLiteralValue(ir.LiteralInt(lit.SignedInt()*int32(lc.factor)),
				arg.Type.ToVectorType(uint8(uint32(arg.Type.VectorWidth())*lc.factor)))
			stepOp.SetArgument(i, scaled)
			slog.Debug("Changed iteration step", "instruction", stepOp.String())
			return nil
		}
		return ir.NewError(ir.StepOptimizer, "Unhandled iteration step", stepOp.String())
	}
	return ir.NewError(ir.StepOptimizer, "Unhandled iteration step operation", stepOp.String())
}

// vectorize applies the widening: the iteration variable becomes a vector,
// the widening propagates through the loop body via a worklist, and the
// VPM setups, initial value and step are fixed up afterwards.
func vectorize(method *ir.Method, loop *analysis.Loop, lc *loopControl) error {
	open := make(map[ir.Instruction]bool)
	lc.iterationVariable.Type = lc.iterationVariable.Type.ToVectorType(
		uint8(uint32(lc.iterationVariable.Type.VectorWidth()) * lc.factor))
	scheduleForVectorization(lc.iterationVariable, open, loop)
	numVectorized := 0

	for len(open) > 0 {
		var inst ir.Instruction
		for candidate := range open {
			inst = candidate
			break
		}
		it, inLoop := loop.FindInLoop(inst)
		if !inLoop {
			// e.g. accumulation variables read after the loop must be
			// folded back to their scalar value
			slog.Debug("Local is accessed outside of loop", "instruction", inst.String())
			var foldedLocal *ir.Local
			for _, arg := range inst.Arguments() {
				if local := arg.CheckLocal(); local != nil && local.Type.VectorWidth() > 1 {
					foldedLocal = local
					break
				}
			}
			if foldedLocal == nil {
				return ir.NewError(ir.StepOptimizer,
					"Accessing vectorized locals outside of the loop is not yet implemented", inst.String())
			}
			if err := foldVectorizedLocal(method, inst, foldedLocal, lc.factor); err != nil {
				return err
			}
			delete(open, inst)
			continue
		}
		vectorizeInstruction(it, method, open, lc.factor, loop)
		numVectorized++
	}

	numVectorized += fixVPMSetups(loop, lc)
	if err := fixInitialValueAndStep(method, loop, lc); err != nil {
		return err
	}
	numVectorized += 2
	slog.Debug("Vectorization done", "changed", numVectorized)
	return nil
}

// VectorizeLoops detects vectorizable loops and widens them to process
// several iterations in one pass over the SIMD lanes.
func VectorizeLoops(module *ir.Module, method *ir.Method) error {
	defer profiler.Measure("VectorizeLoops")()

	cfg := analysis.NewCFG(method)
	loops := cfg.FindLoops()
	depGraph := analysis.NewDataDependencyGraph(method)

	for _, loop := range loops {
		profiler.Counter(profiler.CounterOptimization+33, "Loops found", 1, profiler.NoPrevCounter)
		lc := extractLoopControl(loop, depGraph)
		if lc.iterationVariable == nil {
			continue
		}
		factor, ok := determineVectorizationFactor(loop, &lc)
		if !ok {
			slog.Debug("Failed to determine a vectorization factor for the loop, aborting")
			continue
		}
		if factor == 1 {
			continue
		}
		lc.factor = factor

		if rating := calculateCostsVsBenefits(loop, &lc); rating < 0 {
			// vectorization (probably) does not pay off
			continue
		}

		if err := vectorize(method, loop, &lc); err != nil {
			return err
		}
		// the scaled iteration step may no longer fit a small immediate
		normalization.HandleImmediate(method, lc.iterationStep)
		profiler.Counter(profiler.CounterOptimization+34, "Vectorization factors", int64(factor), profiler.NoPrevCounter)
	}
	return nil
}
