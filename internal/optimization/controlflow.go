package optimization

import (
	"log/slog"

	"github.com/vc4go/vc4cc/internal/analysis"
	"github.com/vc4go/vc4cc/internal/ir"
	"github.com/vc4go/vc4cc/internal/profiler"
)

// ExtendBranches prepares every conditional branch for the hardware: the
// condition value is ORed with the element number register so only lane 0
// decides, and the three branch delay slots are filled with NOPs.
func ExtendBranches(module *ir.Module, method *ir.Method) error {
	defer profiler.Measure("ExtendBranches")()

	// the same flags only need to be set once
	lastSetFlags := ir.UndefValue
	lastSetDecorations := ir.DecorationNone

	it := method.WalkAllInstructions()
	for !it.IsEndOfMethod() {
		branch, ok := it.Get().(*ir.Branch)
		if !ok {
			if inst := it.Get(); inst != nil && inst.Flags() == ir.SetFlags {
				// another instruction set flags, the branch condition must
				// be re-established
				lastSetFlags = ir.UndefValue
				lastSetDecorations = ir.DecorationNone
			}
			it = it.NextInMethod()
			continue
		}

		slog.Debug("Extending branch", "instruction", branch.String())
		if ir.HasConditionalExecution(branch) || !branch.BranchCondition().HasLiteral(ir.LiteralBool(true)) {
			// a branch depends on a scalar value only, so all elements but
			// the zeroth must not influence the flags: elem_num is non-zero
			// everywhere else
			onAllElements := branch.HasDecoration(ir.DecorationBranchOnAllElements)
			if !lastSetFlags.Equals(branch.BranchCondition()) ||
				onAllElements != lastSetDecorations.Has(ir.DecorationBranchOnAllElements) {
				var setFlags *ir.Operation
				if onAllElements {
					setFlags = ir.NewOperation(ir.OpOr, ir.NewRegisterValue(ir.RegNop, ir.TypeInt32),
						branch.BranchCondition(), branch.BranchCondition())
				} else {
					setFlags = ir.NewOperation(ir.OpOr, ir.NewRegisterValue(ir.RegNop, ir.TypeInt32),
						ir.NewRegisterValue(ir.RegElementNumber, ir.TypeInt8), branch.BranchCondition())
				}
				setFlags.SetFlags(ir.SetFlags)
				it = it.Emplace(setFlags).NextInBlock()
			}
			lastSetFlags = branch.BranchCondition()
			lastSetDecorations = branch.Decorations()
		}
		// fill the three branch delay slots
		it = it.NextInBlock()
		for i := 0; i < 3; i++ {
			it = it.Emplace(ir.NewNop(ir.DelayBranch)).NextInBlock()
		}
	}
	return nil
}

// MergeAdjacentBasicBlocks concatenates adjacent blocks forming a single
// predecessor/successor chain. The reserved last block stays separate for
// work-group unrolling. Chained merges are resolved through the source
// block map.
func MergeAdjacentBasicBlocks(module *ir.Module, method *ir.Method) error {
	graph := analysis.NewCFG(method)

	var blocksToMerge [][2]*ir.Local
	blocks := method.BasicBlocks()
	for i := 1; i < len(blocks); i++ {
		prevNode := graph.AssertNode(blocks[i-1])
		node := graph.AssertNode(blocks[i])
		if node.SinglePredecessor() == prevNode && prevNode.SingleSuccessor() == node &&
			blocks[i].Name() != ir.LastBlockName {
			slog.Debug("Found basic block with single direct successor",
				"first", blocks[i-1].Name(), "second", blocks[i].Name())
			blocksToMerge = append(blocksToMerge, [2]*ir.Local{blocks[i-1].LabelLocal(), blocks[i].LabelLocal()})
		}
	}

	// required to merge more than two blocks together
	blockMap := make(map[*ir.Local]*ir.Local)
	findSourceBlock := func(label *ir.Local) *ir.Local {
		for {
			mapped, ok := blockMap[label]
			if !ok {
				return label
			}
			label = mapped
		}
	}

	for _, pair := range blocksToMerge {
		destBlock := method.FindBasicBlock(findSourceBlock(pair[0]))
		sourceBlock := method.FindBasicBlock(findSourceBlock(pair[1]))
		if destBlock == nil || sourceBlock == nil {
			continue
		}

		// an explicit branch into the merged block becomes redundant
		if branch := destBlock.LastBranch(); branch != nil && branch.Target() == sourceBlock.LabelLocal() {
			if branchIt, ok := destBlock.FindWalkerForInstruction(branch); ok {
				branchIt.Erase()
			}
		}

		sourceIt := sourceBlock.Walk().NextInBlock()
		for !sourceIt.IsEndOfBlock() {
			var inst ir.Instruction
			inst, sourceIt = sourceIt.Release()
			destBlock.WalkEnd().Emplace(inst)
		}
		if method.RemoveBlock(sourceBlock) {
			slog.Debug("Merged blocks", "source", pair[1].Name, "destination", pair[0].Name)
		} else {
			slog.Warn("Failed to remove empty basic block", "block", sourceBlock.Name())
		}
		blockMap[pair[1]] = pair[0]
	}

	slog.Debug("Merged pairs of blocks", "count", len(blocksToMerge))
	return nil
}

// ReorderBasicBlocks moves a block whose single predecessor is not its
// layout predecessor to directly follow it, when the current layout
// predecessor does not fall through.
func ReorderBasicBlocks(module *ir.Module, method *ir.Method) error {
	cfg := analysis.NewCFG(method)

	index := 1
	for index < len(method.BasicBlocks()) {
		blocks := method.BasicBlocks()
		block := blocks[index]
		node := cfg.AssertNode(block)
		predecessor := node.SinglePredecessor()
		// the end-of-block is never reordered
		if block.Name() != ir.LastBlockName && predecessor != nil &&
			predecessor.Key != blocks[index-1] && !blocks[index-1].FallsThroughToNextBlock() {
			slog.Debug("Reordering block with single predecessor not being the previous block",
				"block", block.Name())
			predecessorIndex := method.BlockIndex(predecessor.Key)
			if predecessorIndex < 0 {
				return ir.NewError(ir.StepOptimizer, "Failed to find predecessor basic block", block.Name())
			}
			method.MoveBlock(index, predecessorIndex+1)
			// re-examine the block which now follows the unchanged prefix
			continue
		}
		index++
	}
	return nil
}

// ifElseBlock is a candidate for the conditional-block collapse: a
// predecessor branching into several blocks all converging on one common
// successor.
type ifElseBlock struct {
	predecessor       *analysis.CFGNode
	conditionalBlocks []*analysis.CFGNode
	successor         *analysis.CFGNode
}

func findIfElseBlocks(graph *analysis.CFG) []ifElseBlock {
	var blocks []ifElseBlock
	graph.ForAllNodes(func(node *analysis.CFGNode) {
		candidate := ifElseBlock{predecessor: node}
		valid := true
		node.ForAllOutgoingEdges(func(successor *analysis.CFGNode, _ *analysis.CFGEdge) bool {
			succ := successor.SingleSuccessor()
			if succ == nil || successor.SinglePredecessor() != node ||
				(candidate.successor != nil && succ != candidate.successor) {
				valid = false
				return false
			}
			candidate.conditionalBlocks = append(candidate.conditionalBlocks, successor)
			candidate.successor = succ
			return true
		})
		if valid && candidate.successor != nil && len(candidate.conditionalBlocks) > 1 {
			blocks = append(blocks, candidate)
		}
	})
	return blocks
}

// SimplifyConditionalBlocks collapses if/else diamonds: the conditional
// bodies are inlined into the predecessor under the branch's condition and
// the branch targets removed.
func SimplifyConditionalBlocks(module *ir.Module, method *ir.Method) error {
	for _, candidate := range findIfElseBlocks(analysis.NewCFG(method)) {
		slog.Debug("Found conditional block candidate", "predecessor", candidate.predecessor.Key.Name())

		hasSideEffects := false
		nonlocalLocals := make(map[*ir.Local]bool)
		for _, succ := range candidate.conditionalBlocks {
			for it := succ.Key.Walk().NextInBlock(); !it.IsEndOfBlock(); it = it.NextInBlock() {
				inst := it.Get()
				if _, isBranch := inst.(*ir.Branch); isBranch {
					continue
				}
				if inst.HasSideEffects() || ir.HasConditionalExecution(inst) {
					slog.Debug("Side effect in conditional block",
						"block", succ.Key.Name(), "instruction", inst.String())
					hasSideEffects = true
					break
				}
				if out := ir.OutputLocal(inst); out != nil && !succ.Key.LocallyLimited(out) {
					nonlocalLocals[out] = true
				}
			}
			if hasSideEffects {
				break
			}
		}
		if hasSideEffects {
			slog.Debug("Aborting optimization, conditional block has side effects")
			continue
		}

		predBlock := candidate.predecessor.Key
		// instructions are inserted before the first branch, so the default
		// (unconditional) body is executed first
		var firstBranch ir.Instruction
		for it := predBlock.Walk(); !it.IsEndOfBlock(); it = it.NextInBlock() {
			if _, ok := it.Get().(*ir.Branch); ok {
				firstBranch = it.Get()
				break
			}
		}

		for _, succ := range candidate.conditionalBlocks {
			// the predecessor's branch into this block, if not fall-through
			var blockBranch *ir.Branch
			for it := predBlock.Walk(); !it.IsEndOfBlock(); it = it.NextInBlock() {
				if branch, ok := it.Get().(*ir.Branch); ok && branch.Target() == succ.Key.LabelLocal() {
					blockBranch = branch
					break
				}
			}

			cond := ir.CondAlways
			condVal := ir.UndefValue
			var insertBefore ir.Instruction
			if blockBranch != nil && ir.HasConditionalExecution(blockBranch) {
				condVal = blockBranch.BranchCondition()
				cond = blockBranch.Condition()
				insertBefore = blockBranch
			} else {
				// the unconditional body must run before all conditional
				// assignments
				if blockBranch != nil {
					if branchIt, ok := predBlock.FindWalkerForInstruction(blockBranch); ok {
						branchIt.Erase()
					}
				}
				insertBefore = firstBranch
			}

			insertIt := predBlock.WalkEnd()
			if insertBefore != nil {
				if found, ok := predBlock.FindWalkerForInstruction(insertBefore); ok {
					insertIt = found
				}
			}

			// re-establish the flags the branch depended on
			if !condVal.IsUndefined() && cond != ir.CondAlways {
				setFlags := ir.NewMove(ir.NewRegisterValue(ir.RegNop, ir.TypeInt32), condVal)
				setFlags.SetFlags(ir.SetFlags)
				insertIt = insertIt.Emplace(setFlags).NextInBlock()
			}

			// move the body, making writes of escaping locals conditional
			bodyIt := succ.Key.Walk().NextInBlock()
			for !bodyIt.IsEndOfBlock() {
				inst := bodyIt.Get()
				if _, isBranch := inst.(*ir.Branch); isBranch {
					bodyIt = bodyIt.Erase()
					continue
				}
				inst, bodyIt = bodyIt.Release()
				if out := ir.OutputLocal(inst); out != nil && nonlocalLocals[out] {
					inst.SetCondition(cond)
				}
				insertIt = insertIt.Emplace(inst).NextInBlock()
			}

			// drop the conditional branch and the emptied block
			if blockBranch != nil && !condVal.IsUndefined() {
				if branchIt, ok := predBlock.FindWalkerForInstruction(blockBranch); ok {
					branchIt.Erase()
				}
			}
			if !method.RemoveBlock(succ.Key) {
				slog.Warn("Failed to remove collapsed basic block", "block", succ.Key.Name())
			}
		}

		// guarantee control continues into the common successor regardless
		// of block order
		predBlock.WalkEnd().Emplace(ir.NewUnconditionalBranch(candidate.successor.Key.LabelLocal()))
		profiler.Counter(profiler.CounterOptimization+40, "If-else blocks collapsed", 1, profiler.NoPrevCounter)
	}
	return nil
}
