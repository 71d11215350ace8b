package optimization

import (
	"log/slog"

	"github.com/vc4go/vc4cc/internal/analysis"
	"github.com/vc4go/vc4cc/internal/graph"
	"github.com/vc4go/vc4cc/internal/ir"
)

// loopInclusionNode is a node of the loop-inclusion forest: an edge runs
// from every loop to each loop it fully contains.
type loopInclusionNode = graph.Node[*analysis.Loop, struct{}, struct{}]

func findInclusionRoot(node *loopInclusionNode) *loopInclusionNode {
	for {
		var parent *loopInclusionNode
		node.ForAllIncomingEdges(func(neighbor *loopInclusionNode, _ *struct{}) bool {
			parent = neighbor
			return false
		})
		if parent == nil {
			return node
		}
		node = parent
	}
}

// insertBeforeTrailingBranches appends the instruction to the block, in
// front of its trailing branch sequence.
func insertBeforeTrailingBranches(block *ir.BasicBlock, inst ir.Instruction) {
	it := block.WalkEnd()
	for !it.IsStartOfBlock() {
		prev := it.PreviousInBlock()
		switch prev.Get().(type) {
		case *ir.Branch, *ir.Nop:
			it = prev
			continue
		}
		break
	}
	it.Emplace(inst)
}

// RemoveConstantLoadInLoops hoists side-effect-free constant loads out of
// loop nests, into the predecessor of the outermost containing loop (or a
// newly created entry block).
func RemoveConstantLoadInLoops(module *ir.Module, method *ir.Method) error {
	cfg := analysis.NewCFG(method)
	loops := cfg.FindLoops()
	if len(loops) == 0 {
		return nil
	}

	// inclusion relation of the loops as a forest
	inclusionTree := graph.NewDirected[*analysis.Loop, struct{}, struct{}]()
	for _, outer := range loops {
		inclusionTree.GetOrCreateNode(outer)
		for _, inner := range loops {
			if outer.Includes(inner) {
				inclusionTree.GetOrCreateNode(outer).AddEdge(inner, struct{}{})
			}
		}
	}

	processed := make(map[*analysis.Loop]bool)
	for _, loop := range loops {
		root := findInclusionRoot(inclusionTree.AssertNode(loop))
		if processed[root.Key] {
			continue
		}
		processed[root.Key] = true

		var insertedBlock *ir.BasicBlock
		for _, cfgNode := range root.Key.Nodes() {
			it := cfgNode.Key.Walk()
			for !it.IsEndOfBlock() {
				load, ok := it.Get().(*ir.LoadImmediate)
				if !ok || ir.OutputLocal(load) == nil || load.HasSideEffects() ||
					ir.HasConditionalExecution(load) {
					it = it.NextInBlock()
					continue
				}
				slog.Debug("Moving constant load out of loop", "instruction", load.String())
				var inst ir.Instruction
				inst, it = it.Release()
				switch {
				case insertedBlock != nil:
					insertBeforeTrailingBranches(insertedBlock, inst)
				default:
					if pred := root.Key.FindPredecessor(); pred != nil {
						insertBeforeTrailingBranches(pred.Key, inst)
					} else {
						slog.Debug("Create a new basic block before the root of the loop nest")
						head := method.BasicBlocks()[0]
						insertedBlock = method.CreateAndInsertBlock(0, "%hoisted_constants")
						insertBeforeTrailingBranches(insertedBlock, inst)
						if head.Name() == ir.DefaultBlockName {
							// the default block must stay the entry, swap
							// the labels
							method.SwapLocalNames(head.LabelLocal(), insertedBlock.LabelLocal())
						}
					}
				}
			}
		}
	}
	return nil
}
