package normalization

import (
	"log/slog"

	"github.com/vc4go/vc4cc/internal/ir"
)

// HandleImmediate rewrites one instruction so every literal operand is
// target-legal: literals encodable as small immediates are converted in
// place, all others are materialized through a LoadImmediate into a fresh
// temporary.
func HandleImmediate(method *ir.Method, it ir.InstructionWalker) ir.InstructionWalker {
	inst := it.Get()
	switch inst.(type) {
	case *ir.LoadImmediate, *ir.BranchLabel, *ir.PhiNode:
		return it
	}
	for i, arg := range inst.Arguments() {
		lit, ok := arg.LiteralValue()
		if !ok {
			continue
		}
		if _, isImm := arg.SmallImmediate(); isImm {
			continue
		}
		if imm, ok := ir.SmallImmediateFromInteger(lit.SignedInt()); ok && !arg.Type.Float {
			inst.SetArgument(i, ir.NewSmallImmediateValue(imm, arg.Type))
			continue
		}
		tmp := method.AddNewLocal(arg.Type, "%immediate")
		it = emitBefore(it, ir.NewLoadImmediate(tmp, lit))
		inst.SetArgument(i, tmp)
		slog.Debug("Materialized over-large literal", "literal", lit.String(), "instruction", inst.String())
	}
	return it
}

// LowerLiteralValues runs HandleImmediate over the whole method.
func LowerLiteralValues(module *ir.Module, method *ir.Method) error {
	for it := method.WalkAllInstructions(); !it.IsEndOfMethod(); it = it.NextInMethod() {
		it = HandleImmediate(method, it)
	}
	return nil
}
