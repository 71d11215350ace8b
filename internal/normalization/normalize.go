package normalization

import (
	"log/slog"

	"github.com/vc4go/vc4cc/internal/ir"
	"github.com/vc4go/vc4cc/internal/periphery"
	"github.com/vc4go/vc4cc/internal/profiler"
)

// MapMemoryAccesses is the memory lowering pass: it decides the access type
// of every memory location and replaces every generic memory instruction
// with the concrete register, VPM, TMU or DMA access sequence. Afterwards
// no MemoryInstruction remains in the method.
func MapMemoryAccesses(module *ir.Module, method *ir.Method) error {
	defer profiler.Measure("MapMemoryAccesses")()

	vpm := periphery.NewVPM()
	infos, err := AnalyzeMemoryAccess(method, vpm)
	if err != nil {
		return err
	}
	ctx := &lowerContext{vpm: vpm, infos: infos}

	insertConstantRegisterInitializers(method, infos)

	it := method.WalkAllInstructions()
	for !it.IsEndOfMethod() {
		mem, ok := it.Get().(*ir.MemoryInstruction)
		if !ok {
			it = it.NextInMethod()
			continue
		}
		srcInfos := infosFor(ctx, mem.Source())
		destInfos := infosFor(ctx, mem.Destination())
		it, err = mapMemoryAccess(method, it, mem, ctx, srcInfos, destInfos)
		if err != nil {
			return err
		}
		profiler.Counter(profiler.CounterNormalization+10, "Memory instructions lowered", 1, profiler.NoPrevCounter)
	}

	// every access must be lowered by now
	for it := method.WalkAllInstructions(); !it.IsEndOfMethod(); it = it.NextInMethod() {
		if mem, ok := it.Get().(*ir.MemoryInstruction); ok {
			return ir.NewError(ir.StepNormalizer, "Residual memory instruction after lowering", mem.String())
		}
	}
	return nil
}

func infosFor(ctx *lowerContext, v ir.Value) []*MemoryInfo {
	var infos []*MemoryInfo
	for _, local := range baseLocalsOfValue(v) {
		if info := ctx.infos[local]; info != nil {
			infos = append(infos, info)
		}
	}
	return infos
}

// insertConstantRegisterInitializers assembles the register-held content of
// constant locations at the start of the method: every element is inserted
// into its vector lane through a conditional move.
func insertConstantRegisterInitializers(method *ir.Method, infos map[*ir.Local]*MemoryInfo) {
	blocks := method.BasicBlocks()
	if len(blocks) == 0 {
		return
	}
	it := blocks[0].Walk().NextInBlock() // skip the label

	for _, info := range infos {
		if info.Type != AccessQPURegisterReadOnly || info.MappedValue == nil {
			continue
		}
		elements := info.Local.CompositeInit
		if len(elements) == 0 && info.Local.Initializer != nil {
			elements = []ir.Value{*info.Local.Initializer}
		}
		for i, element := range elements {
			if i == 0 {
				// the first write is unconditional so the register allocator
				// sees a definition
				move := ir.NewMove(*info.MappedValue, element)
				move.AddDecorations(ir.DecorationWorkGroupUniformValue)
				it = emitBefore(it, move)
				continue
			}
			setFlags := ir.NewOperation(ir.OpXor, ir.NewRegisterValue(ir.RegNop, ir.TypeInt32),
				ir.NewRegisterValue(ir.RegElementNumber, ir.TypeInt8),
				ir.NewLiteralValue(ir.LiteralInt(int32(i)), ir.TypeInt32))
			setFlags.SetFlags(ir.SetFlags)
			it = emitBefore(it, setFlags)
			move := ir.NewMove(*info.MappedValue, element)
			move.SetCondition(ir.CondZeroSet)
			move.AddDecorations(ir.DecorationElementInsertion)
			it = emitBefore(it, move)
		}
		slog.Debug("Assembled constant memory into register",
			"local", info.Local.Name, "register", info.MappedValue.String())
	}
}
