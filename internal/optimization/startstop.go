package optimization

import (
	"log/slog"

	"github.com/vc4go/vc4cc/internal/ir"
)

// implicitUniform couples an implicit kernel argument with its mask bit.
// The order is the fixed UNIFORM stream layout supplied by the runtime.
type implicitUniform struct {
	name     string
	dataType ir.DataType
	mask     ir.UniformsMask
	// local IDs differ per work-item, everything else is uniform across
	// the work-group
	perWorkItem bool
}

var implicitUniforms = []implicitUniform{
	{ir.WorkDimensionsLocal, ir.TypeInt8, ir.UniformWorkDimensions, false},
	{ir.LocalSizesLocal, ir.TypeInt32, ir.UniformLocalSizes, false},
	{ir.LocalIDsLocal, ir.TypeInt32, ir.UniformLocalIDs, true},
	{ir.NumGroupsXLocal, ir.TypeInt32, ir.UniformNumGroupsX, false},
	{ir.NumGroupsYLocal, ir.TypeInt32, ir.UniformNumGroupsY, false},
	{ir.NumGroupsZLocal, ir.TypeInt32, ir.UniformNumGroupsZ, false},
	{ir.GroupIDXLocal, ir.TypeInt32, ir.UniformGroupIDX, false},
	{ir.GroupIDYLocal, ir.TypeInt32, ir.UniformGroupIDY, false},
	{ir.GroupIDZLocal, ir.TypeInt32, ir.UniformGroupIDZ, false},
	{ir.GlobalOffsetXLocal, ir.TypeInt32, ir.UniformGlobalOffsetX, false},
	{ir.GlobalOffsetYLocal, ir.TypeInt32, ir.UniformGlobalOffsetY, false},
	{ir.GlobalOffsetZLocal, ir.TypeInt32, ir.UniformGlobalOffsetZ, false},
	{ir.GlobalDataAddressLocal, ir.TypeInt32, ir.UniformGlobalDataAddress, false},
}

func isLocalUsed(method *ir.Method, name string) bool {
	local := method.FindLocal(name)
	return local != nil && local.CountUsers(ir.LocalUseReader) > 0
}

func emitBefore(it ir.InstructionWalker, inst ir.Instruction) ir.InstructionWalker {
	return it.Emplace(inst).NextInBlock()
}

// insertSignExtension emits the shift pair widening a narrow signed value.
func insertSignExtension(it ir.InstructionWalker, method *ir.Method, src, dest ir.Value, cond ir.ConditionCode) ir.InstructionWalker {
	bits := int32(src.Type.ScalarBitCount())
	// shift distances above 15 cannot be encoded directly, the literal pass
	// materializes them
	shift := ir.NewLiteralValue(ir.LiteralInt(32-bits), ir.TypeInt8)
	tmp := method.AddNewLocal(ir.TypeInt32, "%sext")
	left := ir.NewOperation(ir.OpShl, tmp, src, shift)
	left.SetCondition(cond)
	it = emitBefore(it, left)
	right := ir.NewOperation(ir.OpAsr, dest, tmp, shift)
	right.SetCondition(cond)
	return emitBefore(it, right)
}

// insertZeroExtension masks a narrow unsigned value to its width.
func insertZeroExtension(it ir.InstructionWalker, method *ir.Method, src, dest ir.Value, cond ir.ConditionCode) ir.InstructionWalker {
	mask := uint32(1)<<src.Type.ScalarBitCount() - 1
	op := ir.NewOperation(ir.OpAnd, dest, src, ir.NewLiteralValue(ir.LiteralUint(mask), ir.TypeInt32))
	op.SetCondition(cond)
	op.AddDecorations(ir.DecorationUnsignedResult)
	return emitBefore(it, op)
}

// loadVectorParameter loads one UNIFORM per vector element into the
// corresponding lane of the parameter.
func loadVectorParameter(param *ir.Local, method *ir.Method, it ir.InstructionWalker) ir.InstructionWalker {
	for i := uint8(0); i < param.Type.VectorWidth(); i++ {
		// the first write is unconditional so the register allocator finds
		// a definition
		cond := ir.CondAlways
		if i > 0 {
			setFlags := ir.NewOperation(ir.OpXor, ir.NewRegisterValue(ir.RegNop, ir.TypeInt32),
				ir.NewRegisterValue(ir.RegElementNumber, ir.TypeInt8),
				ir.NewSmallImmediateValue(ir.SmallImmediate(i), ir.TypeInt8))
			setFlags.SetFlags(ir.SetFlags)
			it = emitBefore(it, setFlags)
			cond = ir.CondZeroSet
		}
		uniform := ir.NewRegisterValue(ir.RegUniform, param.Type.ElementType())
		switch {
		case param.ParamDecorations.Has(ir.ParamSignExtend):
			it = insertSignExtension(it, method, uniform, param.CreateReference(), cond)
		case param.ParamDecorations.Has(ir.ParamZeroExtend):
			it = insertZeroExtension(it, method, uniform, param.CreateReference(), cond)
		default:
			move := ir.NewMove(param.CreateReference(), uniform)
			move.SetCondition(cond)
			move.AddDecorations(ir.DecorationElementInsertion)
			it = emitBefore(it, move)
		}
	}
	return it
}

// generateStopSegment appends the host interrupt and the program-end
// signal to the method end.
func generateStopSegment(method *ir.Method) {
	// the host interrupt value must be non-null, so the QPU number is
	// written inverted (the upper 28 bits are all ones)
	interrupt := ir.NewUnaryOperation(ir.OpNot,
		ir.NewRegisterValue(ir.RegHostInterrupt, ir.TypeInt8),
		ir.NewRegisterValue(ir.RegQPUNumber, ir.TypeInt8))
	interrupt.AddDecorations(ir.DecorationWorkGroupUniformValue)
	method.AppendToEnd(interrupt)

	stop := ir.NewNop(ir.DelayThreadEnd)
	stop.SetSignal(ir.SignalEndProgram)
	method.AppendToEnd(stop)
	method.AppendToEnd(ir.NewNop(ir.DelayThreadEnd))
	method.AppendToEnd(ir.NewNop(ir.DelayThreadEnd))
}

// AddStartStopSegment emits the kernel prologue reading all used implicit
// UNIFORM values and the explicit parameters from the UNIFORM FIFO, and
// the epilogue interrupting the host and ending the program.
func AddStartStopSegment(module *ir.Module, method *ir.Method) error {
	blocks := method.BasicBlocks()
	if len(blocks) == 0 || blocks[0].Name() != ir.DefaultBlockName {
		method.CreateAndInsertBlock(0, ir.DefaultBlockName)
		blocks = method.BasicBlocks()
	}
	it := blocks[0].Walk().NextInBlock()

	// with the second TMU used explicitly, automatic swapping must be off
	tmu1Used := false
	for checkIt := method.WalkAllInstructions(); !checkIt.IsEndOfMethod(); checkIt = checkIt.NextInMethod() {
		if ir.WritesRegister(checkIt.Get(), ir.RegTMU1Address) {
			tmu1Used = true
			break
		}
	}
	if tmu1Used {
		slog.Debug("Using both TMUs explicitly, disable automatic swapping")
		it = emitBefore(it, ir.NewMove(ir.NewRegisterValue(ir.RegTMUNoswap, ir.TypeBool),
			ir.NewSmallImmediateValue(1, ir.TypeBool)))
	}

	// the first UNIFORMs relay the work-item and work-group information
	method.Metadata.UniformsUsed = 0
	for _, uniform := range implicitUniforms {
		if !isLocalUsed(method, uniform.name) {
			continue
		}
		method.Metadata.UniformsUsed.Set(uniform.mask)
		local := method.FindOrCreateLocal(uniform.dataType, uniform.name)
		move := ir.NewMove(local.CreateReference(), ir.NewRegisterValue(ir.RegUniform, uniform.dataType))
		decorations := ir.DecorationUnsignedResult
		if !uniform.perWorkItem {
			decorations |= ir.DecorationWorkGroupUniformValue
		}
		move.AddDecorations(decorations)
		it = emitBefore(it, move)
	}

	// then the explicit kernel arguments follow in the UNIFORM stream
	for _, param := range method.Parameters {
		switch {
		case !param.Type.IsPointer() && param.Type.VectorWidth() != 1:
			// vectors cannot be read with a single UNIFORM
			it = loadVectorParameter(param, method, it)
		case param.ParamDecorations.Has(ir.ParamSignExtend):
			it = insertSignExtension(it, method,
				ir.NewRegisterValue(ir.RegUniform, param.Type), param.CreateReference(), ir.CondAlways)
		case param.ParamDecorations.Has(ir.ParamZeroExtend):
			it = insertZeroExtension(it, method,
				ir.NewRegisterValue(ir.RegUniform, param.Type), param.CreateReference(), ir.CondAlways)
		default:
			move := ir.NewMove(param.CreateReference(), ir.NewRegisterValue(ir.RegUniform, param.Type))
			decorations := ir.DecorationWorkGroupUniformValue
			if param.Type.IsPointer() {
				// all pointers are unsigned
				decorations |= ir.DecorationUnsignedResult
			}
			move.AddDecorations(decorations)
			it = emitBefore(it, move)
		}
	}

	generateStopSegment(method)
	return nil
}
