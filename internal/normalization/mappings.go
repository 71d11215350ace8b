package normalization

import (
	"log/slog"

	"github.com/vc4go/vc4cc/internal/ir"
	"github.com/vc4go/vc4cc/internal/periphery"
)

// lowerContext carries the per-method state through the recursive lowering.
type lowerContext struct {
	vpm   *periphery.VPM
	infos map[*ir.Local]*MemoryInfo
}

type memoryMapper func(method *ir.Method, it ir.InstructionWalker, mem *ir.MemoryInstruction, ctx *lowerContext, srcInfos, destInfos []*MemoryInfo) (ir.InstructionWalker, error)

// memoryMappers is the decision matrix: rows are the access type of the
// governing location, columns the memory operation (read, write, copy,
// fill).
var memoryMappers [6][4]memoryMapper

func init() {
	memoryMappers = [6][4]memoryMapper{
		AccessQPURegisterReadOnly:  {lowerReadOnlyToRegister, invalidMapping, lowerReadOnlyToRegister, invalidMapping},
		AccessQPURegisterReadWrite: {lowerReadWriteToRegister, lowerReadWriteToRegister, lowerCopyToRegister, lowerReadWriteToRegister},
		AccessVPMPerQPU:            {lowerReadToVPM, lowerWriteToVPM, mapMemoryCopy, lowerWriteToVPM},
		AccessVPMShared:            {lowerReadToVPM, lowerWriteToVPM, mapMemoryCopy, lowerWriteToVPM},
		AccessRAMLoadTMU:           {loadViaTMU, invalidMapping, mapMemoryCopy, invalidMapping},
		AccessRAMReadWriteVPM:      {accessRAMViaVPM, accessRAMViaVPM, mapMemoryCopy, accessRAMViaVPM},
	}
}

// mapMemoryAccess dispatches one memory instruction through the decision
// matrix. All candidate locations of the governing operand must share one
// access type.
func mapMemoryAccess(method *ir.Method, it ir.InstructionWalker, mem *ir.MemoryInstruction, ctx *lowerContext, srcInfos, destInfos []*MemoryInfo) (ir.InstructionWalker, error) {
	typeInfos := destInfos
	if mem.Op == ir.MemoryRead || mem.Op == ir.MemoryCopy {
		typeInfos = srcInfos
	}
	if len(typeInfos) == 0 {
		return it, ir.NewError(ir.StepNormalizer, "No memory location found for memory access", mem.String())
	}
	accessType := typeInfos[0].Type
	for _, info := range typeInfos {
		if info.Type != accessType {
			return it, ir.NewError(ir.StepNormalizer,
				"Can't map conditional memory accesses of different memory access types together", mem.String())
		}
	}
	return memoryMappers[accessType][mem.Op](method, it, mem, ctx, srcInfos, destInfos)
}

func invalidMapping(_ *ir.Method, it ir.InstructionWalker, mem *ir.MemoryInstruction, _ *lowerContext, _, _ []*MemoryInfo) (ir.InstructionWalker, error) {
	return it, ir.NewError(ir.StepNormalizer, "Invalid memory access", mem.String())
}

func singleSource(mem *ir.MemoryInstruction, srcInfos []*MemoryInfo, mapper string) (*MemoryInfo, error) {
	if len(srcInfos) != 1 {
		return nil, ir.NewError(ir.StepNormalizer,
			"This type of memory mapping does not yet support multiple sources", mapper+": "+mem.String())
	}
	return srcInfos[0], nil
}

func singleDestination(mem *ir.MemoryInstruction, destInfos []*MemoryInfo, mapper string) (*MemoryInfo, error) {
	if len(destInfos) != 1 {
		return nil, ir.NewError(ir.StepNormalizer,
			"This type of memory mapping does not yet support multiple destinations", mapper+": "+mem.String())
	}
	return destInfos[0], nil
}

// copiesWholeRegister reports whether copying numEntries elements moves
// exactly the whole register-mapped content, e.g. a byte-wise memcpy of the
// full vector.
func copiesWholeRegister(numEntries ir.Value, elementType, registerType ir.DataType) bool {
	lit, ok := numEntries.LiteralValue()
	return ok && lit.UnsignedInt()*elementType.LogicalWidth() == registerType.LogicalWidth()
}

func isSingleEntry(numEntries ir.Value) bool {
	lit, ok := numEntries.LiteralValue()
	return ok && lit.UnsignedInt() == 1
}

// constantValueOf resolves the accessed element of a constant global at
// compile time, when the element index is statically known.
func constantValueOf(src ir.Value) (ir.Value, bool) {
	local := src.CheckLocal()
	if local == nil {
		return ir.Value{}, false
	}
	root := baseLocal(local)
	if !root.IsGlobal() {
		return ir.Value{}, false
	}
	if local == root {
		if root.Initializer != nil {
			return *root.Initializer, true
		}
		if len(root.CompositeInit) == 1 {
			return root.CompositeInit[0], true
		}
		return ir.Value{}, false
	}
	// derived address: resolve `add %ptr, %global, <literal>`
	writer := local.SingleWriter()
	op, ok := writer.(*ir.Operation)
	if !ok || op.Op != ir.OpAdd {
		return ir.Value{}, false
	}
	second, _ := op.SecondArg()
	var offset ir.Literal
	if op.FirstArg().HasLocal(root) {
		lit, ok := second.LiteralValue()
		if !ok {
			return ir.Value{}, false
		}
		offset = lit
	} else if second.HasLocal(root) {
		lit, ok := op.FirstArg().LiteralValue()
		if !ok {
			return ir.Value{}, false
		}
		offset = lit
	} else {
		return ir.Value{}, false
	}
	elemWidth := root.Type.ElementType().ElementType().InMemoryWidth()
	if elemWidth == 0 {
		return ir.Value{}, false
	}
	index := offset.UnsignedInt() / elemWidth
	if int(index) < len(root.CompositeInit) {
		return root.CompositeInit[index], true
	}
	return ir.Value{}, false
}

// lowerReadOnlyToRegister lowers reads of (and copies from) a constant
// location kept in a register. This is the preferred lowering: no periphery
// access remains.
func lowerReadOnlyToRegister(method *ir.Method, it ir.InstructionWalker, mem *ir.MemoryInstruction, ctx *lowerContext, srcInfos, destInfos []*MemoryInfo) (ir.InstructionWalker, error) {
	srcInfo, err := singleSource(mem, srcInfos, "lowerReadOnlyToRegister")
	if err != nil {
		return it, err
	}
	if mem.Op != ir.MemoryRead && mem.Op != ir.MemoryCopy {
		return it, ir.NewError(ir.StepNormalizer, "Cannot perform a non-read operation on constant memory", mem.String())
	}

	// the direct value may be determinable at compile time
	if constant, ok := constantValueOf(mem.Source()); ok && mem.Op == ir.MemoryRead {
		it = it.Reset(ir.NewMove(mem.Destination(), constant))
		slog.Debug("Replaced loading of constant memory with constant literal", "instruction", it.Get().String())
		return it, nil
	}

	if srcInfo.MappedValue == nil {
		return it, ir.NewError(ir.StepNormalizer, "Unhandled case of lowering constant memory to register", mem.String())
	}

	index, it := insertAddressToElementOffset(it, method, mem.Source(), srcInfo.Local, *srcInfo.MappedValue)
	elementType := srcInfo.MappedValue.Type.ElementType()
	if srcInfo.ConvertedType != nil {
		elementType = srcInfo.ConvertedType.ElementType()
	}

	wholeRegister := srcInfo.ConvertedType != nil &&
		copiesWholeRegister(mem.NumEntries(), mem.DestinationElementType(), *srcInfo.ConvertedType)

	var tmpVal ir.Value
	if mem.Op == ir.MemoryCopy && wholeRegister {
		// no index calculation needed when the whole object is copied
		tmpVal = *srcInfo.MappedValue
	} else {
		tmpVal = method.AddNewLocal(elementType, "%lowered_constant")
		it = insertVectorExtraction(it, method, *srcInfo.MappedValue, index, tmpVal)
	}

	switch mem.Op {
	case ir.MemoryRead:
		it = it.Reset(ir.NewMove(mem.Destination(), tmpVal))
		slog.Debug("Replaced loading of constant memory with vector rotation of register",
			"instruction", it.Get().String())
		return it, nil
	case ir.MemoryCopy:
		if !wholeRegister && !isSingleEntry(mem.NumEntries()) {
			return it, ir.NewError(ir.StepNormalizer,
				"Lowering copy with more than 1 entry is not yet implemented", mem.String())
		}
		it = it.Reset(ir.NewMemoryInstruction(ir.MemoryWrite, mem.Destination(), tmpVal, ir.IntOne, mem.GuardAccess))
		slog.Debug("Replaced copying from constant memory with vector rotation and writing of memory",
			"instruction", it.Get().String())
		return mapMemoryAccess(method, it, it.Get().(*ir.MemoryInstruction), ctx, srcInfos, destInfos)
	}
	return it, ir.NewError(ir.StepNormalizer, "Unhandled case of lowering constant memory to register", mem.String())
}

// lowerReadWriteToRegister lowers accesses to a private location kept in a
// register into vector extractions/insertions.
func lowerReadWriteToRegister(method *ir.Method, it ir.InstructionWalker, mem *ir.MemoryInstruction, ctx *lowerContext, srcInfos, destInfos []*MemoryInfo) (ir.InstructionWalker, error) {
	var loweredInfo *MemoryInfo
	var err error
	if mem.Op == ir.MemoryRead {
		loweredInfo, err = singleSource(mem, srcInfos, "lowerReadWriteToRegister")
	} else {
		loweredInfo, err = singleDestination(mem, destInfos, "lowerReadWriteToRegister")
	}
	if err != nil {
		return it, err
	}
	if loweredInfo.MappedValue == nil {
		return it, ir.NewError(ir.StepNormalizer,
			"Cannot map memory location to register without mapping register specified", mem.String())
	}
	register := *loweredInfo.MappedValue

	switch {
	case mem.Op == ir.MemoryRead:
		index, walker := insertAddressToElementOffset(it, method, mem.Source(), loweredInfo.Local, register)
		it = insertVectorExtraction(walker, method, register, index, mem.Destination())
	case mem.Op == ir.MemoryWrite:
		index, walker := insertAddressToElementOffset(it, method, mem.Destination(), loweredInfo.Local, register)
		it = insertVectorInsertion(walker, method, register, index, mem.Source())
	case mem.Op == ir.MemoryFill && mem.Source().Type.IsScalarType():
		it = insertReplication(it, mem.Source(), register)
	default:
		return it, ir.NewError(ir.StepNormalizer, "Unhandled case of lowering memory access to register", mem.String())
	}
	slog.Debug("Replaced access to register-lowered memory", "instruction", mem.String())
	return it.Erase(), nil
}

// lowerCopyToRegister lowers copies out of a register-mapped location into
// a read plus a recursive write of the extracted value.
func lowerCopyToRegister(method *ir.Method, it ir.InstructionWalker, mem *ir.MemoryInstruction, ctx *lowerContext, srcInfos, destInfos []*MemoryInfo) (ir.InstructionWalker, error) {
	srcInfo, err := singleSource(mem, srcInfos, "lowerCopyToRegister")
	if err != nil {
		return it, err
	}
	destInfo, err := singleDestination(mem, destInfos, "lowerCopyToRegister")
	if err != nil {
		return it, err
	}
	if srcInfo.Local == destInfo.Local {
		return it, ir.NewError(ir.StepNormalizer,
			"Copy from and to same register lowered memory area is not supported", mem.String())
	}
	if mem.Op != ir.MemoryCopy {
		return it, ir.NewError(ir.StepNormalizer, "Unhandled case of lowering memory access to register", mem.String())
	}
	if destInfo.Type == AccessQPURegisterReadOnly {
		return it, ir.NewError(ir.StepNormalizer, "Copy into read-only registers is not supported", mem.String())
	}
	if srcInfo.MappedValue == nil {
		return it, ir.NewError(ir.StepNormalizer, "Unhandled case of lowering memory access to register", mem.String())
	}

	wholeRegister := srcInfo.ConvertedType != nil &&
		copiesWholeRegister(mem.NumEntries(), mem.DestinationElementType(), *srcInfo.ConvertedType)
	slog.Debug("Lowering copy with register-mapped memory", "instruction", mem.String())

	var tmp ir.Value
	if wholeRegister {
		tmp = *srcInfo.MappedValue
	} else {
		if !isSingleEntry(mem.NumEntries()) {
			if lit, ok := mem.NumEntries().LiteralValue(); ok {
				// copied entries could be bytes while the register holds
				// half-words or words
				typeFactor := uint32(srcInfo.MappedValue.Type.ElementType().ScalarBitCount()) /
					uint32(mem.SourceElementType().ScalarBitCount())
				if typeFactor == 0 || lit.UnsignedInt()%typeFactor != 0 {
					return it, ir.NewError(ir.StepNormalizer,
						"Copied number of bytes is not a multiple of the actual register type", mem.String())
				}
				numElements := lit.UnsignedInt() / typeFactor
				if numElements == 0 || numElements > ir.NativeVectorSize {
					return it, ir.NewError(ir.StepNormalizer, "Invalid copied number of elements", mem.String())
				}
			}
			return it, ir.NewError(ir.StepNormalizer,
				"Lowering copy with a dynamic number of entries is not yet implemented", mem.String())
		}
		tmp = method.AddNewLocal(mem.SourceElementType(), "%lowered_copy")
		index, walker := insertAddressToElementOffset(it, method, mem.Source(), srcInfo.Local, *srcInfo.MappedValue)
		it = insertVectorExtraction(walker, method, *srcInfo.MappedValue, index, tmp)
	}
	it = it.Reset(ir.NewMemoryInstruction(ir.MemoryWrite, mem.Destination(), tmp, ir.IntOne, mem.GuardAccess))
	return mapMemoryAccess(method, it, it.Get().(*ir.MemoryInstruction), ctx, srcInfos, destInfos)
}

// inVPMAreaOffset computes the in-area byte offset of the accessed address.
func inVPMAreaOffset(method *ir.Method, it ir.InstructionWalker, info *MemoryInfo, ptrValue ir.Value) (ir.Value, ir.InstructionWalker) {
	if info.Type == AccessVPMPerQPU && info.Area != nil {
		perQPU := info.Area.NumRows * periphery.VPMRowSize / 4
		return insertAddressToStackOffset(it, method, ptrValue, info.Local, perQPU)
	}
	return insertAddressToOffset(it, method, ptrValue, info.Local)
}

// lowerReadToVPM lowers a read of a VPM-backed location.
func lowerReadToVPM(method *ir.Method, it ir.InstructionWalker, mem *ir.MemoryInstruction, ctx *lowerContext, srcInfos, destInfos []*MemoryInfo) (ir.InstructionWalker, error) {
	srcInfo, err := singleSource(mem, srcInfos, "lowerReadToVPM")
	if err != nil {
		return it, err
	}
	if srcInfo.Type == AccessVPMPerQPU && !srcInfo.Local.IsStackAllocation() {
		return it, ir.NewError(ir.StepNormalizer, "Unhandled case of per-QPU memory buffer", srcInfo.Local.String())
	}
	if srcInfo.Area == nil {
		return it, ir.NewError(ir.StepNormalizer, "Cannot lower into VPM without VPM area", mem.String())
	}
	if mem.Op != ir.MemoryRead {
		return it, ir.NewError(ir.StepNormalizer, "Unhandled case to lower reading of memory into VPM", mem.String())
	}
	slog.Debug("Lowering read of memory into VPM", "instruction", mem.String())
	offset, it := inVPMAreaOffset(method, it, srcInfo, mem.Source())
	it = periphery.InsertReadVPM(method, it, mem.Destination(), srcInfo.Area, mem.GuardAccess, offset)
	return it.Erase(), nil
}

// lowerWriteToVPM lowers writes and fills of a VPM-backed location.
func lowerWriteToVPM(method *ir.Method, it ir.InstructionWalker, mem *ir.MemoryInstruction, ctx *lowerContext, srcInfos, destInfos []*MemoryInfo) (ir.InstructionWalker, error) {
	destInfo, err := singleDestination(mem, destInfos, "lowerWriteToVPM")
	if err != nil {
		return it, err
	}
	if destInfo.Type == AccessVPMPerQPU && !destInfo.Local.IsStackAllocation() {
		return it, ir.NewError(ir.StepNormalizer, "Unhandled case of per-QPU memory buffer", destInfo.Local.String())
	}
	if destInfo.Area == nil {
		return it, ir.NewError(ir.StepNormalizer, "Cannot lower into VPM without VPM area", mem.String())
	}

	switch mem.Op {
	case ir.MemoryWrite:
		slog.Debug("Lowering write of memory into VPM", "instruction", mem.String())
		offset, walker := inVPMAreaOffset(method, it, destInfo, mem.Destination())
		it = periphery.InsertWriteVPM(method, walker, mem.Source(), destInfo.Area, mem.GuardAccess, offset)
		return it.Erase(), nil
	case ir.MemoryFill:
		numEntries, ok := mem.NumEntries().LiteralValue()
		if !ok {
			return it, ir.NewError(ir.StepNormalizer,
				"Filling dynamically sized VPM area is not yet implemented", mem.String())
		}
		if mem.Source().Type == ir.TypeInt8 {
			// combine single bytes into whole vectors to avoid writing each
			// byte separately
			vpmType, numVectors := periphery.GetBestVectorSize(numEntries.UnsignedInt())
			fillWord := method.AddNewLocal(ir.TypeInt32, "%fill_word")
			widen := ir.NewMove(fillWord, mem.Source())
			widen.SetUnpackMode(ir.Unpack8ATo32)
			it = emitBefore(it, widen)
			fillVector := method.AddNewLocal(ir.TypeInt32.ToVectorType(16), "%memory_fill")
			it = insertReplication(it, fillWord, fillVector)
			offset, walker := inVPMAreaOffset(method, it, destInfo, mem.Destination())
			it = walker
			if mem.GuardAccess {
				it = emitBefore(it, ir.NewMutexLock(ir.MutexAccessLock))
			}
			rowBytes := vpmType.InMemoryWidth()
			for i := uint32(0); i < numVectors; i++ {
				byteOffset := offset
				if i > 0 {
					sum := method.AddNewLocal(ir.TypeInt32, "%fill_offset")
					it = emitBefore(it, ir.NewOperation(ir.OpAdd, sum, offset,
						ir.NewLiteralValue(ir.LiteralUint(i*rowBytes), ir.TypeInt32)))
					byteOffset = sum
				}
				it = periphery.InsertWriteVPM(method, it, fillVector, destInfo.Area, false, byteOffset)
			}
			if mem.GuardAccess {
				it = emitBefore(it, ir.NewMutexLock(ir.MutexAccessRelease))
			}
			return it.Erase(), nil
		}
		// wider sources are written per entry
		offset, walker := inVPMAreaOffset(method, it, destInfo, mem.Destination())
		it = walker
		if mem.GuardAccess {
			it = emitBefore(it, ir.NewMutexLock(ir.MutexAccessLock))
		}
		entryBytes := mem.Source().Type.InMemoryWidth()
		for i := uint32(0); i < numEntries.UnsignedInt(); i++ {
			byteOffset := offset
			if i > 0 {
				sum := method.AddNewLocal(ir.TypeInt32, "%fill_offset")
				it = emitBefore(it, ir.NewOperation(ir.OpAdd, sum, offset,
					ir.NewLiteralValue(ir.LiteralUint(i*entryBytes), ir.TypeInt32)))
				byteOffset = sum
			}
			it = periphery.InsertWriteVPM(method, it, mem.Source(), destInfo.Area, false, byteOffset)
		}
		if mem.GuardAccess {
			it = emitBefore(it, ir.NewMutexLock(ir.MutexAccessRelease))
		}
		return it.Erase(), nil
	}
	return it, ir.NewError(ir.StepNormalizer, "Unhandled case to lower writing of memory into VPM", mem.String())
}

// loadViaTMU maps a read of read-only RAM to a TMU load. All conditional
// sources must use the same TMU; the fuller side keeps its sources.
func loadViaTMU(method *ir.Method, it ir.InstructionWalker, mem *ir.MemoryInstruction, ctx *lowerContext, srcInfos, destInfos []*MemoryInfo) (ir.InstructionWalker, error) {
	if mem.Op != ir.MemoryRead {
		return it, ir.NewError(ir.StepNormalizer, "Unhandled case to read from memory via TMU", mem.String())
	}
	slog.Debug("Loading from read-only memory via TMU", "instruction", mem.String())
	var numTMU0, numTMU1 int
	for _, info := range srcInfos {
		if info.Local.IsParameter() {
			info.Local.ParamDecorations |= ir.ParamInput
		}
		if info.TMUFlag {
			numTMU0++
		} else {
			numTMU1++
		}
	}
	// prefer TMU1, TMU0 statistically carries more traffic
	tmu := periphery.TMU1
	if numTMU0 > numTMU1 {
		tmu = periphery.TMU0
	}
	it = periphery.InsertReadVectorFromTMU(method, it, mem.Destination(), mem.Source(), tmu)
	return it.Erase(), nil
}

// insertReadDMA stages a RAM read through the scratch area: DMA into VPM,
// then a VPM read into the destination.
func insertReadDMA(method *ir.Method, it ir.InstructionWalker, ctx *lowerContext, dest, srcAddress ir.Value, guard bool) ir.InstructionWalker {
	if guard {
		it = emitBefore(it, ir.NewMutexLock(ir.MutexAccessLock))
	}
	it = periphery.InsertReadRAM(method, it, srcAddress, dest.Type, ctx.vpm.Scratch(), false, ir.UndefValue, ir.IntOne)
	it = periphery.InsertReadVPM(method, it, dest, ctx.vpm.Scratch(), false, ir.UndefValue)
	if guard {
		it = emitBefore(it, ir.NewMutexLock(ir.MutexAccessRelease))
	}
	return it
}

// insertWriteDMA stages a RAM write through the scratch area: VPM write,
// then DMA out to RAM.
func insertWriteDMA(method *ir.Method, it ir.InstructionWalker, ctx *lowerContext, src, destAddress ir.Value, guard bool) ir.InstructionWalker {
	if guard {
		it = emitBefore(it, ir.NewMutexLock(ir.MutexAccessLock))
	}
	it = periphery.InsertWriteVPM(method, it, src, ctx.vpm.Scratch(), false, ir.UndefValue)
	it = periphery.InsertWriteRAM(method, it, destAddress, src.Type, ctx.vpm.Scratch(), false, ir.UndefValue, ir.IntOne)
	if guard {
		it = emitBefore(it, ir.NewMutexLock(ir.MutexAccessRelease))
	}
	return it
}

// accessRAMViaVPM maps an access to RAM-located memory through the VPM DMA
// engine. This is the least optimal mapping.
func accessRAMViaVPM(method *ir.Method, it ir.InstructionWalker, mem *ir.MemoryInstruction, ctx *lowerContext, srcInfos, destInfos []*MemoryInfo) (ir.InstructionWalker, error) {
	slog.Debug("Mapping access to memory located in RAM", "instruction", mem.String())
	switch mem.Op {
	case ir.MemoryFill:
		if mem.GuardAccess {
			it = emitBefore(it, ir.NewMutexLock(ir.MutexAccessLock))
		}
		if numCopies, ok := mem.NumEntries().LiteralValue(); ok {
			if mem.Source().Type == ir.TypeInt8 {
				// batch single bytes into the widest dividing vector
				vpmType, numVectors := periphery.GetBestVectorSize(numCopies.UnsignedInt())
				fillWord := method.AddNewLocal(ir.TypeInt32, "%fill_word")
				widen := ir.NewMove(fillWord, mem.Source())
				widen.SetUnpackMode(ir.Unpack8ATo32)
				it = emitBefore(it, widen)
				fillVector := method.AddNewLocal(ir.TypeInt32.ToVectorType(16), "%memory_fill")
				it = insertReplication(it, fillWord, fillVector)
				it = periphery.InsertWriteVPM(method, it, fillVector, ctx.vpm.Scratch(), false, ir.UndefValue)
				it = periphery.InsertFillRAM(method, it, mem.Destination(), vpmType, numVectors, ctx.vpm.Scratch(), false)
			} else {
				it = periphery.InsertWriteVPM(method, it, mem.Source(), ctx.vpm.Scratch(), false, ir.UndefValue)
				it = periphery.InsertFillRAM(method, it, mem.Destination(), mem.SourceElementType(),
					numCopies.UnsignedInt(), ctx.vpm.Scratch(), false)
			}
		} else {
			it = periphery.InsertWriteVPM(method, it, mem.Source(), ctx.vpm.Scratch(), false, ir.UndefValue)
			it = periphery.InsertFillRAMDynamic(method, it, mem.Destination(), mem.SourceElementType(),
				mem.NumEntries(), ctx.vpm.Scratch(), false)
		}
		if mem.GuardAccess {
			it = emitBefore(it, ir.NewMutexLock(ir.MutexAccessRelease))
		}
		markParameters(destInfos, ir.ParamOutput)
	case ir.MemoryRead:
		it = insertReadDMA(method, it, ctx, mem.Destination(), mem.Source(), mem.GuardAccess)
		markParameters(srcInfos, ir.ParamInput)
	case ir.MemoryWrite:
		it = insertWriteDMA(method, it, ctx, mem.Source(), mem.Destination(), mem.GuardAccess)
		markParameters(destInfos, ir.ParamOutput)
	default:
		return it, ir.NewError(ir.StepNormalizer, "Unhandled case of accessing RAM", mem.String())
	}
	return it.Erase(), nil
}

func markParameters(infos []*MemoryInfo, decoration ir.ParameterDecorations) {
	for _, info := range infos {
		if info.Local.IsParameter() {
			info.Local.ParamDecorations |= decoration
		}
	}
}
