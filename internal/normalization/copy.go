package normalization

import (
	"log/slog"
	"math"

	"github.com/vc4go/vc4cc/internal/ir"
	"github.com/vc4go/vc4cc/internal/periphery"
)

// convertByteCount converts a byte-wise memcpy count into the number of
// typed entries of the aggregate behind the location, as emitted by
// front ends for i8* memcpy intrinsics.
func convertByteCount(mem *ir.MemoryInstruction, info *MemoryInfo, elementType ir.DataType, numEntries ir.Value) (ir.Value, *ir.DataType, error) {
	lit, ok := numEntries.LiteralValue()
	if !ok || info.Area == nil || elementType != ir.TypeInt8 {
		return numEntries, nil, nil
	}
	origType := info.Local.Type
	if origType.IsPointer() {
		origType = origType.ElementType()
	}
	numBytes := lit.UnsignedInt()
	if numBytes != origType.InMemoryWidth() {
		return numEntries, nil, ir.NewError(ir.StepNormalizer,
			"Byte-wise partial copy of VPM-backed memory is not implemented", mem.String())
	}
	if origType.Array != nil {
		rowType := origType.Array.Element
		return ir.NewLiteralValue(ir.LiteralUint(origType.Array.Size), ir.TypeInt32), &rowType, nil
	}
	if origType.IsVectorType() {
		rowType := origType
		return ir.IntOne, &rowType, nil
	}
	return numEntries, nil, ir.NewError(ir.StepNormalizer,
		"Unsupported element type for memory copy into VPM", mem.String())
}

// mapMemoryCopy lowers a copy according to the location types of both
// sides:
//
//	From\To |     VPM      |        RAM           | register
//	VPM     | read + write |      DMA write       | VPM read + register write
//	RAM     |   DMA read   | DMA read + DMA write | TMU/DMA read + register write
func mapMemoryCopy(method *ir.Method, it ir.InstructionWalker, mem *ir.MemoryInstruction, ctx *lowerContext, srcInfos, destInfos []*MemoryInfo) (ir.InstructionWalker, error) {
	srcInfo, err := singleSource(mem, srcInfos, "mapMemoryCopy")
	if err != nil {
		return it, err
	}
	destInfo, err := singleDestination(mem, destInfos, "mapMemoryCopy")
	if err != nil {
		return it, err
	}

	destInRegister := destInfo.Type == AccessQPURegisterReadWrite
	srcInVPM := srcInfo.Type == AccessVPMPerQPU || srcInfo.Type == AccessVPMShared
	srcInRAM := srcInfo.Type == AccessRAMLoadTMU || srcInfo.Type == AccessRAMReadWriteVPM
	destInVPM := destInfo.Type == AccessVPMPerQPU || destInfo.Type == AccessVPMShared
	destInRAM := destInfo.Type == AccessRAMLoadTMU || destInfo.Type == AccessRAMReadWriteVPM

	markParameters(srcInfos, ir.ParamInput)
	markParameters(destInfos, ir.ParamOutput)

	numEntries := mem.NumEntries()
	var vpmRowType *ir.DataType
	numEntries, vpmRowType, err = convertByteCount(mem, srcInfo, mem.SourceElementType(), numEntries)
	if err != nil {
		return it, err
	}
	if vpmRowType == nil {
		numEntries, vpmRowType, err = convertByteCount(mem, destInfo, mem.DestinationElementType(), numEntries)
		if err != nil {
			return it, err
		}
	}
	rowTypeOr := func(fallback ir.DataType) ir.DataType {
		if vpmRowType != nil {
			return *vpmRowType
		}
		return fallback
	}

	switch {
	case srcInVPM && destInVPM:
		// VPM to VPM is a QPU-side read plus write
		slog.Debug("Mapping copy from/to VPM to VPM read and VPM write", "instruction", mem.String())
		if !isSingleEntry(numEntries) {
			return it, ir.NewError(ir.StepNormalizer,
				"Copying within VPM with more than 1 entries is not yet implemented", mem.String())
		}
		if mem.GuardAccess {
			it = emitBefore(it, ir.NewMutexLock(ir.MutexAccessLock))
		}
		tmp := method.AddNewLocal(mem.SourceElementType(), "%vpm_copy_tmp")
		read := ir.NewMemoryRead(tmp, mem.Source(), numEntries, false)
		it = it.Emplace(read)
		it, err = mapMemoryAccess(method, it, read, ctx, srcInfos, destInfos)
		if err != nil {
			return it, err
		}
		write := ir.NewMemoryInstruction(ir.MemoryWrite, mem.Destination(), tmp, numEntries, false)
		it = it.Reset(write)
		it, err = mapMemoryAccess(method, it, write, ctx, srcInfos, destInfos)
		if err != nil {
			return it, err
		}
		if mem.GuardAccess {
			it = emitBefore(it, ir.NewMutexLock(ir.MutexAccessRelease))
		}
		return it, nil

	case srcInVPM && destInRAM:
		slog.Debug("Mapping copy from VPM into RAM to DMA write", "instruction", mem.String())
		offset, walker := inVPMAreaOffset(method, it, srcInfo, mem.Source())
		it = periphery.InsertWriteRAM(method, walker, mem.Destination(),
			rowTypeOr(mem.SourceElementType()), srcInfo.Area, mem.GuardAccess, offset, numEntries)
		return it.Erase(), nil

	case srcInRAM && destInVPM:
		slog.Debug("Mapping copy from RAM into VPM to DMA read", "instruction", mem.String())
		offset, walker := inVPMAreaOffset(method, it, destInfo, mem.Destination())
		it = periphery.InsertReadRAM(method, walker, mem.Source(),
			rowTypeOr(mem.DestinationElementType()), destInfo.Area, mem.GuardAccess, offset, numEntries)
		return it.Erase(), nil

	case srcInRAM && destInRAM:
		slog.Debug("Mapping copy from RAM into RAM to DMA read and DMA write", "instruction", mem.String())
		lit, ok := numEntries.LiteralValue()
		if !ok {
			it = periphery.InsertCopyRAMDynamic(method, it, mem.Destination(), mem.Source(),
				mem.SourceElementType(), numEntries, ctx.vpm.Scratch(), mem.GuardAccess)
			return it.Erase(), nil
		}
		elemType := mem.SourceElementType()
		numBytes := uint64(lit.UnsignedInt()) *
			uint64(elemType.ScalarBitCount()) * uint64(elemType.VectorWidth()) / 8
		if numBytes > math.MaxUint32 {
			return it, ir.NewError(ir.StepOptimizer, "Cannot copy more than 4GB of data", mem.String())
		}
		it = periphery.InsertCopyRAM(method, it, mem.Destination(), mem.Source(),
			uint32(numBytes), ctx.vpm.Scratch(), mem.GuardAccess)
		return it.Erase(), nil

	case destInRegister && destInfo.ConvertedType != nil:
		if copiesWholeRegister(numEntries, mem.SourceElementType(), *destInfo.ConvertedType) {
			// e.g. copying 32 bytes into a float[8] register is one read of
			// a float8 vector
			slog.Debug("Mapping copy of whole register from VPM/RAM into register to read",
				"instruction", mem.String())
			srcLocal := mem.Source().CheckLocal()
			if srcLocal == nil {
				return it, ir.NewError(ir.StepNormalizer, "Unhandled case for handling memory copy", mem.String())
			}
			src := srcLocal.CreateReference()
			src.Type = method.CreatePointerType(*destInfo.ConvertedType, ir.AddressSpacePrivate)
			read := ir.NewMemoryRead(*destInfo.MappedValue, src, ir.IntOne, mem.GuardAccess)
			it = it.Reset(read)
			return mapMemoryAccess(method, it, read, ctx, srcInfos, destInfos)
		}
		lit, ok := numEntries.LiteralValue()
		copiedBytes := uint32(0)
		if ok {
			copiedBytes = lit.UnsignedInt() * mem.SourceElementType().LogicalWidth()
		}
		if ok && copiedBytes <= ir.TypeInt32.ToVectorType(ir.NativeVectorSize).LogicalWidth() {
			// read the whole row and insert only the used elements, e.g. 20
			// entries of i8 are 5 SIMD elements of i32
			slog.Debug("Mapping partial copy into register", "instruction", mem.String())
			numElements := copiedBytes / destInfo.ConvertedType.ElementType().LogicalWidth()
			if numElements == 0 || numElements > ir.NativeVectorSize {
				return it, ir.NewError(ir.StepNormalizer, "Invalid copied number of elements", mem.String())
			}
			if mem.GuardAccess {
				it = emitBefore(it, ir.NewMutexLock(ir.MutexAccessLock))
			}
			tmp := method.AddNewLocal(mem.SourceElementType().ToVectorType(uint8(numElements)), "%mem_read_tmp")
			read := ir.NewMemoryRead(tmp, mem.Source(), ir.IntOne, false)
			it = it.Emplace(read)
			it, err = mapMemoryAccess(method, it, read, ctx, srcInfos, destInfos)
			if err != nil {
				return it, err
			}
			write := ir.NewMemoryInstruction(ir.MemoryWrite, mem.Destination(), tmp, ir.IntOne, false)
			it = it.Reset(write)
			it, err = mapMemoryAccess(method, it, write, ctx, srcInfos, destInfos)
			if err != nil {
				return it, err
			}
			if mem.GuardAccess {
				it = emitBefore(it, ir.NewMutexLock(ir.MutexAccessRelease))
			}
			return it, nil
		}
		// dynamic or too large area into a register cannot be lowered
		return it, ir.NewError(ir.StepNormalizer,
			"Copy into register needs to be re-written", mem.String())
	}

	return it, ir.NewError(ir.StepNormalizer, "Unhandled case for handling memory copy", mem.String())
}
