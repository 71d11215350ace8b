// Package periphery models the peripheral access paths of the target: the
// on-chip VPM scratchpad with its DMA engine, and the two TMUs. The insert
// functions emit the concrete register writes and reads realizing an access
// in front of the given walker position.
package periphery

import (
	"fmt"

	"github.com/vc4go/vc4cc/internal/ir"
)

const (
	// VPMRowSize is the byte width of one VPM row (16 words).
	VPMRowSize = 64
	// VPMTotalSize is the per-QPU-accessible arena size in bytes.
	VPMTotalSize = 4096
	// VPMNumRows is the number of allocatable rows.
	VPMNumRows = VPMTotalSize / VPMRowSize
)

// VPMUsage classifies what an allocated area is used for.
type VPMUsage uint8

const (
	// VPMUsageScratch is the shared staging area for RAM DMA transfers.
	VPMUsageScratch VPMUsage = iota
	// VPMUsageLocalMemory backs __local memory shared by the work-group.
	VPMUsageLocalMemory
	// VPMUsageStack backs per-QPU private stack allocations.
	VPMUsageStack
	// VPMUsageRAMCache caches RAM-backed memory rows.
	VPMUsageRAMCache
)

func (u VPMUsage) String() string {
	switch u {
	case VPMUsageScratch:
		return "scratch"
	case VPMUsageLocalMemory:
		return "local memory"
	case VPMUsageStack:
		return "stack"
	case VPMUsageRAMCache:
		return "RAM cache"
	}
	return "usage?"
}

// VPMArea is a row-aligned region of the VPM arena.
type VPMArea struct {
	Usage       VPMUsage
	ByteOffset  uint32
	NumRows     uint32
	ElementType ir.DataType
}

func (a *VPMArea) String() string {
	return fmt.Sprintf("VPM area [%d, %d) (%s)", a.ByteOffset, a.ByteOffset+a.NumRows*VPMRowSize, a.Usage)
}

// VPM is the per-method arena allocator over the scratchpad rows. The first
// row is always reserved as DMA scratch.
type VPM struct {
	areas    []*VPMArea
	usedRows uint32
	scratch  *VPMArea
}

func NewVPM() *VPM {
	v := &VPM{}
	// row 0 stages all RAM accesses which are not VPM-cached
	v.scratch = &VPMArea{Usage: VPMUsageScratch, NumRows: 1, ElementType: ir.TypeInt32.ToVectorType(16)}
	v.areas = append(v.areas, v.scratch)
	v.usedRows = 1
	return v
}

// Scratch returns the reserved DMA staging area.
func (v *VPM) Scratch() *VPMArea { return v.scratch }

// Areas returns all allocated areas including the scratch row.
func (v *VPM) Areas() []*VPMArea { return v.areas }

// AllocateArea reserves numBytes (rounded up to whole rows) for the given
// usage.
func (v *VPM) AllocateArea(usage VPMUsage, elementType ir.DataType, numBytes uint32) (*VPMArea, error) {
	rows := (numBytes + VPMRowSize - 1) / VPMRowSize
	if rows == 0 {
		rows = 1
	}
	if v.usedRows+rows > VPMNumRows {
		return nil, ir.NewError(ir.StepNormalizer, "VPM arena exhausted",
			fmt.Sprintf("%d rows requested, %d available", rows, VPMNumRows-v.usedRows))
	}
	area := &VPMArea{
		Usage:       usage,
		ByteOffset:  v.usedRows * VPMRowSize,
		NumRows:     rows,
		ElementType: elementType,
	}
	v.usedRows += rows
	v.areas = append(v.areas, area)
	return area, nil
}

// GetBestVectorSize returns the widest row type evenly dividing numBytes,
// together with the resulting number of rows.
func GetBestVectorSize(numBytes uint32) (ir.DataType, uint32) {
	for width := uint32(16); width >= 1; width /= 2 {
		if numBytes%(4*width) == 0 {
			return ir.TypeInt32.ToVectorType(uint8(width)), numBytes / (4 * width)
		}
	}
	for width := uint32(16); width >= 1; width /= 2 {
		if numBytes%width == 0 {
			return ir.TypeInt8.ToVectorType(uint8(width)), numBytes / width
		}
	}
	return ir.TypeInt8, numBytes
}

// emitBefore inserts the instruction before the current walker position and
// returns a walker still pointing at the original instruction.
func emitBefore(it ir.InstructionWalker, inst ir.Instruction) ir.InstructionWalker {
	return it.Emplace(inst).NextInBlock()
}

func insertLockMutex(it ir.InstructionWalker, guard bool) ir.InstructionWalker {
	if guard {
		it = emitBefore(it, ir.NewMutexLock(ir.MutexAccessLock))
	}
	return it
}

func insertUnlockMutex(it ir.InstructionWalker, guard bool) ir.InstructionWalker {
	if guard {
		it = emitBefore(it, ir.NewMutexLock(ir.MutexAccessRelease))
	}
	return it
}

// insertAreaOffsetRows converts a dynamic in-area byte offset into a row
// offset added to the area base row, yielding the value for the setup
// address field.
func insertAreaOffsetRows(method *ir.Method, it ir.InstructionWalker, area *VPMArea, inAreaOffset ir.Value) (ir.Value, ir.InstructionWalker) {
	baseRow := int32(0)
	if area != nil {
		baseRow = int32(area.ByteOffset / VPMRowSize)
	}
	if inAreaOffset.IsUndefined() {
		return ir.NewLiteralValue(ir.LiteralInt(baseRow), ir.TypeInt32), it
	}
	if lit, ok := inAreaOffset.LiteralValue(); ok {
		return ir.NewLiteralValue(ir.LiteralInt(baseRow+lit.SignedInt()/VPMRowSize), ir.TypeInt32), it
	}
	rows := method.AddNewLocal(ir.TypeInt32, "%vpm_row")
	it = emitBefore(it, ir.NewOperation(ir.OpShr, rows, inAreaOffset,
		ir.NewSmallImmediateValue(6, ir.TypeInt8)))
	if baseRow == 0 {
		return rows, it
	}
	sum := method.AddNewLocal(ir.TypeInt32, "%vpm_row")
	it = emitBefore(it, ir.NewOperation(ir.OpAdd, sum, rows,
		ir.NewLiteralValue(ir.LiteralInt(baseRow), ir.TypeInt32)))
	return sum, it
}

// insertSetupWrite writes a setup word to the given setup register. For a
// dynamic row offset the base setup is materialized first and the offset
// added in the setup's address field.
func insertSetupWrite(method *ir.Method, it ir.InstructionWalker, setupReg ir.Register, baseSetup uint32, rowOffset ir.Value) ir.InstructionWalker {
	setupOut := ir.NewRegisterValue(setupReg, ir.TypeInt32)
	if lit, ok := rowOffset.LiteralValue(); ok {
		return emitBefore(it, ir.NewLoadImmediate(setupOut, ir.LiteralUint(baseSetup+uint32(lit.SignedInt()))))
	}
	base := method.AddNewLocal(ir.TypeInt32, "%vpm_setup")
	it = emitBefore(it, ir.NewLoadImmediate(base, ir.LiteralUint(baseSetup)))
	return emitBefore(it, ir.NewOperation(ir.OpAdd, setupOut, base, rowOffset))
}

// insertDynamicSetupWrite materializes a setup word whose row-count field
// is only known at runtime: the count is shifted into its field and added
// to the base setup, together with any dynamic row offset.
func insertDynamicSetupWrite(method *ir.Method, it ir.InstructionWalker, setupReg ir.Register, baseSetup uint32, countShift uint8, count, rowOffset ir.Value) ir.InstructionWalker {
	base := method.AddNewLocal(ir.TypeInt32, "%dma_setup")
	it = emitBefore(it, ir.NewLoadImmediate(base, ir.LiteralUint(baseSetup)))
	shifted := method.AddNewLocal(ir.TypeInt32, "%dma_rows")
	it = emitBefore(it, ir.NewOperation(ir.OpShl, shifted, count,
		ir.NewLiteralValue(ir.LiteralInt(int32(countShift)), ir.TypeInt8)))
	setupOut := ir.NewRegisterValue(setupReg, ir.TypeInt32)
	if lit, ok := rowOffset.LiteralValue(); ok && lit.SignedInt() == 0 {
		return emitBefore(it, ir.NewOperation(ir.OpAdd, setupOut, base, shifted))
	}
	sum := method.AddNewLocal(ir.TypeInt32, "%dma_setup")
	it = emitBefore(it, ir.NewOperation(ir.OpAdd, sum, base, shifted))
	return emitBefore(it, ir.NewOperation(ir.OpAdd, setupOut, sum, rowOffset))
}

// InsertReadVPM emits a QPU-side VPM read of one vector into dest.
func InsertReadVPM(method *ir.Method, it ir.InstructionWalker, dest ir.Value, area *VPMArea, guard bool, inAreaOffset ir.Value) ir.InstructionWalker {
	it = insertLockMutex(it, guard)
	rowOffset, it := insertAreaOffsetRows(method, it, area, inAreaOffset)
	setup := NewVPRGenericSetup(1, dest.Type.VectorWidth())
	it = insertSetupWrite(method, it, ir.RegVPMInSetup, uint32(setup), rowOffset)
	it = emitBefore(it, ir.NewMove(dest, ir.NewRegisterValue(ir.RegVPMIO, dest.Type)))
	return insertUnlockMutex(it, guard)
}

// InsertWriteVPM emits a QPU-side VPM write of one vector from src.
func InsertWriteVPM(method *ir.Method, it ir.InstructionWalker, src ir.Value, area *VPMArea, guard bool, inAreaOffset ir.Value) ir.InstructionWalker {
	it = insertLockMutex(it, guard)
	rowOffset, it := insertAreaOffsetRows(method, it, area, inAreaOffset)
	setup := NewVPWGenericSetup(src.Type.VectorWidth())
	it = insertSetupWrite(method, it, ir.RegVPMOutSetup, uint32(setup), rowOffset)
	it = emitBefore(it, ir.NewMove(ir.NewRegisterValue(ir.RegVPMIO, src.Type), src))
	return insertUnlockMutex(it, guard)
}

// InsertReadRAM emits a DMA transfer of numEntries rows of rowType from RAM
// at memoryAddress into the area (or the scratch row).
func InsertReadRAM(method *ir.Method, it ir.InstructionWalker, memoryAddress ir.Value, rowType ir.DataType, area *VPMArea, guard bool, inAreaOffset, numEntries ir.Value) ir.InstructionWalker {
	it = insertLockMutex(it, guard)
	rowOffset, it := insertAreaOffsetRows(method, it, area, inAreaOffset)

	if lit, ok := numEntries.LiteralValue(); ok {
		setup := NewVPRDMASetup(rowType.VectorWidth(), uint8(lit.UnsignedInt()))
		it = insertSetupWrite(method, it, ir.RegVPMInSetup, uint32(setup), rowOffset)
	} else {
		// dynamic row count: fold the count into the setup's row field
		setup := NewVPRDMASetup(rowType.VectorWidth(), 0)
		it = insertDynamicSetupWrite(method, it, ir.RegVPMInSetup, uint32(setup), vprDMARowsShift, numEntries, rowOffset)
	}

	it = emitBefore(it, ir.NewMove(ir.NewRegisterValue(ir.RegVPMDMALoadAddr, memoryAddress.Type), memoryAddress))
	it = emitBefore(it, ir.NewMove(ir.NewRegisterValue(ir.RegNop, ir.TypeInt32),
		ir.NewRegisterValue(ir.RegVPMDMALoadWait, ir.TypeInt32)))
	return insertUnlockMutex(it, guard)
}

// InsertWriteRAM emits a DMA transfer of numEntries rows of rowType from
// the area (or the scratch row) into RAM at memoryAddress.
func InsertWriteRAM(method *ir.Method, it ir.InstructionWalker, memoryAddress ir.Value, rowType ir.DataType, area *VPMArea, guard bool, inAreaOffset, numEntries ir.Value) ir.InstructionWalker {
	it = insertLockMutex(it, guard)
	rowOffset, it := insertAreaOffsetRows(method, it, area, inAreaOffset)

	if lit, ok := numEntries.LiteralValue(); ok {
		setup := NewVPWDMASetup(rowType.VectorWidth(), uint8(lit.UnsignedInt()))
		it = insertSetupWrite(method, it, ir.RegVPMOutSetup, uint32(setup), rowOffset)
	} else {
		setup := NewVPWDMASetup(rowType.VectorWidth(), 0)
		it = insertDynamicSetupWrite(method, it, ir.RegVPMOutSetup, uint32(setup), vpwDMAUnitsShift, numEntries, rowOffset)
	}

	it = emitBefore(it, ir.NewMove(ir.NewRegisterValue(ir.RegVPMDMAStoreAddr, memoryAddress.Type), memoryAddress))
	it = emitBefore(it, ir.NewMove(ir.NewRegisterValue(ir.RegNop, ir.TypeInt32),
		ir.NewRegisterValue(ir.RegVPMDMAStoreWait, ir.TypeInt32)))
	return insertUnlockMutex(it, guard)
}

// InsertFillRAM emits a DMA write storing the staged VPM row numCopies
// times to consecutive RAM rows.
func InsertFillRAM(method *ir.Method, it ir.InstructionWalker, memoryAddress ir.Value, rowType ir.DataType, numCopies uint32, area *VPMArea, guard bool) ir.InstructionWalker {
	return InsertWriteRAM(method, it, memoryAddress, rowType, area, guard, ir.UndefValue,
		ir.NewLiteralValue(ir.LiteralUint(numCopies), ir.TypeInt32))
}

// InsertFillRAMDynamic is InsertFillRAM with a runtime-counted number of
// rows.
func InsertFillRAMDynamic(method *ir.Method, it ir.InstructionWalker, memoryAddress ir.Value, rowType ir.DataType, numEntries ir.Value, area *VPMArea, guard bool) ir.InstructionWalker {
	return InsertWriteRAM(method, it, memoryAddress, rowType, area, guard, ir.UndefValue, numEntries)
}

// InsertCopyRAM copies numBytes from srcAddress to destAddress, staging
// through the scratch area.
func InsertCopyRAM(method *ir.Method, it ir.InstructionWalker, destAddress, srcAddress ir.Value, numBytes uint32, area *VPMArea, guard bool) ir.InstructionWalker {
	rowType, numRows := GetBestVectorSize(numBytes)
	it = insertLockMutex(it, guard)
	numEntries := ir.NewLiteralValue(ir.LiteralUint(numRows), ir.TypeInt32)
	it = InsertReadRAM(method, it, srcAddress, rowType, area, false, ir.UndefValue, numEntries)
	it = InsertWriteRAM(method, it, destAddress, rowType, area, false, ir.UndefValue, numEntries)
	return insertUnlockMutex(it, guard)
}

// InsertCopyRAMDynamic copies a runtime-counted number of entries of
// rowType between RAM locations.
func InsertCopyRAMDynamic(method *ir.Method, it ir.InstructionWalker, destAddress, srcAddress ir.Value, rowType ir.DataType, numEntries ir.Value, area *VPMArea, guard bool) ir.InstructionWalker {
	it = insertLockMutex(it, guard)
	it = InsertReadRAM(method, it, srcAddress, rowType, area, false, ir.UndefValue, numEntries)
	it = InsertWriteRAM(method, it, destAddress, rowType, area, false, ir.UndefValue, numEntries)
	return insertUnlockMutex(it, guard)
}

// FindRelatedVPMAccess scans forward from the setup instruction for the VPM
// access belonging to it: after a read setup a read of the FIFO register or
// of the DMA load-wait register, after a write setup a write of the FIFO
// register or of the DMA store address.
func FindRelatedVPMAccess(setupIt ir.InstructionWalker, isRead bool) (ir.InstructionWalker, bool) {
	for it := setupIt.NextInBlock(); !it.IsEndOfBlock(); it = it.NextInBlock() {
		inst := it.Get()
		if isRead {
			if ir.ReadsRegister(inst, ir.RegVPMIO) || ir.ReadsRegister(inst, ir.RegVPMDMALoadWait) {
				return it, true
			}
		} else {
			if ir.WritesRegister(inst, ir.RegVPMIO) || ir.WritesRegister(inst, ir.RegVPMDMAStoreAddr) {
				return it, true
			}
		}
	}
	return ir.InstructionWalker{}, false
}
