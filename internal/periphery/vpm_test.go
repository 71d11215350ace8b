package periphery

import (
	"testing"

	"github.com/vc4go/vc4cc/internal/ir"
)

func TestVPMAreaAllocation(t *testing.T) {
	vpm := NewVPM()
	if vpm.Scratch() == nil || vpm.Scratch().NumRows != 1 {
		t.Fatalf("scratch row not reserved")
	}

	area, err := vpm.AllocateArea(VPMUsageStack, ir.TypeInt32, 100)
	if err != nil {
		t.Fatalf("allocate area: %v", err)
	}
	if area.NumRows != 2 {
		t.Fatalf("100 bytes allocated %d rows, want 2", area.NumRows)
	}
	if area.ByteOffset != VPMRowSize {
		t.Fatalf("area offset = %d, want %d (after scratch)", area.ByteOffset, VPMRowSize)
	}

	second, err := vpm.AllocateArea(VPMUsageLocalMemory, ir.TypeInt32, 64)
	if err != nil {
		t.Fatalf("allocate second area: %v", err)
	}
	if second.ByteOffset != area.ByteOffset+area.NumRows*VPMRowSize {
		t.Fatalf("areas overlap: %d vs %d", second.ByteOffset, area.ByteOffset)
	}
}

func TestVPMAreaExhaustion(t *testing.T) {
	vpm := NewVPM()
	if _, err := vpm.AllocateArea(VPMUsageStack, ir.TypeInt32, VPMTotalSize); err == nil {
		t.Fatalf("expected allocation beyond the arena to fail")
	}
	// exactly the remaining rows must still work
	if _, err := vpm.AllocateArea(VPMUsageStack, ir.TypeInt32, VPMTotalSize-VPMRowSize); err != nil {
		t.Fatalf("allocation of the remaining rows failed: %v", err)
	}
}

func TestVPWSetupFields(t *testing.T) {
	setup := NewVPWDMASetup(4, 3)
	if !setup.IsDMASetup() || setup.IsGenericSetup() {
		t.Fatalf("DMA setup not recognized")
	}
	if setup.Depth() != 4 || setup.Units() != 3 {
		t.Fatalf("depth/units = %d/%d, want 4/3", setup.Depth(), setup.Units())
	}
	scaled := setup.WithDepth(setup.Depth() * 16)
	if scaled.Depth() != 64 {
		t.Fatalf("scaled depth = %d, want 64", scaled.Depth())
	}
	if scaled.Units() != 3 {
		t.Fatalf("scaling depth changed units to %d", scaled.Units())
	}
	if NewVPWGenericSetup(16).IsDMASetup() {
		t.Fatalf("generic setup misdetected as DMA")
	}
}

func TestVPRSetupFields(t *testing.T) {
	setup := NewVPRDMASetup(1, 2)
	if !setup.IsDMASetup() {
		t.Fatalf("DMA read setup not recognized")
	}
	if setup.RowLength() != 1 || setup.NumRows() != 2 {
		t.Fatalf("rowlen/rows = %d/%d, want 1/2", setup.RowLength(), setup.NumRows())
	}
	// a row length of 16 wraps to the 0 encoding
	wrapped := setup.WithRowLength(uint8(uint32(setup.RowLength()) * 16 % 16))
	if wrapped.RowLength() != 0 {
		t.Fatalf("wrapped row length = %d, want 0", wrapped.RowLength())
	}
	if NewVPRGenericSetup(1, 16).IsDMASetup() {
		t.Fatalf("generic read setup misdetected as DMA")
	}
}

func TestGetBestVectorSize(t *testing.T) {
	dataType, rows := GetBestVectorSize(128)
	if dataType.VectorWidth() != 16 || rows != 2 {
		t.Fatalf("128 bytes -> %v x %d, want int32x16 x 2", dataType, rows)
	}
	dataType, rows = GetBestVectorSize(24)
	if dataType.VectorWidth() != 2 || rows != 3 {
		t.Fatalf("24 bytes -> %v x %d, want int32x2 x 3", dataType, rows)
	}
	dataType, rows = GetBestVectorSize(7)
	if dataType != ir.TypeInt8 || rows != 7 {
		t.Fatalf("7 bytes -> %v x %d, want int8 x 7", dataType, rows)
	}
}

func TestInsertReadVPMEmitsSetupAndFIFORead(t *testing.T) {
	method := ir.NewMethod("vpm_test")
	block := method.AppendBlock(ir.DefaultBlockName)
	vpm := NewVPM()
	area, err := vpm.AllocateArea(VPMUsageLocalMemory, ir.TypeInt32, 64)
	if err != nil {
		t.Fatalf("allocate area: %v", err)
	}

	dest := method.AddNewLocal(ir.TypeInt32.ToVectorType(16), "%dest")
	InsertReadVPM(method, block.WalkEnd(), dest, area, false, ir.UndefValue)

	var wroteSetup, readFIFO bool
	for it := block.Walk(); !it.IsEndOfBlock(); it = it.NextInBlock() {
		if ir.WritesRegister(it.Get(), ir.RegVPMInSetup) {
			wroteSetup = true
		}
		if ir.ReadsRegister(it.Get(), ir.RegVPMIO) {
			readFIFO = true
		}
	}
	if !wroteSetup || !readFIFO {
		t.Fatalf("VPM read emitted setup=%v fifo=%v, want both", wroteSetup, readFIFO)
	}
}

func TestInsertWriteRAMGuarded(t *testing.T) {
	method := ir.NewMethod("dma_test")
	block := method.AppendBlock(ir.DefaultBlockName)
	vpm := NewVPM()

	addr := method.AddNewLocal(ir.NewPointerType(ir.TypeInt32, ir.AddressSpaceGlobal), "%addr")
	InsertWriteRAM(method, block.WalkEnd(), addr, ir.TypeInt32.ToVectorType(16),
		vpm.Scratch(), true, ir.UndefValue, ir.IntOne)

	var locks, releases, storeAddr, storeWait int
	for it := block.Walk(); !it.IsEndOfBlock(); it = it.NextInBlock() {
		switch inst := it.Get().(type) {
		case *ir.MutexLock:
			if inst.LocksMutex() {
				locks++
			} else {
				releases++
			}
		default:
			if ir.WritesRegister(inst, ir.RegVPMDMAStoreAddr) {
				storeAddr++
			}
			if ir.ReadsRegister(inst, ir.RegVPMDMAStoreWait) {
				storeWait++
			}
		}
	}
	if locks != 1 || releases != 1 {
		t.Fatalf("mutex bracket locks/releases = %d/%d, want 1/1", locks, releases)
	}
	if storeAddr != 1 || storeWait != 1 {
		t.Fatalf("DMA store addr/wait = %d/%d, want 1/1", storeAddr, storeWait)
	}
}
