package normalization

import (
	"testing"

	"github.com/vc4go/vc4cc/internal/ir"
	"github.com/vc4go/vc4cc/internal/periphery"
)

func countResidualMemoryInstructions(method *ir.Method) int {
	var n int
	for it := method.WalkAllInstructions(); !it.IsEndOfMethod(); it = it.NextInMethod() {
		if _, ok := it.Get().(*ir.MemoryInstruction); ok {
			n++
		}
	}
	return n
}

func writesAnyTMUAddress(method *ir.Method) bool {
	for it := method.WalkAllInstructions(); !it.IsEndOfMethod(); it = it.NextInMethod() {
		if ir.WritesRegister(it.Get(), ir.RegTMU0Address) || ir.WritesRegister(it.Get(), ir.RegTMU1Address) {
			return true
		}
	}
	return false
}

// TestConstantVectorParameterReadBecomesRotation models reading element .y
// of a small __constant int4 argument: the load must become a vector
// rotation of the register-held content, without any TMU or DMA traffic for
// the constant.
func TestConstantVectorParameterReadBecomesRotation(t *testing.T) {
	module := ir.NewModule("test")
	method := ir.NewMethod("k")
	module.Methods = append(module.Methods, method)
	block := method.AppendBlock(ir.DefaultBlockName)

	int4 := ir.TypeInt32.ToVectorType(4)
	c := method.AddParameter("%C", ir.NewPointerType(int4, ir.AddressSpaceConstant), ir.ParamReadOnly)

	// %addr = add %C, 4 (the byte offset of element 1)
	addr := method.AddNewLocal(c.Type, "%addr")
	block.WalkEnd().Emplace(ir.NewOperation(ir.OpAdd, addr, c.CreateReference(),
		ir.NewLiteralValue(ir.LiteralInt(4), ir.TypeInt32)))
	val := method.AddNewLocal(ir.TypeInt32, "%val")
	block.WalkEnd().Emplace(ir.NewMemoryRead(val, addr, ir.IntOne, false))

	if err := MapMemoryAccesses(module, method); err != nil {
		t.Fatalf("memory lowering failed: %v", err)
	}

	if n := countResidualMemoryInstructions(method); n != 0 {
		t.Fatalf("%d residual memory instructions", n)
	}
	if writesAnyTMUAddress(method) {
		t.Fatalf("constant parameter access emitted TMU traffic")
	}

	var rotation *ir.VectorRotation
	for it := method.WalkAllInstructions(); !it.IsEndOfMethod(); it = it.NextInMethod() {
		if rot, ok := it.Get().(*ir.VectorRotation); ok {
			rotation = rot
		}
	}
	if rotation == nil {
		t.Fatalf("no vector rotation emitted for the element read")
	}
	imm, ok := rotation.Offset().SmallImmediate()
	if !ok {
		t.Fatalf("rotation offset is not a small immediate: %v", rotation.Offset())
	}
	// rotating up by 15 brings element 1 into lane 0
	if off, _ := imm.RotationOffset(); off != 15 {
		t.Fatalf("rotation offset = %d, want 15", off)
	}
	if !c.ParamDecorations.Has(ir.ParamInput) {
		t.Fatalf("constant parameter not marked as input")
	}
}

// TestTMUSelection checks the TMU partitioning: with two read-only global
// pointers, the first-seen location goes to TMU1 (the tie-breaker), the
// second to TMU0.
func TestTMUSelection(t *testing.T) {
	module := ir.NewModule("test")
	method := ir.NewMethod("k")
	module.Methods = append(module.Methods, method)
	block := method.AppendBlock(ir.DefaultBlockName)

	ptrType := ir.NewPointerType(ir.TypeInt32.ToVectorType(16), ir.AddressSpaceGlobal)
	a := method.AddParameter("%a", ptrType, ir.ParamReadOnly)
	b := method.AddParameter("%b", ptrType, ir.ParamReadOnly)

	valA := method.AddNewLocal(ir.TypeInt32.ToVectorType(16), "%val_a")
	block.WalkEnd().Emplace(ir.NewMemoryRead(valA, a.CreateReference(), ir.IntOne, false))
	valB := method.AddNewLocal(ir.TypeInt32.ToVectorType(16), "%val_b")
	block.WalkEnd().Emplace(ir.NewMemoryRead(valB, b.CreateReference(), ir.IntOne, false))

	if err := MapMemoryAccesses(module, method); err != nil {
		t.Fatalf("memory lowering failed: %v", err)
	}

	var tmuWrites []ir.Register
	for it := method.WalkAllInstructions(); !it.IsEndOfMethod(); it = it.NextInMethod() {
		for _, reg := range []ir.Register{ir.RegTMU0Address, ir.RegTMU1Address} {
			if ir.WritesRegister(it.Get(), reg) {
				tmuWrites = append(tmuWrites, reg)
			}
		}
	}
	if len(tmuWrites) != 2 {
		t.Fatalf("expected 2 TMU loads, got %d", len(tmuWrites))
	}
	if tmuWrites[0] != ir.RegTMU1Address {
		t.Fatalf("first read must use TMU1 (tie-breaker), used %v", tmuWrites[0])
	}
	if tmuWrites[1] != ir.RegTMU0Address {
		t.Fatalf("second read must use the other TMU, used %v", tmuWrites[1])
	}
	if !a.ParamDecorations.Has(ir.ParamInput) || !b.ParamDecorations.Has(ir.ParamInput) {
		t.Fatalf("TMU-read parameters not marked as input")
	}
}

// TestGlobalWriteGoesThroughDMA checks the RAM read/write path: a write
// through a global pointer must stage through the VPM and issue a DMA
// store.
func TestGlobalWriteGoesThroughDMA(t *testing.T) {
	module := ir.NewModule("test")
	method := ir.NewMethod("k")
	module.Methods = append(module.Methods, method)
	block := method.AppendBlock(ir.DefaultBlockName)

	out := method.AddParameter("%out", ir.NewPointerType(ir.TypeInt32.ToVectorType(16), ir.AddressSpaceGlobal), 0)
	val := method.AddNewLocal(ir.TypeInt32.ToVectorType(16), "%val")
	block.WalkEnd().Emplace(ir.NewMove(val, ir.IntZero))
	block.WalkEnd().Emplace(ir.NewMemoryInstruction(ir.MemoryWrite, out.CreateReference(), val, ir.IntOne, false))

	if err := MapMemoryAccesses(module, method); err != nil {
		t.Fatalf("memory lowering failed: %v", err)
	}
	if n := countResidualMemoryInstructions(method); n != 0 {
		t.Fatalf("%d residual memory instructions", n)
	}

	var storeAddr bool
	for it := method.WalkAllInstructions(); !it.IsEndOfMethod(); it = it.NextInMethod() {
		if ir.WritesRegister(it.Get(), ir.RegVPMDMAStoreAddr) {
			storeAddr = true
		}
	}
	if !storeAddr {
		t.Fatalf("global write emitted no DMA store")
	}
	if !out.ParamDecorations.Has(ir.ParamOutput) {
		t.Fatalf("written parameter not marked as output")
	}
}

// TestFillByteWidening checks the byte-fill widening chain: replicate the
// byte into a word via unpack, replicate the word across the vector, then
// fill RAM.
func TestFillByteWidening(t *testing.T) {
	module := ir.NewModule("test")
	method := ir.NewMethod("k")
	module.Methods = append(module.Methods, method)
	block := method.AppendBlock(ir.DefaultBlockName)

	out := method.AddParameter("%out", ir.NewPointerType(ir.TypeInt8, ir.AddressSpaceGlobal), 0)
	fillByte := method.AddNewLocal(ir.TypeInt8, "%byte")
	block.WalkEnd().Emplace(ir.NewMove(fillByte, ir.IntZero))
	block.WalkEnd().Emplace(ir.NewMemoryInstruction(ir.MemoryFill, out.CreateReference(), fillByte,
		ir.NewLiteralValue(ir.LiteralInt(128), ir.TypeInt32), false))

	if err := MapMemoryAccesses(module, method); err != nil {
		t.Fatalf("memory lowering failed: %v", err)
	}

	var unpacked, replicated bool
	for it := method.WalkAllInstructions(); !it.IsEndOfMethod(); it = it.NextInMethod() {
		inst := it.Get()
		if move, ok := inst.(*ir.MoveOperation); ok {
			if move.UnpackMode() == ir.Unpack8ATo32 {
				unpacked = true
			}
			if out, hasOut := move.Output(); hasOut && out.HasRegister(ir.RegReplicateAll) {
				replicated = true
			}
		}
	}
	if !unpacked {
		t.Fatalf("byte fill did not widen through the 8a->32 unpack")
	}
	if !replicated {
		t.Fatalf("byte fill did not replicate the word across the vector")
	}
}

// TestStackAllocationLoweredToRegister checks that a small private array is
// kept in a register: writes become element insertions, no periphery access
// is emitted.
func TestStackAllocationLoweredToRegister(t *testing.T) {
	module := ir.NewModule("test")
	method := ir.NewMethod("k")
	module.Methods = append(module.Methods, method)
	block := method.AppendBlock(ir.DefaultBlockName)

	arrType := ir.NewArrayType(ir.TypeInt32, 4)
	alloc := method.AddStackAllocation("%arr", ir.NewPointerType(arrType, ir.AddressSpacePrivate), 16, 4)

	val := method.AddNewLocal(ir.TypeInt32, "%val")
	block.WalkEnd().Emplace(ir.NewMove(val, ir.IntOne))
	block.WalkEnd().Emplace(ir.NewMemoryInstruction(ir.MemoryWrite, alloc.CreateReference(), val, ir.IntOne, false))

	if err := MapMemoryAccesses(module, method); err != nil {
		t.Fatalf("memory lowering failed: %v", err)
	}
	if writesAnyTMUAddress(method) {
		t.Fatalf("register-lowered stack allocation emitted TMU traffic")
	}
	var insertion bool
	for it := method.WalkAllInstructions(); !it.IsEndOfMethod(); it = it.NextInMethod() {
		if it.Get().HasDecoration(ir.DecorationElementInsertion) {
			insertion = true
		}
	}
	if !insertion {
		t.Fatalf("register-lowered write emitted no element insertion")
	}
}

func TestAnalyzeMemoryAccessTypes(t *testing.T) {
	module := ir.NewModule("test")
	method := ir.NewMethod("k")
	module.Methods = append(module.Methods, method)
	block := method.AppendBlock(ir.DefaultBlockName)

	readOnly := method.AddParameter("%in", ir.NewPointerType(ir.TypeInt32, ir.AddressSpaceGlobal), ir.ParamReadOnly)
	readWrite := method.AddParameter("%out", ir.NewPointerType(ir.TypeInt32, ir.AddressSpaceGlobal), 0)

	tmp := method.AddNewLocal(ir.TypeInt32, "%tmp")
	block.WalkEnd().Emplace(ir.NewMemoryRead(tmp, readOnly.CreateReference(), ir.IntOne, false))
	block.WalkEnd().Emplace(ir.NewMemoryInstruction(ir.MemoryWrite, readWrite.CreateReference(), tmp, ir.IntOne, false))

	infos, err := AnalyzeMemoryAccess(method, periphery.NewVPM())
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}
	if infos[readOnly].Type != AccessRAMLoadTMU {
		t.Fatalf("read-only global = %v, want TMU load", infos[readOnly].Type)
	}
	if infos[readWrite].Type != AccessRAMReadWriteVPM {
		t.Fatalf("written global = %v, want RAM via VPM", infos[readWrite].Type)
	}
}
