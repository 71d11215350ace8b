package ir

import "testing"

func TestDataTypeInterning(t *testing.T) {
	a := NewPointerType(TypeInt32, AddressSpaceGlobal)
	b := NewPointerType(TypeInt32, AddressSpaceGlobal)
	if a != b {
		t.Fatalf("interned pointer types differ: %v vs %v", a, b)
	}
	c := NewPointerType(TypeInt32, AddressSpaceLocal)
	if a == c {
		t.Fatalf("pointer types with different address spaces compare equal")
	}
	arr1 := NewArrayType(TypeInt8, 12)
	arr2 := NewArrayType(TypeInt8, 12)
	if arr1 != arr2 {
		t.Fatalf("interned array types differ")
	}
}

func TestDataTypeWidths(t *testing.T) {
	vec := TypeInt32.ToVectorType(4)
	if vec.VectorWidth() != 4 {
		t.Fatalf("vector width = %d, want 4", vec.VectorWidth())
	}
	if vec.LogicalWidth() != 16 {
		t.Fatalf("logical width = %d, want 16", vec.LogicalWidth())
	}
	if vec.ElementType() != TypeInt32 {
		t.Fatalf("element type = %v, want int32", vec.ElementType())
	}
	arr := NewArrayType(TypeInt32, 8)
	if arr.InMemoryWidth() != 32 {
		t.Fatalf("array in-memory width = %d, want 32", arr.InMemoryWidth())
	}
	ptr := NewPointerType(vec, AddressSpacePrivate)
	if ptr.ElementType() != vec {
		t.Fatalf("pointer element = %v, want %v", ptr.ElementType(), vec)
	}
}

func TestSmallImmediateEncoding(t *testing.T) {
	for _, v := range []int32{0, 1, 15, -1, -16} {
		imm, ok := SmallImmediateFromInteger(v)
		if !ok {
			t.Fatalf("expected %d to be encodable", v)
		}
		got, ok := imm.Integer()
		if !ok || got != v {
			t.Fatalf("round trip of %d yielded %d", v, got)
		}
	}
	if _, ok := SmallImmediateFromInteger(16); ok {
		t.Fatalf("16 must not fit a small immediate")
	}
	if _, ok := SmallImmediateFromInteger(-17); ok {
		t.Fatalf("-17 must not fit a small immediate")
	}
	rot, ok := SmallImmediateFromRotation(3)
	if !ok {
		t.Fatalf("rotation by 3 must be encodable")
	}
	if off, ok := rot.RotationOffset(); !ok || off != 3 {
		t.Fatalf("rotation offset = %d, want 3", off)
	}
}

func TestValueEquals(t *testing.T) {
	lit := NewLiteralValue(LiteralInt(7), TypeInt32)
	imm := NewSmallImmediateValue(7, TypeInt32)
	if !lit.Equals(imm) {
		t.Fatalf("literal 7 and small immediate 7 must compare equal")
	}
	if lit.Equals(NewLiteralValue(LiteralInt(8), TypeInt32)) {
		t.Fatalf("different literals compare equal")
	}
	reg := NewRegisterValue(RegElementNumber, TypeInt8)
	if !reg.HasRegister(RegElementNumber) || reg.HasRegister(RegQPUNumber) {
		t.Fatalf("register check failed")
	}
}

func TestWalkerEditing(t *testing.T) {
	method := NewMethod("test")
	block := method.AppendBlock(DefaultBlockName)

	a := method.AddNewLocal(TypeInt32, "%a")
	b := method.AddNewLocal(TypeInt32, "%b")

	it := block.WalkEnd()
	it = it.Emplace(NewMove(a, IntOne))
	it = it.NextInBlock()
	it = it.Emplace(NewOperation(OpAdd, b, a, IntOne))

	if block.Size() != 3 {
		t.Fatalf("block size = %d, want 3 (label + 2)", block.Size())
	}

	// the walker points at the add, erase it
	if _, ok := it.Get().(*Operation); !ok {
		t.Fatalf("walker not at the inserted operation, at %v", it.Get())
	}
	it = it.Erase()
	if block.Size() != 2 {
		t.Fatalf("block size after erase = %d, want 2", block.Size())
	}
	if !it.IsEndOfBlock() {
		t.Fatalf("walker should be at end of block after erasing the last instruction")
	}
}

func TestLocalUserTracking(t *testing.T) {
	method := NewMethod("test")
	block := method.AppendBlock(DefaultBlockName)

	a := method.AddNewLocal(TypeInt32, "%a")
	aLocal := a.CheckLocal()
	b := method.AddNewLocal(TypeInt32, "%b")
	bLocal := b.CheckLocal()

	move := NewMove(a, IntOne)
	block.WalkEnd().Emplace(move)
	add := NewOperation(OpAdd, b, a, IntOne)
	it := block.WalkEnd().Emplace(add)

	if aLocal.SingleWriter() != move {
		t.Fatalf("single writer of %%a not the move")
	}
	if aLocal.CountUsers(LocalUseReader) != 1 {
		t.Fatalf("readers of %%a = %d, want 1", aLocal.CountUsers(LocalUseReader))
	}

	// replacing the argument must migrate the user entry
	add.SetArgument(0, b)
	if aLocal.CountUsers(LocalUseReader) != 0 {
		t.Fatalf("stale reader of %%a after argument replacement")
	}
	if bLocal.CountUsers(LocalUseReader) != 1 {
		t.Fatalf("readers of %%b = %d, want 1", bLocal.CountUsers(LocalUseReader))
	}

	it.Erase()
	if bLocal.CountUsers(LocalUseReader) != 0 || bLocal.SingleWriter() != nil {
		t.Fatalf("users of %%b not cleared after erase")
	}
}

func TestPrecalculate(t *testing.T) {
	method := NewMethod("test")
	block := method.AppendBlock(DefaultBlockName)

	a := method.AddNewLocal(TypeInt32, "%a")
	b := method.AddNewLocal(TypeInt32, "%b")
	block.WalkEnd().Emplace(NewLoadImmediate(a, LiteralInt(100)))
	add := NewOperation(OpAdd, b, a, NewLiteralValue(LiteralInt(23), TypeInt32))
	block.WalkEnd().Emplace(add)

	val, ok := Precalculate(add, 4)
	if !ok {
		t.Fatalf("expected add of constants to precalculate")
	}
	lit, ok := val.LiteralValue()
	if !ok || lit.SignedInt() != 123 {
		t.Fatalf("precalculated %v, want 123", val)
	}
}

func TestBlockFallThrough(t *testing.T) {
	method := NewMethod("test")
	first := method.AppendBlock(DefaultBlockName)
	second := method.AppendBlock("%next")

	if !first.FallsThroughToNextBlock() {
		t.Fatalf("block without branch must fall through")
	}
	first.WalkEnd().Emplace(NewUnconditionalBranch(second.LabelLocal()))
	if first.FallsThroughToNextBlock() {
		t.Fatalf("block with unconditional branch must not fall through")
	}

	cond := method.AddNewLocal(TypeBool, "%cond")
	third := method.AppendBlock("%third")
	second.WalkEnd().Emplace(NewBranch(third.LabelLocal(), CondZeroSet, cond))
	if !second.FallsThroughToNextBlock() {
		t.Fatalf("block with conditional branch must fall through")
	}
}

func TestMethodBlockManagement(t *testing.T) {
	method := NewMethod("test")
	first := method.AppendBlock(DefaultBlockName)
	second := method.AppendBlock("%a")
	third := method.AppendBlock("%b")

	if method.BlockIndex(second) != 1 {
		t.Fatalf("block index = %d, want 1", method.BlockIndex(second))
	}
	method.MoveBlock(2, 1)
	if method.BlockIndex(third) != 1 || method.BlockIndex(second) != 2 {
		t.Fatalf("move block did not reorder")
	}

	first.WalkEnd().Emplace(NewUnconditionalBranch(second.LabelLocal()))
	if method.RemoveBlock(second) {
		t.Fatalf("must not remove a block another block still branches to")
	}
	if !method.RemoveBlock(third) {
		t.Fatalf("expected empty block to be removable")
	}
	if len(method.BasicBlocks()) != 2 {
		t.Fatalf("blocks after removal = %d, want 2", len(method.BasicBlocks()))
	}
}

func TestWalkAllInstructionsCrossesBlocks(t *testing.T) {
	method := NewMethod("test")
	first := method.AppendBlock(DefaultBlockName)
	second := method.AppendBlock("%next")
	a := method.AddNewLocal(TypeInt32, "%a")
	first.WalkEnd().Emplace(NewMove(a, IntOne))
	second.WalkEnd().Emplace(NewMove(a, IntZero))

	var count int
	for it := method.WalkAllInstructions(); !it.IsEndOfMethod(); it = it.NextInMethod() {
		count++
	}
	if count != 4 {
		t.Fatalf("visited %d instructions, want 4 (2 labels + 2 moves)", count)
	}
}
