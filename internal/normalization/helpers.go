package normalization

import (
	"math/bits"

	"github.com/vc4go/vc4cc/internal/ir"
)

// emitBefore inserts the instruction before the walker position, keeping
// the walker on the original instruction.
func emitBefore(it ir.InstructionWalker, inst ir.Instruction) ir.InstructionWalker {
	return it.Emplace(inst).NextInBlock()
}

// insertAddressToOffset computes the byte offset of the accessed address
// relative to the base location. Addresses of lowered locations are the
// base local itself plus front-end pointer arithmetic, so the offset is the
// plain difference.
func insertAddressToOffset(it ir.InstructionWalker, method *ir.Method, ptrValue ir.Value, base *ir.Local) (ir.Value, ir.InstructionWalker) {
	if ptrValue.HasLocal(base) {
		return ir.NewLiteralValue(ir.LiteralInt(0), ir.TypeInt32), it
	}
	if lit, ok := staticAddressOffset(ptrValue, base); ok {
		return ir.NewLiteralValue(lit, ir.TypeInt32), it
	}
	out := method.AddNewLocal(ir.TypeInt32, "%mem_offset")
	it = emitBefore(it, ir.NewOperation(ir.OpSub, out, ptrValue, base.CreateReference()))
	return out, it
}

// staticAddressOffset recognizes the front-end pattern `%ptr = add %base,
// <literal>` and yields the constant byte offset.
func staticAddressOffset(ptrValue ir.Value, base *ir.Local) (ir.Literal, bool) {
	local := ptrValue.CheckLocal()
	if local == nil {
		return ir.Literal{}, false
	}
	op, ok := local.SingleWriter().(*ir.Operation)
	if !ok || op.Op != ir.OpAdd || len(op.Arguments()) != 2 {
		return ir.Literal{}, false
	}
	second, _ := op.SecondArg()
	if op.FirstArg().HasLocal(base) {
		return second.LiteralValue()
	}
	if second.HasLocal(base) {
		return op.FirstArg().LiteralValue()
	}
	return ir.Literal{}, false
}

// insertAddressToElementOffset converts the accessed address into an
// in-vector element index of the register the location is lowered to.
func insertAddressToElementOffset(it ir.InstructionWalker, method *ir.Method, ptrValue ir.Value, base *ir.Local, registerValue ir.Value) (ir.Value, ir.InstructionWalker) {
	offset, it := insertAddressToOffset(it, method, ptrValue, base)
	elemWidth := registerValue.Type.ElementType().InMemoryWidth()
	if elemWidth <= 1 {
		return offset, it
	}
	if lit, ok := offset.LiteralValue(); ok {
		return ir.NewLiteralValue(ir.LiteralInt(lit.SignedInt()/int32(elemWidth)), ir.TypeInt32), it
	}
	shift := int32(bits.TrailingZeros32(elemWidth))
	out := method.AddNewLocal(ir.TypeInt32, "%element_offset")
	it = emitBefore(it, ir.NewOperation(ir.OpShr, out, offset,
		ir.NewSmallImmediateValue(ir.SmallImmediate(shift), ir.TypeInt8)))
	return out, it
}

// insertAddressToStackOffset computes the in-area byte offset for per-QPU
// backed locations: the address difference plus this QPU's slice of the
// area.
func insertAddressToStackOffset(it ir.InstructionWalker, method *ir.Method, ptrValue ir.Value, base *ir.Local, perQPUSize uint32) (ir.Value, ir.InstructionWalker) {
	offset, it := insertAddressToOffset(it, method, ptrValue, base)
	if perQPUSize == 0 {
		return offset, it
	}
	qpuOffset := method.AddNewLocal(ir.TypeInt32, "%qpu_offset")
	it = emitBefore(it, ir.NewOperation(ir.OpMul24, qpuOffset,
		ir.NewRegisterValue(ir.RegQPUNumber, ir.TypeInt8),
		ir.NewLiteralValue(ir.LiteralUint(perQPUSize), ir.TypeInt32)))
	out := method.AddNewLocal(ir.TypeInt32, "%stack_offset")
	it = emitBefore(it, ir.NewOperation(ir.OpAdd, out, offset, qpuOffset))
	return out, it
}

// insertReplication replicates element 0 of the value across all 16 vector
// elements of dest, through the replication accumulator.
func insertReplication(it ir.InstructionWalker, value, dest ir.Value) ir.InstructionWalker {
	it = emitBefore(it, ir.NewMove(ir.NewRegisterValue(ir.RegReplicateAll, value.Type), value))
	it = emitBefore(it, ir.NewMove(dest, ir.NewRegisterValue(ir.RegAccum5, dest.Type)))
	return it
}

// insertVectorExtraction moves the element at the given index of the
// container vector into element 0 of dest, via vector rotation.
func insertVectorExtraction(it ir.InstructionWalker, method *ir.Method, container, index, dest ir.Value) ir.InstructionWalker {
	if lit, ok := index.LiteralValue(); ok {
		rotation := uint8((16 - lit.SignedInt()%16) % 16)
		if rotation == 0 {
			return emitBefore(it, ir.NewMove(dest, container))
		}
		imm, _ := ir.SmallImmediateFromRotation(rotation)
		return emitBefore(it, ir.NewVectorRotation(dest, container,
			ir.NewSmallImmediateValue(imm, ir.TypeInt8)))
	}
	// dynamic index: rotation offset (16 - index) goes through r5
	distance := method.AddNewLocal(ir.TypeInt32, "%rotation_offset")
	it = emitBefore(it, ir.NewOperation(ir.OpSub, distance,
		ir.NewLiteralValue(ir.LiteralInt(16), ir.TypeInt32), index))
	masked := method.AddNewLocal(ir.TypeInt32, "%rotation_offset")
	it = emitBefore(it, ir.NewOperation(ir.OpAnd, masked, distance,
		ir.NewSmallImmediateValue(15, ir.TypeInt8)))
	it = insertReplication(it, masked, ir.NewRegisterValue(ir.RegAccum5, ir.TypeInt32))
	return emitBefore(it, ir.NewVectorRotation(dest, container,
		ir.NewRegisterValue(ir.RegAccum5, ir.TypeInt32)))
}

// insertVectorInsertion writes element 0 of value into the element at the
// given index of the container vector, via replication and a conditional
// move on the element-number flags.
func insertVectorInsertion(it ir.InstructionWalker, method *ir.Method, container, index, value ir.Value) ir.InstructionWalker {
	replicated := method.AddNewLocal(value.Type.ToVectorType(16), "%replicated")
	it = insertReplication(it, value, replicated)

	setFlags := ir.NewOperation(ir.OpXor, ir.NewRegisterValue(ir.RegNop, ir.TypeInt32),
		ir.NewRegisterValue(ir.RegElementNumber, ir.TypeInt8), index)
	setFlags.SetFlags(ir.SetFlags)
	it = emitBefore(it, setFlags)

	move := ir.NewMove(container, replicated)
	move.SetCondition(ir.CondZeroSet)
	move.AddDecorations(ir.DecorationElementInsertion)
	return emitBefore(it, move)
}
