package periphery

import "github.com/vc4go/vc4cc/internal/ir"

// TMU describes one of the two texture memory units available to a QPU.
// The TMU path is read-only; its cache is never invalidated by QPU writes,
// so a location read through a TMU must not be written by any QPU during
// the same kernel execution.
type TMU struct {
	Name    string
	Address ir.Register
	Signal  ir.Signal
}

var (
	TMU0 = TMU{Name: "tmu0", Address: ir.RegTMU0Address, Signal: ir.SignalLoadTMU0}
	TMU1 = TMU{Name: "tmu1", Address: ir.RegTMU1Address, Signal: ir.SignalLoadTMU1}
)

// InsertReadVectorFromTMU emits a TMU load of dest from the memory address:
// the address is stored to the TMU address register, the fetch signal
// issued, and the response read from r4.
func InsertReadVectorFromTMU(method *ir.Method, it ir.InstructionWalker, dest, address ir.Value, tmu TMU) ir.InstructionWalker {
	it = emitBefore(it, ir.NewMove(ir.NewRegisterValue(tmu.Address, address.Type), address))
	trigger := ir.NewNop(ir.DelayWaitTMU)
	trigger.SetSignal(tmu.Signal)
	it = emitBefore(it, trigger)
	it = emitBefore(it, ir.NewMove(dest, ir.NewRegisterValue(ir.RegTMUOut, dest.Type)))
	return it
}
