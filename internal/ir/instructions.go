package ir

import (
	"fmt"
	"strings"
)

// Operation is a binary or unary ALU operation.
type Operation struct {
	instructionBase
	Op OpCode
}

func NewOperation(op OpCode, out, arg0, arg1 Value) *Operation {
	o := &Operation{Op: op}
	o.SetOutput(out)
	o.SetArgument(0, arg0)
	o.SetArgument(1, arg1)
	return o
}

func NewUnaryOperation(op OpCode, out, arg Value) *Operation {
	o := &Operation{Op: op}
	o.SetOutput(out)
	o.SetArgument(0, arg)
	return o
}

func (o *Operation) FirstArg() Value {
	v, _ := o.Argument(0)
	return v
}

func (o *Operation) SecondArg() (Value, bool) {
	return o.Argument(1)
}

func (o *Operation) String() string {
	out, _ := o.Output()
	args := make([]string, len(o.args))
	for i, a := range o.args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s = %s %s%s", out, o.Op, strings.Join(args, ", "), o.suffix())
}

// MoveOperation copies a value into the output.
type MoveOperation struct {
	instructionBase
}

func NewMove(out, src Value) *MoveOperation {
	m := &MoveOperation{}
	m.SetOutput(out)
	m.SetArgument(0, src)
	return m
}

func (m *MoveOperation) Source() Value {
	v, _ := m.Argument(0)
	return v
}

func (m *MoveOperation) SetSource(v Value) { m.SetArgument(0, v) }

func (m *MoveOperation) String() string {
	out, _ := m.Output()
	return fmt.Sprintf("%s = %s%s", out, m.Source(), m.suffix())
}

// VectorRotation rotates the 16-element vector of its source upwards by the
// offset (a small-immediate rotation constant or r5).
type VectorRotation struct {
	instructionBase
}

func NewVectorRotation(out, src, offset Value) *VectorRotation {
	v := &VectorRotation{}
	v.SetOutput(out)
	v.SetArgument(0, src)
	v.SetArgument(1, offset)
	return v
}

func (v *VectorRotation) Source() Value {
	val, _ := v.Argument(0)
	return val
}

func (v *VectorRotation) Offset() Value {
	val, _ := v.Argument(1)
	return val
}

func (v *VectorRotation) String() string {
	out, _ := v.Output()
	return fmt.Sprintf("%s = %s << %s%s", out, v.Source(), v.Offset(), v.suffix())
}

// LoadImmediate materializes a full 32-bit constant, replicated across all
// vector elements.
type LoadImmediate struct {
	instructionBase
	Immediate Literal
}

func NewLoadImmediate(out Value, lit Literal) *LoadImmediate {
	l := &LoadImmediate{Immediate: lit}
	l.SetOutput(out)
	return l
}

func (l *LoadImmediate) String() string {
	out, _ := l.Output()
	return fmt.Sprintf("%s = ldi %s%s", out, l.Immediate, l.suffix())
}

// MemoryOperation is the kind of a generic memory instruction.
type MemoryOperation uint8

const (
	MemoryRead MemoryOperation = iota
	MemoryWrite
	MemoryCopy
	MemoryFill
)

func (op MemoryOperation) String() string {
	switch op {
	case MemoryRead:
		return "read"
	case MemoryWrite:
		return "write"
	case MemoryCopy:
		return "copy"
	case MemoryFill:
		return "fill"
	}
	return "mem?"
}

// MemoryInstruction is a generic memory access on abstract memory locations.
// Memory lowering replaces every MemoryInstruction with concrete TMU, VPM or
// DMA access sequences.
//
// For MemoryRead the destination is the output, the source pointer is the
// first argument. For all other operations the destination pointer is the
// first argument and the source (pointer or value) the second. The number of
// affected entries is the last argument.
type MemoryInstruction struct {
	instructionBase
	Op MemoryOperation
	// GuardAccess requests mutex bracketing around the lowered access.
	GuardAccess bool
}

func NewMemoryRead(dest, src, numEntries Value, guard bool) *MemoryInstruction {
	m := &MemoryInstruction{Op: MemoryRead, GuardAccess: guard}
	m.SetOutput(dest)
	m.SetArgument(0, src)
	m.SetArgument(1, numEntries)
	return m
}

func NewMemoryInstruction(op MemoryOperation, dest, src, numEntries Value, guard bool) *MemoryInstruction {
	if op == MemoryRead {
		return NewMemoryRead(dest, src, numEntries, guard)
	}
	m := &MemoryInstruction{Op: op, GuardAccess: guard}
	m.SetArgument(0, dest)
	m.SetArgument(1, src)
	m.SetArgument(2, numEntries)
	return m
}

func (m *MemoryInstruction) Source() Value {
	if m.Op == MemoryRead {
		v, _ := m.Argument(0)
		return v
	}
	v, _ := m.Argument(1)
	return v
}

func (m *MemoryInstruction) Destination() Value {
	if m.Op == MemoryRead {
		out, _ := m.Output()
		return out
	}
	v, _ := m.Argument(0)
	return v
}

func (m *MemoryInstruction) NumEntries() Value {
	idx := 2
	if m.Op == MemoryRead {
		idx = 1
	}
	if v, ok := m.Argument(idx); ok && !v.IsUndefined() {
		return v
	}
	return IntOne
}

// SourceElementType returns the type of a single copied/read element.
func (m *MemoryInstruction) SourceElementType() DataType {
	src := m.Source()
	if src.Type.IsPointer() {
		return src.Type.ElementType()
	}
	return src.Type
}

// DestinationElementType returns the type of a single written element.
func (m *MemoryInstruction) DestinationElementType() DataType {
	dst := m.Destination()
	if dst.Type.IsPointer() {
		return dst.Type.ElementType()
	}
	return dst.Type
}

func (m *MemoryInstruction) HasSideEffects() bool { return true }

func (m *MemoryInstruction) String() string {
	guard := ""
	if m.GuardAccess {
		guard = " (guarded)"
	}
	return fmt.Sprintf("%s %s <- %s, %s entries%s%s",
		m.Op, m.Destination(), m.Source(), m.NumEntries(), guard, m.suffix())
}

// Branch transfers control to the target label, optionally gated on a
// condition value.
type Branch struct {
	instructionBase
}

func NewBranch(target *Local, cond ConditionCode, condValue Value) *Branch {
	b := &Branch{}
	b.SetCondition(cond)
	b.SetArgument(0, target.CreateReference())
	b.SetArgument(1, condValue)
	return b
}

func NewUnconditionalBranch(target *Local) *Branch {
	return NewBranch(target, CondAlways, BoolTrue)
}

func (b *Branch) Target() *Local {
	v, _ := b.Argument(0)
	return v.CheckLocal()
}

func (b *Branch) SetTarget(target *Local) {
	b.SetArgument(0, target.CreateReference())
}

// BranchCondition returns the value the branch decision is based on.
func (b *Branch) BranchCondition() Value {
	v, _ := b.Argument(1)
	return v
}

func (b *Branch) IsUnconditional() bool {
	return b.Condition() == CondAlways || b.BranchCondition().Equals(BoolTrue)
}

func (b *Branch) HasSideEffects() bool { return true }

func (b *Branch) String() string {
	if b.IsUnconditional() {
		return fmt.Sprintf("br %s%s", b.Target().Name, b.suffix())
	}
	return fmt.Sprintf("br.%s %s (on %s)", b.Condition(), b.Target().Name, b.BranchCondition())
}

// BranchLabel is the header pseudo-instruction of every basic block.
type BranchLabel struct {
	instructionBase
}

func NewBranchLabel(label *Local) *BranchLabel {
	b := &BranchLabel{}
	b.SetArgument(0, label.CreateReference())
	return b
}

func (b *BranchLabel) Label() *Local {
	v, _ := b.Argument(0)
	return v.CheckLocal()
}

func (b *BranchLabel) String() string {
	return fmt.Sprintf("label: %s", b.Label().Name)
}

// PhiNode selects its output from per-predecessor values. Phi-nodes are
// eliminated before code generation.
type PhiNode struct {
	instructionBase
}

// NewPhiNode stores the (label, value) pairs as alternating arguments.
func NewPhiNode(dest Value, pairs []PhiPair) *PhiNode {
	p := &PhiNode{}
	p.SetOutput(dest)
	for i, pair := range pairs {
		p.SetArgument(i*2, pair.Label.CreateReference())
		p.SetArgument(i*2+1, pair.Value)
	}
	p.AddDecorations(DecorationPhiNode)
	return p
}

type PhiPair struct {
	Label *Local
	Value Value
}

func (p *PhiNode) Pairs() []PhiPair {
	args := p.Arguments()
	pairs := make([]PhiPair, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		pairs = append(pairs, PhiPair{Label: args[i].CheckLocal(), Value: args[i+1]})
	}
	return pairs
}

// ValueForLabel returns the incoming value for the given predecessor label.
func (p *PhiNode) ValueForLabel(label *Local) (Value, bool) {
	for _, pair := range p.Pairs() {
		if pair.Label == label {
			return pair.Value, true
		}
	}
	return Value{}, false
}

func (p *PhiNode) String() string {
	out, _ := p.Output()
	var parts []string
	for _, pair := range p.Pairs() {
		parts = append(parts, fmt.Sprintf("%s -> %s", pair.Label.Name, pair.Value))
	}
	return fmt.Sprintf("%s = phi %s%s", out, strings.Join(parts, ", "), p.suffix())
}

// SemaphoreAdjustment increments or decrements one of the 16 hardware
// semaphore counters.
type SemaphoreAdjustment struct {
	instructionBase
	Semaphore uint8
	Increase  bool
}

func NewSemaphoreAdjustment(semaphore uint8, increase bool) *SemaphoreAdjustment {
	s := &SemaphoreAdjustment{Semaphore: semaphore, Increase: increase}
	s.SetSignal(SignalSemaphore)
	return s
}

func (s *SemaphoreAdjustment) HasSideEffects() bool { return true }

func (s *SemaphoreAdjustment) String() string {
	dir := "decrease"
	if s.Increase {
		dir = "increase"
	}
	return fmt.Sprintf("semaphore %d %s%s", s.Semaphore, dir, s.suffix())
}

// MemoryBarrier orders memory accesses. Barriers are lowered to semaphore
// pairs before code generation.
type MemoryBarrier struct {
	instructionBase
	Scope     MemoryScope
	Semantics MemorySemantics
}

func NewMemoryBarrier(scope MemoryScope, semantics MemorySemantics) *MemoryBarrier {
	return &MemoryBarrier{Scope: scope, Semantics: semantics}
}

func (m *MemoryBarrier) HasSideEffects() bool { return true }

func (m *MemoryBarrier) String() string {
	return fmt.Sprintf("mem-fence scope(%d), semantics(%#x)", m.Scope, uint16(m.Semantics))
}

// LifetimeBoundary marks the start or end of the lifetime of a stack
// allocation. Removed before code generation.
type LifetimeBoundary struct {
	instructionBase
	IsEnd bool
}

func NewLifetimeBoundary(allocation Value, isEnd bool) *LifetimeBoundary {
	l := &LifetimeBoundary{IsEnd: isEnd}
	l.SetArgument(0, allocation)
	return l
}

func (l *LifetimeBoundary) StackAllocation() Value {
	v, _ := l.Argument(0)
	return v
}

func (l *LifetimeBoundary) String() string {
	state := "starts"
	if l.IsEnd {
		state = "ends"
	}
	return fmt.Sprintf("life-time for %s %s", l.StackAllocation(), state)
}

// MutexLock takes or releases the hardware mutex: taking reads the mutex
// register, releasing writes it.
type MutexLock struct {
	instructionBase
	Access MutexAccess
}

func NewMutexLock(access MutexAccess) *MutexLock {
	m := &MutexLock{Access: access}
	mutexValue := NewRegisterValue(RegMutex, TypeBool)
	if access == MutexAccessLock {
		m.SetArgument(0, mutexValue)
	} else {
		m.SetOutput(mutexValue)
	}
	return m
}

func (m *MutexLock) LocksMutex() bool { return m.Access == MutexAccessLock }

func (m *MutexLock) HasSideEffects() bool { return true }

func (m *MutexLock) String() string {
	if m.LocksMutex() {
		return "mutex_acq"
	}
	return "mutex_rel"
}

// Nop stalls for one cycle; Delay documents the hazard being waited out.
type Nop struct {
	instructionBase
	Delay DelayType
}

func NewNop(delay DelayType) *Nop {
	return &Nop{Delay: delay}
}

func (n *Nop) String() string {
	return "nop" + n.suffix()
}
