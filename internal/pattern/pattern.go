// Package pattern implements a declarative matcher over single instructions
// and short straight-line instruction sequences. Capturing placeholders are
// plain pointers into caller-owned variables; the pointer identity doubles
// as the capture key, so mentioning the same placeholder twice constrains
// both sites to the same captured value.
package pattern

import (
	"github.com/vc4go/vc4cc/internal/ir"
	"github.com/vc4go/vc4cc/internal/profiler"
)

type valueKind uint8

const (
	valueIgnored valueKind = iota
	valueFixed
	valueCaptureValue
	valueCaptureLocal
	valueCaptureLiteral
)

// ValuePattern matches one operand (or the output) of an instruction. The
// zero value ignores the operand entirely, including absent operands.
type ValuePattern struct {
	kind    valueKind
	fixed   ir.Value
	value   *ir.Value
	local   **ir.Local
	literal *ir.Literal
}

// AnyValue matches anything, even an absent operand.
func AnyValue() ValuePattern { return ValuePattern{} }

// MatchValue requires the operand to equal the given value.
func MatchValue(v ir.Value) ValuePattern {
	return ValuePattern{kind: valueFixed, fixed: v}
}

// CaptureValue matches any present operand and captures it.
func CaptureValue(target *ir.Value) ValuePattern {
	return ValuePattern{kind: valueCaptureValue, value: target}
}

// CaptureLocal matches any local reference and captures the local.
func CaptureLocal(target **ir.Local) ValuePattern {
	return ValuePattern{kind: valueCaptureLocal, local: target}
}

// CaptureLiteral matches any constant operand and captures the literal.
func CaptureLiteral(target *ir.Literal) ValuePattern {
	return ValuePattern{kind: valueCaptureLiteral, literal: target}
}

type operationKind uint8

const (
	operationIgnored operationKind = iota
	operationFixed
	operationCapture
)

// OperationPattern matches the operation an instruction performs.
type OperationPattern struct {
	kind   operationKind
	fixed  ir.OpCode
	target *ir.OpCode
}

func AnyOperation() OperationPattern { return OperationPattern{} }

func MatchOperation(op ir.OpCode) OperationPattern {
	return OperationPattern{kind: operationFixed, fixed: op}
}

func CaptureOperation(target *ir.OpCode) OperationPattern {
	return OperationPattern{kind: operationCapture, target: target}
}

type conditionKind uint8

const (
	conditionIgnored conditionKind = iota
	conditionFixed
	conditionCapture
	conditionCaptureInverted
)

// ConditionPattern matches the execution condition of an instruction.
type ConditionPattern struct {
	kind   conditionKind
	fixed  ir.ConditionCode
	target *ir.ConditionCode
}

func AnyCondition() ConditionPattern { return ConditionPattern{} }

func MatchCondition(c ir.ConditionCode) ConditionPattern {
	return ConditionPattern{kind: conditionFixed, fixed: c}
}

func CaptureCondition(target *ir.ConditionCode) ConditionPattern {
	return ConditionPattern{kind: conditionCapture, target: target}
}

// CaptureInvertedCondition captures the opposite of the matched condition.
// Two mentions of the same target, one plain and one inverted, therefore
// require the instructions to execute on opposite conditions.
func CaptureInvertedCondition(target *ir.ConditionCode) ConditionPattern {
	return ConditionPattern{kind: conditionCaptureInverted, target: target}
}

type flagKind uint8

const (
	flagIgnored flagKind = iota
	flagFixed
	flagCapture
)

// FlagPattern matches the set-flags behavior of an instruction.
type FlagPattern struct {
	kind   flagKind
	fixed  ir.SetFlag
	target *ir.SetFlag
}

func AnyFlags() FlagPattern { return FlagPattern{} }

func MatchFlags(f ir.SetFlag) FlagPattern {
	return FlagPattern{kind: flagFixed, fixed: f}
}

func CaptureFlags(target *ir.SetFlag) FlagPattern {
	return FlagPattern{kind: flagCapture, target: target}
}

// InstructionPattern matches a single instruction. Zero-valued fields
// ignore their component.
type InstructionPattern struct {
	Output         ValuePattern
	Operation      OperationPattern
	FirstArgument  ValuePattern
	SecondArgument ValuePattern
	Condition      ConditionPattern
	Flags          FlagPattern
}

// Pattern matches an ordered sequence of instructions. With AllowGaps,
// unrelated instructions may sit between the matched parts as long as they
// have no side effects, do not set flags and do not overwrite locals written
// by an earlier matched part.
type Pattern struct {
	Parts     []InstructionPattern
	AllowGaps bool
}

type capturedKind uint8

const (
	capturedValue capturedKind = iota
	capturedOp
	capturedCondition
	capturedFlag
)

type captured struct {
	kind capturedKind
	val  ir.Value
	op   ir.OpCode
	cond ir.ConditionCode
	flag ir.SetFlag
}

// matchCache maps placeholder identity (the capture target pointer) to the
// captured value. A per-instruction cache is merged into the global cache
// only once the whole instruction matched, which keeps multi-instruction
// matching atomic across skipped gap instructions.
type matchCache map[any]captured

func (c matchCache) checkValue(key any, val ir.Value) bool {
	entry, ok := c[key]
	return !ok || entry.val.Equals(val)
}

func (c matchCache) checkOp(key any, op ir.OpCode) bool {
	entry, ok := c[key]
	return !ok || entry.op == op
}

func (c matchCache) checkCondition(key any, cond ir.ConditionCode) bool {
	entry, ok := c[key]
	return !ok || entry.cond == cond
}

func (c matchCache) checkFlag(key any, flag ir.SetFlag) bool {
	entry, ok := c[key]
	return !ok || entry.flag == flag
}

func matchesValue(val ir.Value, present bool, p ValuePattern, prev, next matchCache) bool {
	switch p.kind {
	case valueIgnored:
		return true
	case valueFixed:
		return present && val.Equals(p.fixed)
	case valueCaptureLocal:
		if !present || val.CheckLocal() == nil {
			return false
		}
		if !prev.checkValue(p.local, val) || !next.checkValue(p.local, val) {
			return false
		}
		next[p.local] = captured{kind: capturedValue, val: val}
		return true
	case valueCaptureLiteral:
		if !present {
			return false
		}
		if _, ok := val.LiteralValue(); !ok {
			return false
		}
		if !prev.checkValue(p.literal, val) || !next.checkValue(p.literal, val) {
			return false
		}
		next[p.literal] = captured{kind: capturedValue, val: val}
		return true
	case valueCaptureValue:
		if !present {
			return false
		}
		if !prev.checkValue(p.value, val) || !next.checkValue(p.value, val) {
			return false
		}
		next[p.value] = captured{kind: capturedValue, val: val}
		return true
	}
	return false
}

func updateValue(val ir.Value, present bool, p ValuePattern) {
	if !present {
		return
	}
	switch p.kind {
	case valueCaptureLocal:
		*p.local = val.CheckLocal()
	case valueCaptureLiteral:
		if lit, ok := val.LiteralValue(); ok {
			*p.literal = lit
		}
	case valueCaptureValue:
		*p.value = val
	}
}

func matchesOperation(op ir.OpCode, p OperationPattern, prev, next matchCache) bool {
	switch p.kind {
	case operationIgnored:
		return true
	case operationFixed:
		return op == p.fixed
	case operationCapture:
		if !prev.checkOp(p.target, op) || !next.checkOp(p.target, op) {
			return false
		}
		next[p.target] = captured{kind: capturedOp, op: op}
		return true
	}
	return false
}

func updateOperation(op ir.OpCode, p OperationPattern) {
	if p.kind == operationCapture {
		*p.target = op
	}
}

func matchesCondition(cond ir.ConditionCode, p ConditionPattern, prev, next matchCache) bool {
	switch p.kind {
	case conditionIgnored:
		return true
	case conditionFixed:
		return cond == p.fixed
	case conditionCapture:
		if !prev.checkCondition(p.target, cond) || !next.checkCondition(p.target, cond) {
			return false
		}
		next[p.target] = captured{kind: capturedCondition, cond: cond}
		return true
	case conditionCaptureInverted:
		real := cond.Invert()
		if !prev.checkCondition(p.target, real) || !next.checkCondition(p.target, real) {
			return false
		}
		next[p.target] = captured{kind: capturedCondition, cond: real}
		return true
	}
	return false
}

func updateCondition(cond ir.ConditionCode, p ConditionPattern) {
	switch p.kind {
	case conditionCapture:
		*p.target = cond
	case conditionCaptureInverted:
		*p.target = cond.Invert()
	}
}

func matchesFlag(flag ir.SetFlag, p FlagPattern, prev, next matchCache) bool {
	switch p.kind {
	case flagIgnored:
		return true
	case flagFixed:
		return flag == p.fixed
	case flagCapture:
		if !prev.checkFlag(p.target, flag) || !next.checkFlag(p.target, flag) {
			return false
		}
		next[p.target] = captured{kind: capturedFlag, flag: flag}
		return true
	}
	return false
}

func updateFlag(flag ir.SetFlag, p FlagPattern) {
	if p.kind == flagCapture {
		*p.target = flag
	}
}

// determineOpCode classifies the instruction for operation matching.
// Instructions without a classification cannot be matched at all.
func determineOpCode(inst ir.Instruction) (ir.OpCode, bool) {
	switch in := inst.(type) {
	case *ir.Operation:
		return in.Op, true
	case *ir.VectorRotation:
		return ir.FakeOpRotate, true
	case *ir.MoveOperation:
		return ir.FakeOpMov, true
	case *ir.LoadImmediate:
		return ir.FakeOpLoad, true
	case *ir.Branch:
		return ir.FakeOpBranch, true
	case *ir.MutexLock:
		return ir.FakeOpMutex, true
	}
	return ir.OpNone, false
}

func matchesOnly(inst ir.Instruction, p *InstructionPattern, prev, next matchCache) bool {
	if inst == nil {
		return false
	}
	// pack/unpack modes and signals with side effects disqualify outright
	if inst.PackMode().HasEffect() || inst.UnpackMode().HasEffect() || inst.Signal().HasSideEffects() {
		return false
	}
	out, hasOut := inst.Output()
	if !matchesValue(out, hasOut, p.Output, prev, next) {
		return false
	}
	op, ok := determineOpCode(inst)
	if !ok {
		return false
	}
	if !matchesOperation(op, p.Operation, prev, next) {
		return false
	}
	arg0, has0 := inst.Argument(0)
	if !matchesValue(arg0, has0, p.FirstArgument, prev, next) {
		return false
	}
	arg1, has1 := inst.Argument(1)
	if !matchesValue(arg1, has1, p.SecondArgument, prev, next) {
		return false
	}
	if !matchesCondition(inst.Condition(), p.Condition, prev, next) {
		return false
	}
	return matchesFlag(inst.Flags(), p.Flags, prev, next)
}

func updateOnly(inst ir.Instruction, p *InstructionPattern) {
	out, hasOut := inst.Output()
	updateValue(out, hasOut, p.Output)
	if op, ok := determineOpCode(inst); ok {
		updateOperation(op, p.Operation)
	}
	arg0, has0 := inst.Argument(0)
	updateValue(arg0, has0, p.FirstArgument)
	arg1, has1 := inst.Argument(1)
	updateValue(arg1, has1, p.SecondArgument)
	updateCondition(inst.Condition(), p.Condition)
	updateFlag(inst.Flags(), p.Flags)
}

// Matches checks the single instruction against the pattern and, on
// success, writes all captures back.
func Matches(inst ir.Instruction, p *InstructionPattern) bool {
	defer profiler.Measure("PatternMatching")()
	cache := make(matchCache)
	if !matchesOnly(inst, p, cache, cache) {
		return false
	}
	updateOnly(inst, p)
	return true
}

// Search advances from start until an instruction matches the pattern. The
// returned bool is false when the block end was reached without a match.
func Search(start ir.InstructionWalker, p *InstructionPattern) (ir.InstructionWalker, bool) {
	for it := start; !it.IsEndOfBlock(); it = it.NextInBlock() {
		if Matches(it.Get(), p) {
			return it, true
		}
	}
	return ir.InstructionWalker{}, false
}

func searchInnerCompact(start ir.InstructionWalker, p *Pattern, returnEndOfPattern bool) (ir.InstructionWalker, bool) {
	globalCache := make(matchCache)
	it := start
	for i := range p.Parts {
		if it.IsEndOfBlock() {
			return ir.InstructionWalker{}, false
		}
		// any failure aborts the whole attempt, so one cache suffices
		if !matchesOnly(it.Get(), &p.Parts[i], globalCache, globalCache) {
			return ir.InstructionWalker{}, false
		}
		it = it.NextInBlock()
	}

	walk := start
	for i := range p.Parts {
		updateOnly(walk.Get(), &p.Parts[i])
		walk = walk.NextInBlock()
	}
	if returnEndOfPattern {
		return walk.PreviousInBlock(), true
	}
	return start, true
}

func searchInnerGapped(start ir.InstructionWalker, p *Pattern, returnEndOfPattern bool) (ir.InstructionWalker, bool) {
	gapWrittenLocals := make(map[*ir.Local]bool)
	previouslyWrittenLocals := make(map[*ir.Local]bool)
	globalCache := make(matchCache)
	matched := make([]ir.Instruction, 0, len(p.Parts))

	it := start
	for i := range p.Parts {
		localCache := make(matchCache)
		for !it.IsEndOfBlock() && !matchesOnly(it.Get(), &p.Parts[i], globalCache, localCache) {
			// unrelated gap instruction: reject side effects or flag writes
			inst := it.Get()
			if inst != nil && (inst.Signal().HasSideEffects() || inst.Flags() == ir.SetFlags) {
				return ir.InstructionWalker{}, false
			}
			// nor overwrite a local written by an earlier matched instruction
			if out := ir.OutputLocal(inst); out != nil && previouslyWrittenLocals[out] {
				return ir.InstructionWalker{}, false
			}
			it = it.NextInBlock()
			// all tentative captures belong to the rejected instruction
			clear(localCache)
		}
		if it.IsEndOfBlock() {
			return ir.InstructionWalker{}, false
		}

		// a gap instruction may overwrite locals, but not ones written by an
		// earlier matched instruction the current instruction depends on
		inst := it.Get()
		for local := range gapWrittenLocals {
			if previouslyWrittenLocals[local] && ir.ReadsLocal(inst, local) {
				return ir.InstructionWalker{}, false
			}
		}

		for key, entry := range localCache {
			globalCache[key] = entry
		}
		matched = append(matched, inst)
		if out := ir.OutputLocal(inst); out != nil {
			previouslyWrittenLocals[out] = true
		}
		it = it.NextInBlock()
	}

	if len(matched) != len(p.Parts) {
		return ir.InstructionWalker{}, false
	}
	for i, inst := range matched {
		updateOnly(inst, &p.Parts[i])
	}
	if returnEndOfPattern {
		return it.PreviousInBlock(), true
	}
	return start, true
}

// SearchPattern advances from start until the whole multi-instruction
// pattern matches. Either the whole pattern matches and every capture is
// written back, or no captures are touched. With returnEndOfPattern the
// walker of the last matched instruction is returned instead of the first.
func SearchPattern(start ir.InstructionWalker, p *Pattern, returnEndOfPattern bool) (ir.InstructionWalker, bool) {
	if len(p.Parts) == 0 {
		return ir.InstructionWalker{}, false
	}
	defer profiler.Measure("PatternMatching")()
	for it := start; !it.IsEndOfBlock(); it = it.NextInBlock() {
		dummy := make(matchCache)
		if !matchesOnly(it.Get(), &p.Parts[0], dummy, dummy) {
			continue
		}
		var res ir.InstructionWalker
		var ok bool
		if p.AllowGaps {
			res, ok = searchInnerGapped(it, p, returnEndOfPattern)
		} else {
			res, ok = searchInnerCompact(it, p, returnEndOfPattern)
		}
		if ok {
			return res, true
		}
	}
	return ir.InstructionWalker{}, false
}
