package pattern

import (
	"testing"

	"github.com/vc4go/vc4cc/internal/ir"
)

func newTestBlock(t *testing.T) (*ir.Method, *ir.BasicBlock) {
	t.Helper()
	method := ir.NewMethod("pattern_test")
	return method, method.AppendBlock(ir.DefaultBlockName)
}

func TestMatchSingleInstruction(t *testing.T) {
	method, block := newTestBlock(t)
	a := method.AddNewLocal(ir.TypeInt32, "%a")
	b := method.AddNewLocal(ir.TypeInt32, "%b")
	block.WalkEnd().Emplace(ir.NewOperation(ir.OpAdd, b, a, ir.IntOne))

	var out, arg ir.Value
	var op ir.OpCode
	p := InstructionPattern{
		Output:         CaptureValue(&out),
		Operation:      CaptureOperation(&op),
		FirstArgument:  CaptureValue(&arg),
		SecondArgument: MatchValue(ir.IntOne),
	}
	it, ok := Search(block.Walk(), &p)
	if !ok {
		t.Fatalf("expected pattern to match the add")
	}
	if op != ir.OpAdd {
		t.Fatalf("captured op = %v, want add", op)
	}
	if !out.HasLocal(b.CheckLocal()) || !arg.HasLocal(a.CheckLocal()) {
		t.Fatalf("captured values wrong: out=%v arg=%v", out, arg)
	}
	if _, isOp := it.Get().(*ir.Operation); !isOp {
		t.Fatalf("returned walker not at the matched instruction")
	}
}

func TestSamePlaceholderMustMatchSameValue(t *testing.T) {
	method, block := newTestBlock(t)
	a := method.AddNewLocal(ir.TypeInt32, "%a")
	b := method.AddNewLocal(ir.TypeInt32, "%b")
	c := method.AddNewLocal(ir.TypeInt32, "%c")
	// c = add a, b: both arguments differ
	block.WalkEnd().Emplace(ir.NewOperation(ir.OpAdd, c, a, b))

	var same ir.Value
	p := InstructionPattern{
		Operation:      MatchOperation(ir.OpAdd),
		FirstArgument:  CaptureValue(&same),
		SecondArgument: CaptureValue(&same),
	}
	if _, ok := Search(block.Walk(), &p); ok {
		t.Fatalf("pattern with repeated placeholder must not match differing arguments")
	}

	// d = add a, a: both arguments equal
	d := method.AddNewLocal(ir.TypeInt32, "%d")
	block.WalkEnd().Emplace(ir.NewOperation(ir.OpAdd, d, a, a))
	if _, ok := Search(block.Walk(), &p); !ok {
		t.Fatalf("pattern with repeated placeholder must match equal arguments")
	}
	if !same.HasLocal(a.CheckLocal()) {
		t.Fatalf("captured %v, want %%a", same)
	}
}

func TestRerunWithCapturedValuesMatchesAgain(t *testing.T) {
	method, block := newTestBlock(t)
	a := method.AddNewLocal(ir.TypeInt32, "%a")
	b := method.AddNewLocal(ir.TypeInt32, "%b")
	block.WalkEnd().Emplace(ir.NewOperation(ir.OpXor, b, a, ir.IntOne))

	var out ir.Value
	var lit ir.Literal
	p := InstructionPattern{
		Output:         CaptureValue(&out),
		Operation:      MatchOperation(ir.OpXor),
		FirstArgument:  AnyValue(),
		SecondArgument: CaptureLiteral(&lit),
	}
	it, ok := Search(block.Walk(), &p)
	if !ok {
		t.Fatalf("first search must match")
	}
	firstOut, firstLit := out, lit

	// matching again at the same position with the captures pre-filled must
	// yield the identical captures
	if !Matches(it.Get(), &p) {
		t.Fatalf("re-match at the found position failed")
	}
	if !out.Equals(firstOut) || lit != firstLit {
		t.Fatalf("re-match changed captures: %v/%v vs %v/%v", out, lit, firstOut, firstLit)
	}
}

func TestPackModeDisqualifies(t *testing.T) {
	method, block := newTestBlock(t)
	a := method.AddNewLocal(ir.TypeInt32, "%a")
	move := ir.NewMove(a, ir.IntOne)
	move.SetUnpackMode(ir.Unpack8ATo32)
	block.WalkEnd().Emplace(move)

	p := InstructionPattern{Operation: MatchOperation(ir.FakeOpMov)}
	if _, ok := Search(block.Walk(), &p); ok {
		t.Fatalf("instruction with unpack mode must not match")
	}
}

func TestInvertedConditionCapture(t *testing.T) {
	method, block := newTestBlock(t)
	a := method.AddNewLocal(ir.TypeInt32, "%a")

	first := ir.NewMove(a, ir.IntOne)
	first.SetCondition(ir.CondZeroSet)
	block.WalkEnd().Emplace(first)
	second := ir.NewMove(a, ir.IntZero)
	second.SetCondition(ir.CondZeroClear)
	block.WalkEnd().Emplace(second)

	var cond ir.ConditionCode
	p := Pattern{Parts: []InstructionPattern{
		{Operation: MatchOperation(ir.FakeOpMov), Condition: CaptureCondition(&cond)},
		{Operation: MatchOperation(ir.FakeOpMov), Condition: CaptureInvertedCondition(&cond)},
	}}
	if _, ok := SearchPattern(block.Walk(), &p, false); !ok {
		t.Fatalf("expected opposite-condition pair to match")
	}
	if cond != ir.CondZeroSet {
		t.Fatalf("captured condition = %v, want ifz", cond)
	}
}

func TestGapRules(t *testing.T) {
	method, block := newTestBlock(t)
	a := method.AddNewLocal(ir.TypeInt32, "%a")
	b := method.AddNewLocal(ir.TypeInt32, "%b")
	c := method.AddNewLocal(ir.TypeInt32, "%c")

	block.WalkEnd().Emplace(ir.NewOperation(ir.OpAdd, a, ir.IntOne, ir.IntOne))
	// unrelated gap instruction without side effects
	block.WalkEnd().Emplace(ir.NewMove(c, ir.IntZero))
	block.WalkEnd().Emplace(ir.NewOperation(ir.OpSub, b, a, ir.IntOne))

	var mid ir.Value
	p := Pattern{
		AllowGaps: true,
		Parts: []InstructionPattern{
			{Output: CaptureValue(&mid), Operation: MatchOperation(ir.OpAdd)},
			{Operation: MatchOperation(ir.OpSub), FirstArgument: CaptureValue(&mid)},
		},
	}
	if _, ok := SearchPattern(block.Walk(), &p, false); !ok {
		t.Fatalf("gapped pattern must tolerate unrelated instructions")
	}

	// without gaps the same pattern must fail
	compact := p
	compact.AllowGaps = false
	if _, ok := SearchPattern(block.Walk(), &compact, false); ok {
		t.Fatalf("compact pattern must not skip the gap instruction")
	}
}

func TestGapOverwritingMatchedLocalAborts(t *testing.T) {
	method, block := newTestBlock(t)
	a := method.AddNewLocal(ir.TypeInt32, "%a")
	b := method.AddNewLocal(ir.TypeInt32, "%b")

	block.WalkEnd().Emplace(ir.NewOperation(ir.OpAdd, a, ir.IntOne, ir.IntOne))
	// the gap overwrites %a which the first matched instruction wrote
	block.WalkEnd().Emplace(ir.NewMove(a, ir.IntZero))
	block.WalkEnd().Emplace(ir.NewOperation(ir.OpSub, b, a, ir.IntOne))

	var mid ir.Value
	p := Pattern{
		AllowGaps: true,
		Parts: []InstructionPattern{
			{Output: CaptureValue(&mid), Operation: MatchOperation(ir.OpAdd)},
			{Operation: MatchOperation(ir.OpSub), FirstArgument: CaptureValue(&mid)},
		},
	}
	if _, ok := SearchPattern(block.Walk(), &p, false); ok {
		t.Fatalf("pattern must abort when a gap overwrites a matched write")
	}
}

func TestGapWithFlagSetAborts(t *testing.T) {
	method, block := newTestBlock(t)
	a := method.AddNewLocal(ir.TypeInt32, "%a")
	b := method.AddNewLocal(ir.TypeInt32, "%b")

	block.WalkEnd().Emplace(ir.NewOperation(ir.OpAdd, a, ir.IntOne, ir.IntOne))
	gap := ir.NewMove(ir.NewRegisterValue(ir.RegNop, ir.TypeInt32), ir.IntZero)
	gap.SetFlags(ir.SetFlags)
	block.WalkEnd().Emplace(gap)
	block.WalkEnd().Emplace(ir.NewOperation(ir.OpSub, b, a, ir.IntOne))

	p := Pattern{
		AllowGaps: true,
		Parts: []InstructionPattern{
			{Operation: MatchOperation(ir.OpAdd)},
			{Operation: MatchOperation(ir.OpSub)},
		},
	}
	if _, ok := SearchPattern(block.Walk(), &p, false); ok {
		t.Fatalf("pattern must abort on flag-setting gap instructions")
	}
}

func TestFailedMatchLeavesCapturesUntouched(t *testing.T) {
	method, block := newTestBlock(t)
	a := method.AddNewLocal(ir.TypeInt32, "%a")
	block.WalkEnd().Emplace(ir.NewOperation(ir.OpAdd, a, ir.IntOne, ir.IntOne))

	sentinel := ir.NewLiteralValue(ir.LiteralInt(-99), ir.TypeInt32)
	out := sentinel
	p := Pattern{Parts: []InstructionPattern{
		{Output: CaptureValue(&out), Operation: MatchOperation(ir.OpAdd)},
		{Operation: MatchOperation(ir.OpXor)},
	}}
	if _, ok := SearchPattern(block.Walk(), &p, false); ok {
		t.Fatalf("pattern must not match, there is no xor")
	}
	if !out.Equals(sentinel) {
		t.Fatalf("failed match wrote back a capture: %v", out)
	}
}
