package ir

import (
	"fmt"
	"strings"
)

// Names of the two reserved basic blocks. The default block is the method
// entry; the last block is kept separate for work-group unrolling.
const (
	DefaultBlockName = "%start_of_function"
	LastBlockName    = "%end_of_function"
)

// BasicBlock is an ordered sequence of instructions starting with a
// BranchLabel. It owns its instructions; all edits go through an
// InstructionWalker so the local user sets stay consistent.
type BasicBlock struct {
	method       *Method
	instructions []Instruction
}

// Method returns the owning method.
func (b *BasicBlock) Method() *Method { return b.method }

// Label returns the block-header label instruction.
func (b *BasicBlock) Label() *BranchLabel {
	if len(b.instructions) == 0 {
		return nil
	}
	label, _ := b.instructions[0].(*BranchLabel)
	return label
}

// LabelLocal returns the label local naming this block.
func (b *BasicBlock) LabelLocal() *Local {
	if label := b.Label(); label != nil {
		return label.Label()
	}
	return nil
}

func (b *BasicBlock) Name() string {
	if local := b.LabelLocal(); local != nil {
		return local.Name
	}
	return "(unnamed)"
}

// Size returns the number of instructions including the label.
func (b *BasicBlock) Size() int { return len(b.instructions) }

// Empty reports whether the block contains only its label.
func (b *BasicBlock) Empty() bool { return len(b.instructions) <= 1 }

// Instructions exposes the instruction list for read-only traversal.
func (b *BasicBlock) Instructions() []Instruction { return b.instructions }

// Walk returns a walker positioned at the block label.
func (b *BasicBlock) Walk() InstructionWalker {
	return InstructionWalker{block: b}
}

// WalkEnd returns a walker positioned past the last instruction.
func (b *BasicBlock) WalkEnd() InstructionWalker {
	return InstructionWalker{block: b, index: len(b.instructions)}
}

// FallsThroughToNextBlock reports whether control continues into the
// following block, i.e. the block does not end with an unconditional branch.
// Trailing NOPs are skipped, so a program-end signal does not stop it.
func (b *BasicBlock) FallsThroughToNextBlock() bool {
	for i := len(b.instructions) - 1; i > 0; i-- {
		switch inst := b.instructions[i].(type) {
		case *Branch:
			if inst.IsUnconditional() {
				return false
			}
			return true
		case *Nop:
			continue
		default:
			return true
		}
	}
	return true
}

// LastBranch returns the final unconditional branch of the block, if any.
func (b *BasicBlock) LastBranch() *Branch {
	for i := len(b.instructions) - 1; i > 0; i-- {
		switch inst := b.instructions[i].(type) {
		case *Branch:
			if inst.IsUnconditional() {
				return inst
			}
			return nil
		case *Nop:
			continue
		default:
			return nil
		}
	}
	return nil
}

// FindWalkerForInstruction returns a walker for the given instruction within
// this block.
func (b *BasicBlock) FindWalkerForInstruction(inst Instruction) (InstructionWalker, bool) {
	for i, candidate := range b.instructions {
		if candidate == inst {
			return InstructionWalker{block: b, index: i}, true
		}
	}
	return InstructionWalker{}, false
}

// LocallyLimited reports whether all users of the local are contained in
// this block.
func (b *BasicBlock) LocallyLimited(local *Local) bool {
	for user := range local.Users() {
		if _, ok := b.FindWalkerForInstruction(user); !ok {
			return false
		}
	}
	return true
}

func (b *BasicBlock) String() string {
	var sb strings.Builder
	for _, inst := range b.instructions {
		fmt.Fprintf(&sb, "%s\n", inst)
	}
	return sb.String()
}

func (b *BasicBlock) insertAt(index int, inst Instruction) {
	b.instructions = append(b.instructions, nil)
	copy(b.instructions[index+1:], b.instructions[index:])
	b.instructions[index] = inst
	registerUsers(inst)
}

func (b *BasicBlock) removeAt(index int) Instruction {
	inst := b.instructions[index]
	unregisterUsers(inst)
	b.instructions = append(b.instructions[:index], b.instructions[index+1:]...)
	return inst
}

func (b *BasicBlock) replaceAt(index int, inst Instruction) {
	unregisterUsers(b.instructions[index])
	b.instructions[index] = inst
	registerUsers(inst)
}

func registerUsers(inst Instruction) {
	inst.setRegistered(inst)
	if out := OutputLocal(inst); out != nil {
		out.addUser(inst, LocalUseWriter)
	}
	for _, arg := range inst.Arguments() {
		if local := arg.CheckLocal(); local != nil {
			local.addUser(inst, LocalUseReader)
		}
	}
}

func unregisterUsers(inst Instruction) {
	if out := OutputLocal(inst); out != nil {
		out.removeUser(inst, LocalUseWriter)
	}
	for _, arg := range inst.Arguments() {
		if local := arg.CheckLocal(); local != nil {
			local.removeUser(inst, LocalUseReader)
		}
	}
	inst.clearRegistered()
}
