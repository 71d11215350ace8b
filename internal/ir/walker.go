package ir

// InstructionWalker is a cursor over the instructions of a method: a block
// plus a position within it. Walkers are small values and are copied freely;
// edits through a walker mutate the underlying block, so positions held in
// other walkers past the edit point become stale.
type InstructionWalker struct {
	block *BasicBlock
	index int
}

// Block returns the basic block the walker is positioned in.
func (it InstructionWalker) Block() *BasicBlock { return it.block }

// Has reports whether the walker points at an instruction.
func (it InstructionWalker) Has() bool {
	return it.block != nil && it.index >= 0 && it.index < len(it.block.instructions)
}

// Get returns the instruction at the current position, or nil.
func (it InstructionWalker) Get() Instruction {
	if !it.Has() {
		return nil
	}
	return it.block.instructions[it.index]
}

// IsEndOfBlock reports whether the walker is positioned past the last
// instruction of its block (or is invalid).
func (it InstructionWalker) IsEndOfBlock() bool {
	return it.block == nil || it.index >= len(it.block.instructions)
}

// IsStartOfBlock reports whether the walker points at the block label.
func (it InstructionWalker) IsStartOfBlock() bool {
	return it.block != nil && it.index == 0
}

// IsEndOfMethod reports whether no further instruction follows in the whole
// method.
func (it InstructionWalker) IsEndOfMethod() bool {
	if it.block == nil {
		return true
	}
	if !it.IsEndOfBlock() {
		return false
	}
	m := it.block.method
	if m == nil {
		return true
	}
	for i, b := range m.blocks {
		if b == it.block {
			return i == len(m.blocks)-1
		}
	}
	return true
}

// NextInBlock advances by one instruction within the block.
func (it InstructionWalker) NextInBlock() InstructionWalker {
	if it.block != nil && it.index < len(it.block.instructions) {
		it.index++
	}
	return it
}

// PreviousInBlock steps back by one instruction within the block.
func (it InstructionWalker) PreviousInBlock() InstructionWalker {
	if it.index > 0 {
		it.index--
	}
	return it
}

// NextInMethod advances by one instruction, crossing into the next block
// when the end of the current one is reached.
func (it InstructionWalker) NextInMethod() InstructionWalker {
	next := it.NextInBlock()
	if !next.IsEndOfBlock() {
		return next
	}
	m := it.block.method
	if m == nil {
		return next
	}
	for i, b := range m.blocks {
		if b == it.block && i+1 < len(m.blocks) {
			return m.blocks[i+1].Walk()
		}
	}
	return next
}

// Emplace inserts the instruction before the current position and returns a
// walker pointing at the inserted instruction.
func (it InstructionWalker) Emplace(inst Instruction) InstructionWalker {
	it.block.insertAt(it.index, inst)
	return it
}

// Erase removes the current instruction; the returned walker points at the
// following instruction.
func (it InstructionWalker) Erase() InstructionWalker {
	it.block.removeAt(it.index)
	return it
}

// Reset replaces the current instruction in place.
func (it InstructionWalker) Reset(inst Instruction) InstructionWalker {
	it.block.replaceAt(it.index, inst)
	return it
}

// Release removes and returns the current instruction, e.g. for re-inserting
// it elsewhere.
func (it InstructionWalker) Release() (Instruction, InstructionWalker) {
	inst := it.block.removeAt(it.index)
	return inst, it
}
