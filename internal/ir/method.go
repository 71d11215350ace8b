package ir

import "fmt"

// Names of the locals carrying the implicit kernel arguments. The runtime
// supplies them through the UNIFORM stream in this order, before the
// explicit kernel parameters.
const (
	WorkDimensionsLocal    = "%work_dim"
	LocalSizesLocal        = "%local_sizes"
	LocalIDsLocal          = "%local_ids"
	NumGroupsXLocal        = "%num_groups_x"
	NumGroupsYLocal        = "%num_groups_y"
	NumGroupsZLocal        = "%num_groups_z"
	GroupIDXLocal          = "%group_id_x"
	GroupIDYLocal          = "%group_id_y"
	GroupIDZLocal          = "%group_id_z"
	GlobalOffsetXLocal     = "%global_offset_x"
	GlobalOffsetYLocal     = "%global_offset_y"
	GlobalOffsetZLocal     = "%global_offset_z"
	GlobalDataAddressLocal = "%global_data_address"
)

// UniformsMask records which implicit UNIFORM values the compiled kernel
// actually reads. It is embedded in the output so the runtime only supplies
// what is needed.
type UniformsMask uint32

const (
	UniformWorkDimensions UniformsMask = 1 << iota
	UniformLocalSizes
	UniformLocalIDs
	UniformNumGroupsX
	UniformNumGroupsY
	UniformNumGroupsZ
	UniformGroupIDX
	UniformGroupIDY
	UniformGroupIDZ
	UniformGlobalOffsetX
	UniformGlobalOffsetY
	UniformGlobalOffsetZ
	UniformGlobalDataAddress
)

func (m *UniformsMask) Set(flag UniformsMask)     { *m |= flag }
func (m UniformsMask) Has(flag UniformsMask) bool { return m&flag != 0 }
func (m UniformsMask) Value() uint32              { return uint32(m) }

// MethodMetadata carries kernel-level facts not represented in the
// instruction stream.
type MethodMetadata struct {
	UniformsUsed          UniformsMask
	RequiredWorkGroupSize [3]uint32
}

// Method is a single kernel function: its basic blocks, parameters and local
// table. A Method owns its blocks and locals; instruction-level edits go
// through InstructionWalkers.
type Method struct {
	Name       string
	IsKernel   bool
	Parameters []*Local
	Metadata   MethodMetadata

	blocks     []*BasicBlock
	locals     map[string]*Local
	tmpCounter uint32
}

func NewMethod(name string) *Method {
	return &Method{
		Name:   name,
		locals: make(map[string]*Local),
	}
}

// AddParameter registers a kernel parameter local.
func (m *Method) AddParameter(name string, t DataType, decorations ParameterDecorations) *Local {
	param := NewParameter(name, t, decorations)
	m.locals[name] = param
	m.Parameters = append(m.Parameters, param)
	return param
}

// AddStackAllocation registers a private memory local.
func (m *Method) AddStackAllocation(name string, t DataType, size, alignment uint32) *Local {
	alloc := NewStackAllocation(name, t, size, alignment)
	m.locals[name] = alloc
	return alloc
}

// AddNewLocal creates a fresh uniquely-named local of the given type and
// returns a reference to it.
func (m *Method) AddNewLocal(t DataType, prefix string) Value {
	if prefix == "" {
		prefix = "%tmp"
	}
	name := fmt.Sprintf("%s.%d", prefix, m.tmpCounter)
	m.tmpCounter++
	for m.locals[name] != nil {
		name = fmt.Sprintf("%s.%d", prefix, m.tmpCounter)
		m.tmpCounter++
	}
	local := newLocal(name, t, LocalPlain)
	m.locals[name] = local
	return local.CreateReference()
}

// FindLocal returns the local with the given name, or nil.
func (m *Method) FindLocal(name string) *Local {
	return m.locals[name]
}

// FindOrCreateLocal returns the named local, creating a plain local of the
// given type when missing.
func (m *Method) FindOrCreateLocal(t DataType, name string) *Local {
	if local := m.locals[name]; local != nil {
		return local
	}
	local := newLocal(name, t, LocalPlain)
	m.locals[name] = local
	return local
}

// Locals returns the local table. The returned map must not be mutated.
func (m *Method) Locals() map[string]*Local { return m.locals }

// StackAllocations returns all stack-allocation locals of the method.
func (m *Method) StackAllocations() []*Local {
	var allocs []*Local
	for _, local := range m.locals {
		if local.IsStackAllocation() {
			allocs = append(allocs, local)
		}
	}
	return allocs
}

// BasicBlocks returns the ordered block list. The slice must not be mutated.
func (m *Method) BasicBlocks() []*BasicBlock { return m.blocks }

// AppendBlock creates a new basic block labeled with the given name at the
// end of the method.
func (m *Method) AppendBlock(name string) *BasicBlock {
	return m.insertBlock(len(m.blocks), name)
}

// CreateAndInsertBlock creates a new basic block before the given position.
func (m *Method) CreateAndInsertBlock(index int, name string) *BasicBlock {
	if index < 0 {
		index = 0
	}
	if index > len(m.blocks) {
		index = len(m.blocks)
	}
	return m.insertBlock(index, name)
}

func (m *Method) insertBlock(index int, name string) *BasicBlock {
	label := m.FindOrCreateLocal(TypeLabel, name)
	block := &BasicBlock{method: m}
	block.insertAt(0, NewBranchLabel(label))
	m.blocks = append(m.blocks, nil)
	copy(m.blocks[index+1:], m.blocks[index:])
	m.blocks[index] = block
	return block
}

// RemoveBlock deletes the block from the method. It refuses when the block
// still contains instructions other than its label, or when another block
// still branches to it.
func (m *Method) RemoveBlock(block *BasicBlock) bool {
	if !block.Empty() {
		return false
	}
	if label := block.LabelLocal(); label != nil {
		for user := range label.Users() {
			if _, ok := user.(*Branch); ok {
				return false
			}
			if _, ok := user.(*PhiNode); ok {
				return false
			}
		}
	}
	for i, b := range m.blocks {
		if b == block {
			block.removeAt(0)
			m.blocks = append(m.blocks[:i], m.blocks[i+1:]...)
			return true
		}
	}
	return false
}

// MoveBlock moves the block at position from before the position to
// (positions in the pre-move list).
func (m *Method) MoveBlock(from, to int) {
	if from < 0 || from >= len(m.blocks) || to < 0 || to > len(m.blocks) || from == to {
		return
	}
	block := m.blocks[from]
	m.blocks = append(m.blocks[:from], m.blocks[from+1:]...)
	if to > from {
		to--
	}
	m.blocks = append(m.blocks, nil)
	copy(m.blocks[to+1:], m.blocks[to:])
	m.blocks[to] = block
}

// BlockIndex returns the position of the block in the layout order.
func (m *Method) BlockIndex(block *BasicBlock) int {
	for i, b := range m.blocks {
		if b == block {
			return i
		}
	}
	return -1
}

// SwapLocalNames exchanges the names of two locals, keeping the local
// table consistent.
func (m *Method) SwapLocalNames(a, b *Local) {
	a.Name, b.Name = b.Name, a.Name
	m.locals[a.Name] = a
	m.locals[b.Name] = b
}

// FindBasicBlock returns the block whose label is the given local.
func (m *Method) FindBasicBlock(label *Local) *BasicBlock {
	for _, b := range m.blocks {
		if b.LabelLocal() == label {
			return b
		}
	}
	return nil
}

// FindBlockByName returns the block with the given label name.
func (m *Method) FindBlockByName(name string) *BasicBlock {
	for _, b := range m.blocks {
		if b.Name() == name {
			return b
		}
	}
	return nil
}

// WalkAllInstructions returns a walker at the first instruction of the first
// block; NextInMethod continues across block boundaries.
func (m *Method) WalkAllInstructions() InstructionWalker {
	if len(m.blocks) == 0 {
		return InstructionWalker{}
	}
	return m.blocks[0].Walk()
}

// FindWalkerForInstruction searches all blocks for the instruction.
func (m *Method) FindWalkerForInstruction(inst Instruction) (InstructionWalker, bool) {
	for _, b := range m.blocks {
		if it, ok := b.FindWalkerForInstruction(inst); ok {
			return it, true
		}
	}
	return InstructionWalker{}, false
}

// AppendToEnd appends the instruction to the last basic block, creating the
// default block when the method is still empty.
func (m *Method) AppendToEnd(inst Instruction) {
	if len(m.blocks) == 0 {
		m.AppendBlock(DefaultBlockName)
	}
	last := m.blocks[len(m.blocks)-1]
	last.insertAt(len(last.instructions), inst)
}

// CountInstructions returns the total number of instructions over all
// blocks, including labels.
func (m *Method) CountInstructions() int {
	var n int
	for _, b := range m.blocks {
		n += len(b.instructions)
	}
	return n
}

// CreatePointerType returns a pointer type in the given address space.
func (m *Method) CreatePointerType(element DataType, space AddressSpace) DataType {
	return NewPointerType(element, space)
}
