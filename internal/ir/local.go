package ir

import "fmt"

// LocalUse describes how an instruction mentions a Local.
type LocalUse uint8

const (
	LocalUseReader LocalUse = 1 << iota
	LocalUseWriter
)

func (u LocalUse) ReadsLocal() bool  { return u&LocalUseReader != 0 }
func (u LocalUse) WritesLocal() bool { return u&LocalUseWriter != 0 }

// LocalKind discriminates the Local variants.
type LocalKind uint8

const (
	LocalPlain LocalKind = iota
	LocalParameter
	LocalStackAllocation
	LocalGlobal
)

// Local is a symbolic value name owned by a Method (or, for globals, by the
// Module). Its user set is kept in sync by the instruction list edits of the
// owning basic blocks.
type Local struct {
	Name string
	Type DataType
	Kind LocalKind

	// ParamDecorations is only meaningful for LocalParameter.
	ParamDecorations ParameterDecorations
	// StackSize and StackAlignment are only meaningful for
	// LocalStackAllocation.
	StackSize      uint32
	StackAlignment uint32
	// Initializer is only meaningful for LocalGlobal.
	Initializer *Value
	// CompositeInit holds the per-element initializer of aggregate or
	// vector globals.
	CompositeInit []Value
	// Reference points to the local this one is derived from via address
	// arithmetic, if any.
	Reference *Local

	users map[Instruction]LocalUse
}

func newLocal(name string, t DataType, kind LocalKind) *Local {
	return &Local{
		Name:  name,
		Type:  t,
		Kind:  kind,
		users: make(map[Instruction]LocalUse),
	}
}

// NewParameter creates a kernel parameter local.
func NewParameter(name string, t DataType, decorations ParameterDecorations) *Local {
	l := newLocal(name, t, LocalParameter)
	l.ParamDecorations = decorations
	return l
}

// NewStackAllocation creates a private per-invocation memory local.
func NewStackAllocation(name string, t DataType, size, alignment uint32) *Local {
	l := newLocal(name, t, LocalStackAllocation)
	l.StackSize = size
	if alignment == 0 {
		alignment = 4
	}
	l.StackAlignment = alignment
	return l
}

// NewGlobal creates a module-scope local with an optional initializer.
func NewGlobal(name string, t DataType, initializer *Value) *Local {
	l := newLocal(name, t, LocalGlobal)
	l.Initializer = initializer
	return l
}

func (l *Local) IsParameter() bool       { return l.Kind == LocalParameter }
func (l *Local) IsStackAllocation() bool { return l.Kind == LocalStackAllocation }
func (l *Local) IsGlobal() bool          { return l.Kind == LocalGlobal }

// CreateReference returns a Value referencing this local.
func (l *Local) CreateReference() Value {
	return Value{Kind: ValueLocal, Type: l.Type, local: l}
}

func (l *Local) addUser(inst Instruction, use LocalUse) {
	l.users[inst] |= use
}

func (l *Local) removeUser(inst Instruction, use LocalUse) {
	remaining := l.users[inst] &^ use
	if remaining == 0 {
		delete(l.users, inst)
	} else {
		l.users[inst] = remaining
	}
}

// Users returns the instructions mentioning this local together with the
// kind of mention. The returned map must not be mutated.
func (l *Local) Users() map[Instruction]LocalUse {
	return l.users
}

// ForUsers calls fn for every user matching the given use kind.
func (l *Local) ForUsers(use LocalUse, fn func(Instruction)) {
	for inst, u := range l.users {
		if u&use != 0 {
			fn(inst)
		}
	}
}

// CountUsers returns the number of users matching the given use kind.
func (l *Local) CountUsers(use LocalUse) int {
	var n int
	for _, u := range l.users {
		if u&use != 0 {
			n++
		}
	}
	return n
}

// SingleWriter returns the only instruction writing this local, or nil if
// there are none or several.
func (l *Local) SingleWriter() Instruction {
	var writer Instruction
	for inst, u := range l.users {
		if u.WritesLocal() {
			if writer != nil {
				return nil
			}
			writer = inst
		}
	}
	return writer
}

func (l *Local) String() string {
	switch l.Kind {
	case LocalParameter:
		return fmt.Sprintf("param %s %s", l.Type, l.Name)
	case LocalStackAllocation:
		return fmt.Sprintf("stack[%d] %s %s", l.StackSize, l.Type, l.Name)
	case LocalGlobal:
		return fmt.Sprintf("global %s %s", l.Type, l.Name)
	}
	return fmt.Sprintf("%s %s", l.Type, l.Name)
}
