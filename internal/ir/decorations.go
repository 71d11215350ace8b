package ir

import "strings"

// Decorations is a bitset of auxiliary facts attached to an instruction.
type Decorations uint32

const (
	DecorationNone Decorations = 0
	// DecorationPhiNode marks moves inserted when eliminating phi-nodes.
	DecorationPhiNode Decorations = 1 << iota
	// DecorationAutoVectorized marks instructions widened by the loop
	// vectorizer.
	DecorationAutoVectorized
	// DecorationElementInsertion marks conditional moves inserting a single
	// vector element.
	DecorationElementInsertion
	DecorationUnsignedResult
	// DecorationWorkGroupUniformValue marks values identical for all
	// work-items of a work-group.
	DecorationWorkGroupUniformValue
	// DecorationBranchOnAllElements marks branches taken only if the
	// condition holds on all 16 elements.
	DecorationBranchOnAllElements
	DecorationConstantLoad
)

func (d Decorations) Has(flag Decorations) bool {
	return d&flag == flag && flag != DecorationNone
}

func (d Decorations) String() string {
	var parts []string
	if d.Has(DecorationPhiNode) {
		parts = append(parts, "phi")
	}
	if d.Has(DecorationAutoVectorized) {
		parts = append(parts, "vectorized")
	}
	if d.Has(DecorationElementInsertion) {
		parts = append(parts, "single element")
	}
	if d.Has(DecorationUnsignedResult) {
		parts = append(parts, "unsigned")
	}
	if d.Has(DecorationWorkGroupUniformValue) {
		parts = append(parts, "work-group uniform")
	}
	if d.Has(DecorationBranchOnAllElements) {
		parts = append(parts, "all elements")
	}
	return strings.Join(parts, ", ")
}

// ParameterDecorations is a bitset of kernel-argument facts.
type ParameterDecorations uint8

const (
	ParamNone ParameterDecorations = 0
	// ParamInput marks parameters the kernel reads memory through.
	ParamInput ParameterDecorations = 1 << iota
	// ParamOutput marks parameters the kernel writes memory through.
	ParamOutput
	ParamSignExtend
	ParamZeroExtend
	ParamReadOnly
	ParamByValue
)

func (d ParameterDecorations) Has(flag ParameterDecorations) bool {
	return d&flag == flag && flag != ParamNone
}
