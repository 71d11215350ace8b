package ir

import "fmt"

// Step names the pipeline stage an error originated in.
type Step uint8

const (
	StepFrontEnd Step = iota
	StepNormalizer
	StepOptimizer
	StepCodeGeneration
	StepLinker
	StepInternal
)

func (s Step) String() string {
	switch s {
	case StepFrontEnd:
		return "front-end"
	case StepNormalizer:
		return "normalizer"
	case StepOptimizer:
		return "optimizer"
	case StepCodeGeneration:
		return "code generation"
	case StepLinker:
		return "linker"
	case StepInternal:
		return "internal"
	}
	return "unknown"
}

// CompilationError is the domain error of all passes. Detail usually holds
// the textual form of the offending instruction.
type CompilationError struct {
	Step    Step
	Message string
	Detail  string
}

func (e *CompilationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Step, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Step, e.Message, e.Detail)
}

// NewError creates a CompilationError for the given step.
func NewError(step Step, message, detail string) error {
	return &CompilationError{Step: step, Message: message, Detail: detail}
}
