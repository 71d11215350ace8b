package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vc4go/vc4cc/internal/ir"
	"github.com/vc4go/vc4cc/internal/normalization"
	"github.com/vc4go/vc4cc/internal/optimization"
	"github.com/vc4go/vc4cc/internal/profiler"
)

// Pass is one step of the per-method pipeline. Each pass observes the full
// output of its predecessors and runs to completion on its method.
type Pass struct {
	Name string
	Run  func(*ir.Module, *ir.Method) error
}

// Passes returns the pass pipeline for the configuration. The order is
// fixed: normalization first, then the optional optimizations, then the
// finalization making the method hardware-legal.
func Passes(cfg Config) []Pass {
	passes := []Pass{
		{"EliminatePhiNodes", normalization.EliminatePhiNodes},
		{"RemoveLifetimeBoundaries", normalization.RemoveLifetimeBoundaries},
		{"MapMemoryAccesses", normalization.MapMemoryAccesses},
		// after memory lowering, so the mutex brackets it emitted are
		// lowered as well
		{"LowerSynchronization", normalization.LowerSynchronization},
		{"LowerLiteralValues", normalization.LowerLiteralValues},
	}
	if cfg.OptimizationLevel > 0 {
		passes = append(passes,
			Pass{"RemoveConstantLoadInLoops", optimization.RemoveConstantLoadInLoops},
			Pass{"VectorizeLoops", optimization.VectorizeLoops},
			Pass{"SimplifyConditionalBlocks", optimization.SimplifyConditionalBlocks},
			Pass{"MergeAdjacentBasicBlocks", optimization.MergeAdjacentBasicBlocks},
			Pass{"ReorderBasicBlocks", optimization.ReorderBasicBlocks},
		)
	}
	passes = append(passes,
		Pass{"AddStartStopSegment", optimization.AddStartStopSegment},
		// the prologue may introduce extension masks and shift distances
		// which do not fit a small immediate
		Pass{"LowerStartStopLiterals", normalization.LowerLiteralValues},
		Pass{"ExtendBranches", optimization.ExtendBranches},
		Pass{"CheckNormalized", normalization.CheckNormalized},
	)
	return passes
}

// CompileMethod runs the whole pipeline over a single method. The first
// failing pass aborts the method.
func CompileMethod(module *ir.Module, method *ir.Method, cfg Config) error {
	defer profiler.Measure("CompileMethod")()
	for _, pass := range Passes(cfg) {
		slog.Debug("Running pass", "pass", pass.Name, "method", method.Name)
		if err := pass.Run(module, method); err != nil {
			return fmt.Errorf("pipeline: pass %s on method %s: %w", pass.Name, method.Name, err)
		}
	}
	return nil
}

// Run compiles all methods of the module, up to cfg.Parallel of them
// concurrently. Each method owns its view of the module exclusively. One
// method's failure does not abort the others; all failures are reported
// together.
func Run(module *ir.Module, cfg Config, progress func(method *ir.Method)) error {
	if cfg.Profile {
		profiler.SetEnabled(true)
	}

	var group errgroup.Group
	group.SetLimit(max(cfg.Parallel, 1))

	var mu sync.Mutex
	var failures []error

	for _, method := range module.Methods {
		method := method
		group.Go(func() error {
			if err := CompileMethod(module, method, cfg); err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
			if progress != nil {
				progress(method)
			}
			return nil
		})
	}
	_ = group.Wait()

	if cfg.Profile {
		profiler.DumpResults(false)
	}
	return errors.Join(failures...)
}
