package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vc4go/vc4cc/internal/ir"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vc4cc.yaml")
	content := []byte(`
optimization_level: 1
parallel: 2
frontend:
  clang: /usr/bin/clang-19
  stdlib_header: /opt/vc4/include/defines.h
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	want := DefaultConfig()
	want.OptimizationLevel = 1
	want.Parallel = 2
	want.FrontEnd.ClangPath = "/usr/bin/clang-19"
	want.FrontEnd.StdlibHeader = "/opt/vc4/include/defines.h"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/definitely/not/here.yaml"); err == nil {
		t.Fatalf("expected missing config to fail")
	}
}

// buildSmallKernel models a kernel writing a constant through a global
// pointer, with a work-group barrier in between.
func buildSmallKernel() (*ir.Module, *ir.Method) {
	module := ir.NewModule("test")
	method := ir.NewMethod("k")
	method.IsKernel = true
	module.Methods = append(module.Methods, method)
	block := method.AppendBlock(ir.DefaultBlockName)

	out := method.AddParameter("%out", ir.NewPointerType(ir.TypeInt32.ToVectorType(16), ir.AddressSpaceGlobal), 0)
	val := method.AddNewLocal(ir.TypeInt32.ToVectorType(16), "%val")
	block.WalkEnd().Emplace(ir.NewMove(val, ir.IntOne))
	block.WalkEnd().Emplace(ir.NewMemoryBarrier(ir.ScopeWorkGroup, ir.SemanticsAcquireRelease))
	block.WalkEnd().Emplace(ir.NewMemoryInstruction(ir.MemoryWrite, out.CreateReference(), val, ir.IntOne, false))
	return module, method
}

func TestCompileMethodUniversalInvariants(t *testing.T) {
	module, method := buildSmallKernel()
	cfg := DefaultConfig()
	cfg.Parallel = 1

	if err := CompileMethod(module, method, cfg); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	// no residual memory instructions, barriers or phi-nodes
	for it := method.WalkAllInstructions(); !it.IsEndOfMethod(); it = it.NextInMethod() {
		switch it.Get().(type) {
		case *ir.MemoryInstruction, *ir.MemoryBarrier, *ir.PhiNode, *ir.LifetimeBoundary:
			t.Fatalf("residual instruction after pipeline: %s", it.Get().String())
		}
	}

	// every branch is followed by exactly 3 NOPs before any label
	for _, block := range method.BasicBlocks() {
		instructions := block.Instructions()
		for i, inst := range instructions {
			if _, ok := inst.(*ir.Branch); !ok {
				continue
			}
			if len(instructions) < i+4 {
				t.Fatalf("branch at end of block %s without delay slots", block.Name())
			}
			for j := 1; j <= 3; j++ {
				if _, ok := instructions[i+j].(*ir.Nop); !ok {
					t.Fatalf("delay slot %d after branch is %s", j, instructions[i+j].String())
				}
			}
		}
	}

	// the epilogue signals the program end
	var endSignal bool
	for it := method.WalkAllInstructions(); !it.IsEndOfMethod(); it = it.NextInMethod() {
		if it.Get().Signal() == ir.SignalEndProgram {
			endSignal = true
		}
	}
	if !endSignal {
		t.Fatalf("missing program end signal")
	}
}

func TestRunCollectsAllFailures(t *testing.T) {
	module := ir.NewModule("test")
	good := ir.NewMethod("good")
	module.Methods = append(module.Methods, good)
	good.AppendBlock(ir.DefaultBlockName)

	// filling a VPM-backed area with a runtime-counted number of entries
	// is not supported and must fail its method
	bad := ir.NewMethod("bad")
	module.Methods = append(module.Methods, bad)
	block := bad.AppendBlock(ir.DefaultBlockName)
	shared := ir.NewGlobal("%shared",
		ir.NewPointerType(ir.NewArrayType(ir.TypeInt32, 16), ir.AddressSpaceLocal), nil)
	module.Globals = append(module.Globals, shared)
	n := bad.AddParameter("%n", ir.TypeInt32, 0)
	value := bad.AddNewLocal(ir.TypeInt32, "%value")
	block.WalkEnd().Emplace(ir.NewMove(value, ir.IntOne))
	block.WalkEnd().Emplace(ir.NewMemoryInstruction(ir.MemoryFill,
		shared.CreateReference(), value, n.CreateReference(), false))

	cfg := DefaultConfig()
	cfg.Parallel = 2
	err := Run(module, cfg, nil)
	if err == nil {
		t.Fatalf("expected the invalid method to fail compilation")
	}

	var compErr *ir.CompilationError
	if !errors.As(err, &compErr) {
		t.Fatalf("error does not wrap a CompilationError: %v", err)
	}
	if compErr.Step != ir.StepNormalizer {
		t.Fatalf("failure step = %v, want normalizer", compErr.Step)
	}
}
