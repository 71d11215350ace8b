package precompiler

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/mod/semver"

	"github.com/vc4go/vc4cc/internal/ir"
)

// minimumClangVersion is the oldest clang known to produce IR this
// compiler handles.
const minimumClangVersion = "v3.9.0"

// FrontEnd parses one IR format into a populated module.
type FrontEnd func(data []byte, moduleName string) (*ir.Module, error)

var (
	frontEndsMu sync.RWMutex
	frontEnds   = make(map[SourceType]FrontEnd)
)

// RegisterFrontEnd wires a parser for the given source type into the
// compiler. Registering a type twice panics.
func RegisterFrontEnd(t SourceType, frontEnd FrontEnd) {
	if frontEnd == nil {
		panic("precompiler: front end must be non-nil")
	}
	frontEndsMu.Lock()
	defer frontEndsMu.Unlock()
	if _, exists := frontEnds[t]; exists {
		panic(fmt.Sprintf("precompiler: front end for %s already registered", t))
	}
	frontEnds[t] = frontEnd
}

// LookupFrontEnd returns the parser registered for the source type.
func LookupFrontEnd(t SourceType) (FrontEnd, error) {
	frontEndsMu.RLock()
	defer frontEndsMu.RUnlock()
	if frontEnd, ok := frontEnds[t]; ok {
		return frontEnd, nil
	}
	return nil, ir.NewError(ir.StepFrontEnd, "No front end registered for source type", t.String())
}

// Options configures a pre-compilation run.
type Options struct {
	ClangPath string
	// StdlibHeader, StdlibPCH and StdlibModule are the candidate standard
	// library locations; each one that exists is used, and the PCH takes
	// precedence over the header.
	StdlibHeader string
	StdlibPCH    string
	StdlibModule string
	// ExtraArgs are passed to the front-end invocation verbatim.
	ExtraArgs []string
}

// Stdlib is the resolved standard library location.
type Stdlib struct {
	// Header is the textual configuration header.
	Header string
	// PCH is the precompiled header, preferred when present.
	PCH string
	// Module is the precompiled LLVM module to link against.
	Module string
}

// ResolveStdlib locates the standard library artifacts from the explicit
// options; no other paths are searched.
func ResolveStdlib(opts Options) (Stdlib, error) {
	candidates := Stdlib{Header: opts.StdlibHeader, PCH: opts.StdlibPCH, Module: opts.StdlibModule}
	var resolved Stdlib
	if fileExists(candidates.PCH) {
		resolved.PCH = candidates.PCH
	}
	if fileExists(candidates.Module) {
		resolved.Module = candidates.Module
	}
	if fileExists(candidates.Header) {
		resolved.Header = candidates.Header
	}
	if resolved.Header == "" && resolved.PCH == "" && resolved.Module == "" {
		return resolved, ir.NewError(ir.StepFrontEnd, "Failed to locate the standard library", "")
	}
	return resolved, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

var clangVersionPattern = regexp.MustCompile(`version (\d+\.\d+(\.\d+)?)`)

// checkClangVersion verifies the front-end binary is recent enough.
func checkClangVersion(clang string) error {
	out, err := exec.Command(clang, "--version").Output()
	if err != nil {
		return fmt.Errorf("precompiler: query %s version: %w", clang, err)
	}
	match := clangVersionPattern.FindSubmatch(out)
	if match == nil {
		return ir.NewError(ir.StepFrontEnd, "Cannot determine front-end compiler version", clang)
	}
	version := "v" + string(match[1])
	if !semver.IsValid(version) || semver.Compare(version, minimumClangVersion) < 0 {
		return ir.NewError(ir.StepFrontEnd,
			fmt.Sprintf("Front-end compiler too old, need at least %s", minimumClangVersion), version)
	}
	slog.Debug("Resolved front-end compiler", "binary", clang, "version", version)
	return nil
}

// Precompile turns OpenCL C source into LLVM bitcode by invoking the
// external front end. Inputs already in an IR format pass through
// unchanged.
func Precompile(source []byte, opts Options) ([]byte, SourceType, error) {
	sourceType := DetectSourceType(source)
	if sourceType != SourceOpenCLC {
		return source, sourceType, nil
	}

	clang := opts.ClangPath
	if clang == "" {
		found, err := exec.LookPath("clang")
		if err != nil {
			return nil, sourceType, ir.NewError(ir.StepFrontEnd, "No front-end compiler found", err.Error())
		}
		clang = found
	}
	if err := checkClangVersion(clang); err != nil {
		return nil, sourceType, err
	}
	stdlib, err := ResolveStdlib(opts)
	if err != nil {
		return nil, sourceType, err
	}

	args := []string{
		"-cc1", "-triple", "spir-unknown-unknown",
		"-O3", "-ffp-contract=off",
		"-cl-std=CL1.2", "-cl-kernel-arg-info",
		"-Wno-all", "-Wno-gcc-compat",
		"-x", "cl",
		"-emit-llvm-bc",
	}
	switch {
	case stdlib.PCH != "":
		args = append(args, "-include-pch", stdlib.PCH)
	case stdlib.Header != "":
		args = append(args, "-include", stdlib.Header)
	}
	args = append(args, opts.ExtraArgs...)
	args = append(args, "-o", "-", "-")

	cmd := exec.Command(clang, args...)
	cmd.Stdin = bytes.NewReader(source)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	slog.Debug("Invoking front end", "command", clang+" "+strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return nil, sourceType, ir.NewError(ir.StepFrontEnd, "Front-end compilation failed",
			strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), SourceLLVMBitcode, nil
}
