package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/vc4go/vc4cc/internal/codegen"
	"github.com/vc4go/vc4cc/internal/ir"
	"github.com/vc4go/vc4cc/internal/pipeline"
	"github.com/vc4go/vc4cc/internal/precompiler"
	"github.com/vc4go/vc4cc/internal/profiler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vc4cc: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	output := flag.String("o", "a.out", "Output file")
	configPath := flag.String("config", "", "YAML configuration file")
	optLevel := flag.Int("O", 2, "Optimization level (0 disables optional passes)")
	verbose := flag.Bool("v", false, "Enable debug logging")
	quiet := flag.Bool("q", false, "Only log errors")
	profile := flag.Bool("profile", false, "Collect and dump profiling data")
	clangPath := flag.String("clang", "", "Front-end compiler binary")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <input-file>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Compile OpenCL C (or LLVM IR / SPIR-V) to a VideoCore IV QPU binary.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	if *quiet {
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("input file required")
	}
	inputPath := flag.Arg(0)

	cfg := pipeline.DefaultConfig()
	if *configPath != "" {
		loaded, err := pipeline.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.OptimizationLevel = *optLevel
	cfg.Profile = cfg.Profile || *profile
	if *clangPath != "" {
		cfg.FrontEnd.ClangPath = *clangPath
	}

	source, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	irBytes, sourceType, err := precompiler.Precompile(source, precompiler.Options{
		ClangPath:    cfg.FrontEnd.ClangPath,
		StdlibHeader: cfg.FrontEnd.StdlibHeader,
		StdlibPCH:    cfg.FrontEnd.StdlibPCH,
		StdlibModule: cfg.FrontEnd.StdlibModule,
	})
	if err != nil {
		return err
	}
	slog.Info("Compiling input", "file", inputPath, "type", sourceType.String())

	if sourceType == precompiler.SourceQPUBinary || sourceType == precompiler.SourceQPUHex {
		// already machine code, pass through
		return os.WriteFile(*output, irBytes, 0o644)
	}

	frontEnd, err := precompiler.LookupFrontEnd(sourceType)
	if err != nil {
		return err
	}
	module, err := frontEnd(irBytes, inputPath)
	if err != nil {
		return err
	}

	var progress func(*ir.Method)
	if term.IsTerminal(int(os.Stderr.Fd())) && !*quiet {
		bar := progressbar.NewOptions(len(module.Methods),
			progressbar.OptionSetDescription("compiling kernels"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish(),
		)
		progress = func(*ir.Method) { _ = bar.Add(1) }
	}

	if err := pipeline.Run(module, cfg, progress); err != nil {
		return err
	}
	if cfg.Profile {
		profiler.DumpResults(false)
	}

	encoder, err := codegen.LookupEncoder("qpu")
	if err != nil {
		return err
	}
	binary, err := encoder.Encode(module)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*output, binary, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	slog.Info("Compilation successful", "output", *output, "bytes", len(binary))
	return nil
}
