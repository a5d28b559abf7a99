// Package main provides the CLI entry point for PARVM (Parallel Virtual Machine).
//
// Usage:
//
//	parvm run program.pasm         # Assemble and execute
//	parvm run -v program.pasm      # Execute with verbose output
//	parvm compile program.pasm     # Assemble to bytecode (.pvbc)
//	parvm exec program.pvbc        # Execute assembled bytecode
//	parvm disasm program.pvbc      # Disassemble bytecode
//	parvm trace program.pasm       # Run and export the trace to Parquet
//	parvm stats program.pasm       # Run and print the metrics frames
//	parvm repl                     # Interactive machine console
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/akhildatla/parvm/pkg/asm"
	"github.com/akhildatla/parvm/pkg/embed"
	"github.com/akhildatla/parvm/pkg/isa"
	"github.com/akhildatla/parvm/pkg/mem"
	"github.com/akhildatla/parvm/pkg/metrics"
	"github.com/akhildatla/parvm/pkg/repl"
	"github.com/akhildatla/parvm/pkg/vm"
)

// Version info set by GoReleaser via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	cmd := os.Args[1]

	switch cmd {
	case "run":
		return runCommand(os.Args[2:])
	case "compile":
		return compileCommand(os.Args[2:])
	case "exec":
		return execCommand(os.Args[2:])
	case "disasm":
		return disasmCommand(os.Args[2:])
	case "trace":
		return traceCommand(os.Args[2:])
	case "stats":
		return statsCommand(os.Args[2:])
	case "repl":
		return replCommand(os.Args[2:])
	case "version":
		fmt.Printf("parvm version %s\n", version)
		if commit != "none" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if date != "unknown" {
			fmt.Printf("  built:  %s\n", date)
		}
		return nil
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// runFlags holds the execution flags shared by run and exec.
type runFlags struct {
	verbose   *bool
	procs     *int
	maxCycles *uint64
	tracePath *string
	stats     *bool
	noTrace   *bool
}

func addRunFlags(fs *flag.FlagSet) runFlags {
	return runFlags{
		verbose:   fs.Bool("v", false, "verbose output"),
		procs:     fs.Int("procs", 0, "processor count (default: machine default)"),
		maxCycles: fs.Uint64("max-cycles", 0, "cycle budget, 0 means unlimited"),
		tracePath: fs.String("trace", "", "write the execution trace to a Parquet file"),
		stats:     fs.Bool("stats", false, "print per-processor utilization after the run"),
		noTrace:   fs.Bool("no-trace", false, "disable execution tracing"),
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	rf := addRunFlags(fs)

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: parvm run <file.pasm>")
	}

	path := fs.Arg(0)
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	program, err := asm.Assemble(path, string(source))
	if err != nil {
		return fmt.Errorf("assembling: %w", err)
	}

	if *rf.verbose {
		fmt.Printf("Executing: %s (%d instructions)\n", path, program.Len())
	}
	return runProgram(program, rf)
}

func execCommand(args []string) error {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	rf := addRunFlags(fs)

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: parvm exec <file.pvbc>")
	}

	path := fs.Arg(0)
	bytecode, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading bytecode: %w", err)
	}

	program, err := isa.DeserializeProgram(bytecode)
	if err != nil {
		return fmt.Errorf("deserializing: %w", err)
	}

	if *rf.verbose {
		fmt.Printf("Executing bytecode: %s (%d instructions)\n", path, program.Len())
	}
	return runProgram(program, rf)
}

// runProgram executes a program and reports the outcome.
func runProgram(program *isa.Program, rf runFlags) error {
	opts := []embed.Option{embed.WithMaxCycles(*rf.maxCycles)}
	if *rf.procs > 0 {
		opts = append(opts, embed.WithProcessors(*rf.procs))
	}
	if *rf.noTrace {
		opts = append(opts, embed.WithoutTrace())
	}

	result, err := embed.Run(program, opts...)
	if err != nil {
		var dl *vm.DeadlockError
		switch {
		case errors.As(err, &dl):
			fmt.Printf("deadlock at cycle %d\n", dl.Cycle)
			for _, cycle := range dl.Cycles {
				fmt.Printf("  wait cycle: threads %v\n", cycle)
			}
			return err
		case errors.Is(err, embed.ErrCycleLimit):
			fmt.Printf("cycle limit reached at cycle %d\n", result.Cycles())
			return err
		default:
			return err
		}
	}

	st := result.Stats()
	fmt.Printf("halted after %d cycles, %d instructions, %d threads\n",
		st.Cycles, st.Instructions, st.ThreadsCreated)

	for _, fault := range result.Faults() {
		fmt.Printf("thread %d faulted at pc %d: %v\n", fault.ThreadID, fault.PC, fault.Err)
	}
	for _, r := range result.Races() {
		fmt.Printf("data race: %s\n", r)
	}

	if *rf.stats {
		fmt.Print(metrics.UtilizationFrame(st).Table())
	}
	if *rf.tracePath != "" {
		if err := metrics.ExportTrace(*rf.tracePath, result.Trace()); err != nil {
			return fmt.Errorf("writing trace: %w", err)
		}
		if *rf.verbose {
			fmt.Printf("Trace written to: %s\n", *rf.tracePath)
		}
	}
	return nil
}

func compileCommand(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	output := fs.String("o", "", "output file (default: input with .pvbc extension)")
	verbose := fs.Bool("v", false, "verbose output")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: parvm compile <file.pasm> [-o output.pvbc]")
	}

	inputPath := fs.Arg(0)
	outputPath := *output
	if outputPath == "" {
		ext := filepath.Ext(inputPath)
		outputPath = strings.TrimSuffix(inputPath, ext) + ".pvbc"
	}

	source, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	program, err := asm.Assemble(inputPath, string(source))
	if err != nil {
		return fmt.Errorf("assembling: %w", err)
	}
	for _, issue := range asm.Lint(program) {
		fmt.Fprintf(os.Stderr, "warning: %s\n", issue)
	}

	bytecode, err := isa.SerializeProgram(program)
	if err != nil {
		return fmt.Errorf("serializing: %w", err)
	}
	if err := os.WriteFile(outputPath, bytecode, 0644); err != nil {
		return fmt.Errorf("writing bytecode: %w", err)
	}

	if *verbose {
		fmt.Printf("Assembled %d instructions, %d data words\n", program.Len(), len(program.Data))
		fmt.Printf("Output: %s (%d bytes)\n", outputPath, len(bytecode))
	} else {
		fmt.Printf("Assembled: %s\n", outputPath)
	}
	return nil
}

func disasmCommand(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	output := fs.String("o", "", "output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: parvm disasm <file.pvbc> [-o output.pasm]")
	}

	bytecode, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("reading bytecode: %w", err)
	}

	program, err := isa.DeserializeProgram(bytecode)
	if err != nil {
		return fmt.Errorf("deserializing: %w", err)
	}

	listing := isa.Disassemble(program)
	if *output != "" {
		if err := os.WriteFile(*output, []byte(listing), 0644); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		fmt.Printf("Disassembled to: %s\n", *output)
	} else {
		fmt.Print(listing)
	}
	return nil
}

// traceCommand runs a program and writes its trace to a Parquet file.
func traceCommand(args []string) error {
	fs := flag.NewFlagSet("trace", flag.ExitOnError)
	output := fs.String("o", "trace.parquet", "output Parquet file")
	procs := fs.Int("procs", 0, "processor count (default: machine default)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: parvm trace <file.pasm> [-o trace.parquet]")
	}

	result, err := assembleAndRun(fs.Arg(0), *procs)
	if err != nil {
		return err
	}
	if err := metrics.ExportTrace(*output, result.Trace()); err != nil {
		return fmt.Errorf("writing trace: %w", err)
	}
	fmt.Printf("Trace written to: %s (%d events)\n", *output, len(result.Trace()))
	return nil
}

// statsCommand runs a program and prints the metrics frames.
func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	procs := fs.Int("procs", 0, "processor count (default: machine default)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: parvm stats <file.pasm>")
	}

	result, err := assembleAndRun(fs.Arg(0), *procs)
	if err != nil {
		return err
	}

	st := result.Stats()
	fmt.Printf("halted after %d cycles, %d instructions\n", st.Cycles, st.Instructions)
	fmt.Println("Processor utilization:")
	fmt.Print(metrics.UtilizationFrame(st).Table())
	if log := result.Machine().Memory().Memory().AccessLog(mem.AccessFilter{}); len(log) > 0 {
		fmt.Println("Address traffic:")
		fmt.Print(metrics.HeatFrame(mem.AnalyzeAccessPatterns(log)).Table())
	}
	return nil
}

func assembleAndRun(path string, procs int) (*embed.Result, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	program, err := asm.Assemble(path, string(source))
	if err != nil {
		return nil, fmt.Errorf("assembling: %w", err)
	}

	opts := []embed.Option{embed.WithAccessLog()}
	if procs > 0 {
		opts = append(opts, embed.WithProcessors(procs))
	}
	return embed.Run(program, opts...)
}

func replCommand(args []string) error {
	fs := flag.NewFlagSet("repl", flag.ExitOnError)
	procs := fs.Int("procs", 0, "processor count (default: machine default)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	r := repl.New()
	if *procs > 0 {
		cfg := vm.DefaultConfig()
		cfg.Processors = *procs
		r.SetConfig(cfg)
	}
	r.Start(os.Stdin, os.Stdout)
	return nil
}

func printUsage() error {
	fmt.Println(`PARVM (Parallel Virtual Machine) - Cycle-accurate multiprocessor emulator

Usage:
  parvm <command> [arguments]

Commands:
  run <file.pasm>       Assemble and execute a program
  compile <file.pasm>   Assemble to bytecode (.pvbc)
  exec <file.pvbc>      Execute assembled bytecode
  disasm <file.pvbc>    Disassemble bytecode to assembly
  trace <file.pasm>     Run and export the execution trace to Parquet
  stats <file.pasm>     Run and print the metrics frames
  repl                  Start the interactive machine console
  version               Print version information
  help                  Show this help message

Run/Exec Options:
  -v                    Verbose output
  -procs <n>            Processor count
  -max-cycles <n>       Cycle budget (0 = unlimited)
  -trace <file>         Write the execution trace to a Parquet file
  -stats                Print per-processor utilization after the run
  -no-trace             Disable execution tracing

Compile Options:
  -o <file>             Output file (default: input with .pvbc extension)
  -v                    Verbose output

Disasm Options:
  -o <file>             Output file (default: stdout)

Trace/Stats Options:
  -o <file>             Trace output file (default: trace.parquet)
  -procs <n>            Processor count

REPL Options:
  -procs <n>            Processor count

Examples:
  parvm run program.pasm
  parvm run -procs 2 -stats program.pasm
  parvm compile program.pasm -o program.pvbc
  parvm exec -trace trace.parquet program.pvbc
  parvm disasm program.pvbc
  parvm repl`)
	return nil
}
