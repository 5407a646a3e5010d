package main

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/teris-io/cli"
	"github.com/hmny-fork/n2t-toolchain/pkg/asm"
	"github.com/hmny-fork/n2t-toolchain/pkg/vm"
)

var Description = strings.ReplaceAll(`
The VM Translator translates programs (composed of multiple modules/files) written in
the VM language into Hack assembly code that can be further elaborated. The VM language
is a higher-level (bytecode'like) language tailored for use with the Hack computer arch.
`, "\n", " ")

var VmTranslator = cli.New(Description).
	// 'AsOptional()' allows to have more than one input .vm file
	WithArg(cli.NewArg("inputs", "One or more bytecode (.vm) files to be compiled, order matters").
		AsOptional().WithType(cli.TypeString)).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "ERROR: Not enough arguments provided, use --help\n")
		return 1
	}

	// Allocates a 'vm.Program' struct to save all the parsed translation unit
	// (the .vm files) that will be parsed and lowered independently and then
	// sent to the codegen phases (that will create a monolithic compiled output).
	program, order := vm.Program{}, make([]string, 0, len(args))

	// For every file provided by the user we do the following things, the order the
	// files are given in on the command line is preserved since it drives static
	// segment base allocation (see 'vm.Lowerer').
	for _, input := range args {
		content, err := os.ReadFile(input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: Unable to open input file: %s\n", err)
			return 1
		}

		name := strings.TrimSuffix(path.Base(input), path.Ext(input))

		// Instantiate a parser for the Vm program
		parser := vm.NewParser(bytes.NewReader(content))
		// Parses the input file content and extract an AST (as a 'vm.Module') from it.
		module, err := parser.Parse()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: Unable to complete 'parsing' pass: %s\n", err)
			return 1
		}

		program[name] = module
		order = append(order, name)
	}

	// Instantiate a lowerer to convert the program from Vm to Asm
	lowerer := vm.NewLowerer(program, order)
	// Lowers the vm.Program to an in-memory/IR representation of its Asm counterpart 'asm.Program'.
	asmProgram, err := lowerer.Lower()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Unable to complete 'lowering' pass: %s\n", err)
		return 1
	}

	// Multiple translation units imply the presence of an entrypoint (Sys.init), so we
	// prepend the bootstrap sequence that sets SP and calls into it. A lone file is
	// assumed to be a self-contained test program and is translated as-is.
	if len(order) > 1 {
		bootstrap, err := lowerer.Bootstrap()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: Unable to generate 'bootstrap' code: %s\n", err)
			return 1
		}
		asmProgram = append(bootstrap, asmProgram...)
	}

	// Now, instantiates a code generator for the Asm (compiled) program
	codegen := asm.NewCodeGenerator(asmProgram)
	// Iterates over each instruction and spits out the relative textual representation.
	compiled, err := codegen.Generate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Unable to complete 'codegen' pass: %s\n", err)
		return 1
	}

	for _, line := range compiled {
		fmt.Fprintln(os.Stdout, line)
	}

	return 0
}

func main() { os.Exit(VmTranslator.Run(os.Args, os.Stdout)) }
