package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/hmny-fork/n2t-toolchain/pkg/asm"
	"github.com/hmny-fork/n2t-toolchain/pkg/hack"
)

func captureHandler(t *testing.T, args []string) (status int, stdout string, stderr string) {
	t.Helper()

	origOut, origErr := os.Stdout, os.Stderr
	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatalf("unable to create stdout pipe: %s", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		t.Fatalf("unable to create stderr pipe: %s", err)
	}
	os.Stdout, os.Stderr = outW, errW

	status = Handler(args, nil)

	outW.Close()
	errW.Close()
	os.Stdout, os.Stderr = origOut, origErr

	var outBuf, errBuf bytes.Buffer
	io.Copy(&outBuf, outR)
	io.Copy(&errBuf, errR)

	return status, outBuf.String(), errBuf.String()
}

func writeTempVM(t *testing.T, content string) string {
	t.Helper()
	file, err := os.CreateTemp(t.TempDir(), "*.vm")
	if err != nil {
		t.Fatalf("unable to create temp input file: %s", err)
	}
	if _, err := file.WriteString(content); err != nil {
		t.Fatalf("unable to write temp input file: %s", err)
	}
	file.Close()
	return file.Name()
}

// assemble runs the translator's emitted assembly back through the assembler pipeline
// (parse -> lower -> codegen) to get the binary ROM a real Hack CPU would load.
func assemble(t *testing.T, source string) []string {
	t.Helper()

	parser := asm.NewParser(strings.NewReader(source))
	program, err := parser.Parse()
	if err != nil {
		t.Fatalf("unable to parse translated assembly: %s", err)
	}

	lowerer := asm.NewLowerer(program)
	hackProgram, table, err := lowerer.Lower()
	if err != nil {
		t.Fatalf("unable to lower translated assembly: %s", err)
	}

	codegen := hack.NewCodeGenerator(hackProgram, table)
	compiled, err := codegen.Generate()
	if err != nil {
		t.Fatalf("unable to assemble translated assembly: %s", err)
	}

	return compiled
}

func TestVMTranslator(t *testing.T) {
	t.Run("SimpleAdd.vm", func(t *testing.T) {
		input := writeTempVM(t, `
// Pushes two constants and adds them
push constant 7
push constant 8
add
`)
		status, stdout, _ := captureHandler(t, []string{input})
		if status != 0 {
			t.Fatalf("unexpected exit status, expected 0 got %d", status)
		}

		cpu := newHackCPU(assemble(t, stdout))
		cpu.ram[0] = 256 // SP, as the official test scripts pre-seed it for single-file programs
		cpu.run(1000)

		if got := cpu.ram[0]; got != 257 {
			t.Fatalf("expected SP == 257 after two pushes and an add, got %d", got)
		}
		if got := cpu.ram[256]; got != 15 {
			t.Fatalf("expected RAM[256] == 15, got %d", got)
		}
	})

	t.Run("BasicLoop.vm sums into a local variable", func(t *testing.T) {
		input := writeTempVM(t, `
// Sums 1..argument[0] into local[0]
push constant 0
pop local 0
label LOOP
push argument 0
if-goto BODY
goto END
label BODY
push local 0
push argument 0
add
pop local 0
push argument 0
push constant 1
sub
pop argument 0
goto LOOP
label END
`)
		status, stdout, _ := captureHandler(t, []string{input})
		if status != 0 {
			t.Fatalf("unexpected exit status, expected 0 got %d", status)
		}

		cpu := newHackCPU(assemble(t, stdout))
		cpu.ram[0] = 256   // SP
		cpu.ram[1] = 300   // LCL
		cpu.ram[2] = 400   // ARG
		cpu.ram[400] = 3   // argument[0] == 3
		cpu.run(10000)

		if got := cpu.ram[300]; got != 6 {
			t.Fatalf("expected local[0] == 6 (1+2+3), got %d", got)
		}
	})

	t.Run("SimpleFunction.vm across two modules, bootstrapped", func(t *testing.T) {
		sys := writeTempVM(t, `
function Sys.init 0
push constant 4
push constant 5
call Math.add 2
label END
goto END
`)
		math := writeTempVM(t, `
function Math.add 0
push argument 0
push argument 1
add
return
`)

		status, stdout, _ := captureHandler(t, []string{sys, math})
		if status != 0 {
			t.Fatalf("unexpected exit status, expected 0 got %d", status)
		}
		if !strings.Contains(stdout, "@256") {
			t.Fatalf("expected bootstrap sequence to be prepended for multi-file input")
		}

		cpu := newHackCPU(assemble(t, stdout))
		cpu.run(10000)

		// The bootstrap's own call-frame (5 pushed words) puts Sys.init's working stack
		// base at 261, the 2 pushed arguments take SP to 263; 'call'+'return' nets
		// -(NArgs-1), so the single 2-argument call leaves SP one past its result at 262.
		if got := cpu.ram[0]; got != 262 {
			t.Fatalf("expected SP == 262 once Sys.init's single call has returned, got %d", got)
		}
		if got := cpu.ram[261]; got != 9 {
			t.Fatalf("expected the call's result (4+5) on the stack, got %d", got)
		}
	})

	t.Run("Missing arguments", func(t *testing.T) {
		status, _, stderr := captureHandler(t, nil)
		if status != 1 {
			t.Fatalf("expected exit status 1 on usage error, got %d", status)
		}
		if !strings.Contains(stderr, "ERROR") {
			t.Fatalf("expected an ERROR message on stderr, got: %q", stderr)
		}
	})

	t.Run("Unknown segment is fatal", func(t *testing.T) {
		input := writeTempVM(t, "push bogus 0\n")
		status, _, stderr := captureHandler(t, []string{input})
		if status != 1 {
			t.Fatalf("expected exit status 1 on malformed VM op, got %d", status)
		}
		if stderr == "" {
			t.Fatalf("expected an error message on stderr")
		}
	})
}
