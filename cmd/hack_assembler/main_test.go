package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

// captureHandler redirects os.Stdout/os.Stderr for the duration of a Handler run and
// returns whatever was written to each, along with the process exit status.
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

func writeTempAsm(t *testing.T, content string) string {
	t.Helper()
	file, err := os.CreateTemp(t.TempDir(), "*.asm")
	if err != nil {
		t.Fatalf("unable to create temp input file: %s", err)
	}
	if _, err := file.WriteString(content); err != nil {
		t.Fatalf("unable to write temp input file: %s", err)
	}
	file.Close()
	return file.Name()
}

func TestHackAssembler(t *testing.T) {
	t.Run("Add.asm", func(t *testing.T) {
		source := `
// Computes R0 = 2 + 3
@2
D=A
@3
D=D+A
@0
M=D
`
		input := writeTempAsm(t, source)
		status, stdout, _ := captureHandler(t, []string{input})

		if status != 0 {
			t.Fatalf("unexpected exit status, expected 0 got %d", status)
		}

		lines := strings.Fields(stdout)
		if len(lines) != 6 {
			t.Fatalf("expected 6 compiled instructions, got %d", len(lines))
		}
		for _, line := range lines {
			if len(line) != 16 {
				t.Fatalf("expected 16 bit wide line, got %q (%d chars)", line, len(line))
			}
		}
	})

	t.Run("Max.asm with jumps and a loop", func(t *testing.T) {
		source := `
// Computes R2 = max(R0, R1)
@R0
D=M
@R1
D=D-M
@OUTPUT_FIRST
D;JGT
@R1
D=M
@OUTPUT_D
0;JMP
(OUTPUT_FIRST)
@R0
D=M
(OUTPUT_D)
@R2
M=D
(END)
@END
0;JMP
`
		input := writeTempAsm(t, source)
		status, stdout, stderr := captureHandler(t, []string{input})

		if status != 0 {
			t.Fatalf("unexpected exit status, expected 0 got %d", status)
		}
		if !strings.Contains(stderr, "resolved symbol table") {
			t.Fatalf("expected diagnostic symbol table on stderr, got: %q", stderr)
		}

		lines := strings.Fields(stdout)
		if len(lines) != 16 {
			t.Fatalf("expected 16 compiled instructions (labels produce none), got %d", len(lines))
		}
	})

	t.Run("Missing input file", func(t *testing.T) {
		status, _, stderr := captureHandler(t, []string{"/nonexistent/path.asm"})
		if status != 1 {
			t.Fatalf("expected exit status 1 on usage error, got %d", status)
		}
		if !strings.Contains(stderr, "ERROR") {
			t.Fatalf("expected an ERROR message on stderr, got: %q", stderr)
		}
	})

	t.Run("Duplicate label is fatal", func(t *testing.T) {
		source := `
(LOOP)
@0
D=A
(LOOP)
@1
D=A
`
		input := writeTempAsm(t, source)
		status, _, stderr := captureHandler(t, []string{input})
		if status != 1 {
			t.Fatalf("expected exit status 1 on duplicate label, got %d", status)
		}
		if !strings.Contains(stderr, "already declared") {
			t.Fatalf("expected duplicate label error, got: %q", stderr)
		}
	})
}
