package asm

import (
	"fmt"
	"strconv"

	"github.com/hmny-fork/n2t-toolchain/pkg/hack"
)

// ----------------------------------------------------------------------------
// Asm Lowerer

// The Lowerer takes an 'asm.Program' and produces its 'hack.Program' counterpart.
//
// The program is a flat list of instructions walked in source order. For each A or C
// Instruction we produce its 'hack.Instruction' counterpart, while label declarations
// only populate the returned 'hack.SymbolTable'.
type Lowerer struct{ program Program }

// Initializes and returns to the caller a brand new 'Lowerer' struct.
// Requires the argument Program to be not nil nor empty.
func NewLowerer(p Program) Lowerer {
	return Lowerer{program: p}
}

// Triggers the lowering process in two passes over the program.
//
// The first pass only binds every label declaration to the address of the instruction
// that follows it: a label can be referenced before it's declared further down in the
// source, and (per the Hack spec) a label must be able to shadow a built-in name such
// as 'SP' or 'R5' on any later A-instruction that references it. Neither is possible if
// A-instructions are classified as they're encountered, so classification is deferred to
// a second pass that runs once the label map is known in full.
func (l *Lowerer) Lower() (hack.Program, hack.SymbolTable, error) {
	if l.program == nil || len(l.program) == 0 {
		return nil, nil, fmt.Errorf("the given 'program' is empty")
	}

	table := hack.SymbolTable{}
	instrCount := uint16(0)

	for _, asmInst := range l.program {
		switch tAsmInst := asmInst.(type) {
		case LabelDecl: // Adds 'asm.LabelDecl' to the 'hack.SymbolTable'
			label, err := l.HandleLabelDecl(tAsmInst)
			if label == "" || err != nil {
				return nil, nil, err
			}
			if _, found := table[label]; found {
				return nil, nil, fmt.Errorf("label '%s' is already declared elsewhere in the program", label)
			}
			table[label] = instrCount

		case AInstruction, CInstruction: // Counted but classified in the second pass below
			instrCount++

		default: // Error case, unrecognized operation type
			return nil, nil, fmt.Errorf("unrecognized instruction '%T'", asmInst)
		}
	}

	converted := make([]hack.Instruction, 0, instrCount)
	for _, asmInst := range l.program {
		switch tAsmInst := asmInst.(type) {
		case AInstruction: // Converts 'asm.AInstruction' to 'hack.AInstruction'
			hackInst, err := l.HandleAInst(tAsmInst, table)
			if hackInst == nil || err != nil {
				return nil, nil, err
			}
			converted = append(converted, hackInst)

		case CInstruction: // Converts 'asm.CInstruction' to 'hack.CInstruction'
			hackInst, err := l.HandleCInst(tAsmInst)
			if hackInst == nil || err != nil {
				return nil, nil, err
			}
			converted = append(converted, hackInst)
		}
	}

	return converted, table, nil
}

// Specialized function to convert a 'asm.AInstruction' node to an 'hack.AInstruction'.
//
// 'table' is the fully-built label map from the first pass over the program, queried here
// so that a user-declared label takes priority over a same-named built-in (resolve() per
// the Hack spec: check the label map before the symbol table, so labels shadow predeclared
// names rather than the other way around).
func (Lowerer) HandleAInst(inst AInstruction, table hack.SymbolTable) (hack.Instruction, error) {
	// 1) If it's a declared label we set the 'LocType' to 'Label' accordingly
	if _, found := table[inst.Location]; found {
		return hack.AInstruction{LocType: hack.Label, LocName: inst.Location}, nil
	}
	// 2) If it's present in the BuiltInTable we set the 'LocType' to 'BuiltIn' accordingly
	if _, found := hack.BuiltInTable[inst.Location]; found {
		return hack.AInstruction{LocType: hack.BuiltIn, LocName: inst.Location}, nil
	}
	// 3) If it can be parsed as an int we set the 'LocType' to 'Raw' accordingly
	if _, err := strconv.ParseInt(inst.Location, 10, 16); err == nil {
		return hack.AInstruction{LocType: hack.Raw, LocName: inst.Location}, nil
	}
	// 4) Else it's an undeclared variable, set 'LocType' to 'Label' so codegen allocates it
	return hack.AInstruction{LocType: hack.Label, LocName: inst.Location}, nil
}

// Specialized function to convert a 'asm.CInstruction' node to an 'hack.CInstruction'.
func (Lowerer) HandleCInst(inst CInstruction) (hack.Instruction, error) {
	if inst.Comp == "" { // Pre-check: CInstruction.Comp should always be provided
		return nil, fmt.Errorf("'Comp' sub-instruction should always be provided")
	}

	// 'Dest' and 'Jump' are both optional and independent of one another, a C Instruction
	// can carry neither (pure side-effect-free comp, rare but legal), either, or both
	// (e.g. "MD=D+1;JGT" stores the result and conditionally jumps in the same instruction).
	return hack.CInstruction{Comp: inst.Comp, Dest: inst.Dest, Jump: inst.Jump}, nil
}

// Specialized function to extract from a 'asm.LabelDecl' node to the identifier of the label.
func (Lowerer) HandleLabelDecl(inst LabelDecl) (string, error) {
	return inst.Name, nil
}
