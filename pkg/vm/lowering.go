package vm

import (
	"fmt"

	"github.com/hmny-fork/n2t-toolchain/pkg/asm"
)

// ----------------------------------------------------------------------------
// Segment resolution tables

// directSegmentBase resolves segments whose address is a fixed offset from RAM 0,
// reached by simply adding the requested index to the base (no dereference involved).
var directSegmentBase = map[SegmentType]uint16{
	Temp:    5, // R5..R12
	Pointer: 3, // R3 (THIS base) and R4 (THAT base)
}

// indirectSegmentPointer resolves segments whose base itself lives in RAM and must be
// dereferenced before walking forward by the requested offset.
var indirectSegmentPointer = map[SegmentType]string{
	Local:    "LCL",
	Argument: "ARG",
	This:     "THIS",
	That:     "THAT",
}

// ----------------------------------------------------------------------------
// Vm Lowerer

// The Lowerer takes a 'vm.Program' (one or more already-parsed modules) and produces
// its 'asm.Program' counterpart, fully expanding every VM op to the equivalent Hack
// assembly sequence, including the full function call convention.
//
// Unlike the Asm Lowerer, the Vm Lowerer carries state across the whole program: a
// monotonic counter (comparison and call-return labels must never collide, not even
// across files) and an advancing static segment base (see 'pkg/vm' static segment docs).
type Lowerer struct {
	program Program  // Every translation unit (module) to lower, keyed by module name
	order   []string // Explicit processing order; map iteration order is not guaranteed
	counter uint64   // Monotonic counter, keeps comparison/call-site labels globally unique

	staticBase uint16 // Per-file advancing base for the 'static' segment, starts past R0-R15
}

// Initializes and returns to the caller a brand new 'Lowerer' struct.
// The 'order' slice determines the sequence modules are processed in, which in turn
// determines how the static segment base advances across files (see spec of 'static').
func NewLowerer(p Program, order []string) Lowerer {
	return Lowerer{program: p, order: order, staticBase: 16}
}

// Triggers the lowering process across every module, in 'order'. Returns the fully
// expanded 'asm.Program', ready to be handed to the Assembler's own Lowerer/CodeGenerator.
func (l *Lowerer) Lower() (asm.Program, error) {
	program := asm.Program{}

	for _, name := range l.order {
		module, found := l.program[name]
		if !found {
			return nil, fmt.Errorf("module '%s' listed in processing order but missing from program", name)
		}

		highest, usesStatic := highestStaticOffset(module)

		for _, op := range module {
			instructions, err := l.lowerOperation(op)
			if err != nil {
				return nil, fmt.Errorf("module '%s': %w", name, err)
			}
			program = append(program, instructions...)
		}

		if usesStatic {
			l.staticBase += uint16(highest) + 1
		}
	}

	return program, nil
}

// Scans a module for the highest 'static i' index referenced, so the caller can advance
// the static base by exactly the block size this module needs (see §4.7 of the static doc).
func highestStaticOffset(module Module) (highest int, used bool) {
	highest = -1
	for _, op := range module {
		if mem, ok := op.(MemoryOp); ok && mem.Segment == Static {
			used = true
			if int(mem.Offset) > highest {
				highest = int(mem.Offset)
			}
		}
	}
	return highest, used
}

// Dispatches a single 'vm.Operation' to its specialized lowering helper.
func (l *Lowerer) lowerOperation(op Operation) ([]asm.Instruction, error) {
	switch tOp := op.(type) {
	case MemoryOp:
		return l.lowerMemoryOp(tOp)
	case ArithmeticOp:
		return l.lowerArithmeticOp(tOp)
	case LabelDecl:
		return l.lowerLabelDecl(tOp)
	case GotoOp:
		return l.lowerGotoOp(tOp)
	case FuncDecl:
		return l.lowerFuncDecl(tOp)
	case FuncCallOp:
		return l.lowerFuncCallOp(tOp)
	case ReturnOp:
		return l.lowerReturnOp(tOp)
	default:
		return nil, fmt.Errorf("unrecognized operation '%T'", op)
	}
}

// ----------------------------------------------------------------------------
// Memory Op(s)

func (l *Lowerer) lowerMemoryOp(op MemoryOp) ([]asm.Instruction, error) {
	switch op.Operation {
	case Push:
		return l.lowerPush(op.Segment, op.Offset)
	case Pop:
		return l.lowerPop(op.Segment, op.Offset)
	default:
		return nil, fmt.Errorf("unrecognized OperationType '%s'", op.Operation)
	}
}

func (l *Lowerer) lowerPush(segment SegmentType, offset uint16) ([]asm.Instruction, error) {
	var loadValue []asm.Instruction

	switch {
	case segment == Constant:
		loadValue = []asm.Instruction{
			asm.AInstruction{Location: fmt.Sprint(offset)},
			asm.CInstruction{Dest: "D", Comp: "A"},
		}

	case segment == Static:
		loadValue = []asm.Instruction{
			asm.AInstruction{Location: fmt.Sprint(l.staticBase + offset)},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}

	default:
		if base, found := directSegmentBase[segment]; found {
			loadValue = []asm.Instruction{
				asm.AInstruction{Location: fmt.Sprint(base + offset)},
				asm.CInstruction{Dest: "D", Comp: "M"},
			}
			break
		}
		if pointer, found := indirectSegmentPointer[segment]; found {
			loadValue = []asm.Instruction{
				asm.AInstruction{Location: pointer},
				asm.CInstruction{Dest: "D", Comp: "M"},
				asm.AInstruction{Location: fmt.Sprint(offset)},
				asm.CInstruction{Dest: "A", Comp: "D+A"},
				asm.CInstruction{Dest: "D", Comp: "M"},
			}
			break
		}
		return nil, fmt.Errorf("unrecognized SegmentType '%s'", segment)
	}

	return append(loadValue, pushD()...), nil
}

func (l *Lowerer) lowerPop(segment SegmentType, offset uint16) ([]asm.Instruction, error) {
	switch segment {
	case Constant:
		return nil, fmt.Errorf("cannot 'pop' into the read-only 'constant' segment")

	case Static:
		return append(popToD(), asm.AInstruction{Location: fmt.Sprint(l.staticBase + offset)}, asm.CInstruction{Dest: "M", Comp: "D"}), nil
	}

	if base, found := directSegmentBase[segment]; found {
		return append(popToD(), asm.AInstruction{Location: fmt.Sprint(base + offset)}, asm.CInstruction{Dest: "M", Comp: "D"}), nil
	}
	if pointer, found := indirectSegmentPointer[segment]; found {
		instructions := []asm.Instruction{
			asm.AInstruction{Location: pointer},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: fmt.Sprint(offset)},
			asm.CInstruction{Dest: "D", Comp: "D+A"},
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}
		instructions = append(instructions, popToD()...)
		instructions = append(instructions,
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Dest: "M", Comp: "D"},
		)
		return instructions, nil
	}

	return nil, fmt.Errorf("unrecognized SegmentType '%s'", segment)
}

// pushD appends the assembly that writes the current 'D' register to the stack's top
// and advances the Stack Pointer, shared by every push flavor above.
func pushD() []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "M+1"},
	}
}

// popToD appends the assembly that decrements the Stack Pointer and loads the popped
// value into the 'D' register, shared by every pop flavor above.
func popToD() []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
	}
}

// ----------------------------------------------------------------------------
// Arithmetic Op(s)

var binaryArithmeticComp = map[ArithOpType]string{
	Add: "D+M",
	Sub: "M-D",
	And: "D&M",
	Or:  "D|M",
}

var unaryArithmeticComp = map[ArithOpType]string{
	Neg: "-M",
	Not: "!M",
}

var comparisonJump = map[ArithOpType]string{
	Eq: "JEQ",
	Gt: "JGT",
	Lt: "JLT",
}

func (l *Lowerer) lowerArithmeticOp(op ArithmeticOp) ([]asm.Instruction, error) {
	if comp, found := binaryArithmeticComp[op.Operation]; found {
		return []asm.Instruction{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "AM", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.CInstruction{Dest: "A", Comp: "A-1"},
			asm.CInstruction{Dest: "M", Comp: comp},
		}, nil
	}

	if comp, found := unaryArithmeticComp[op.Operation]; found {
		return []asm.Instruction{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: comp},
		}, nil
	}

	if jump, found := comparisonJump[op.Operation]; found {
		return l.lowerComparison(jump), nil
	}

	return nil, fmt.Errorf("unrecognized ArithOpType '%s'", op.Operation)
}

// Lowers a comparison op ('eq'/'gt'/'lt') to its branching assembly sequence, per §4.5:
// subtract, branch to a fresh 'EQUAL.N' label on match (writes true), otherwise fall
// through (writes false), both paths converging on a fresh 'END.N' label.
func (l *Lowerer) lowerComparison(jump string) []asm.Instruction {
	n := l.counter
	l.counter++

	equalLabel := fmt.Sprintf("EQUAL.%d", n)
	endLabel := fmt.Sprintf("END.%d", n)

	return []asm.Instruction{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.CInstruction{Dest: "A", Comp: "A-1"},
		asm.CInstruction{Dest: "D", Comp: "M-D"},
		asm.AInstruction{Location: equalLabel},
		asm.CInstruction{Comp: "D", Jump: jump},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: "0"},
		asm.AInstruction{Location: endLabel},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: equalLabel},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: "-1"},
		asm.LabelDecl{Name: endLabel},
	}
}

// ----------------------------------------------------------------------------
// Control flow Op(s)

func (l *Lowerer) lowerLabelDecl(op LabelDecl) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to produce empty label declaration")
	}
	return []asm.Instruction{asm.LabelDecl{Name: op.Name}}, nil
}

func (l *Lowerer) lowerGotoOp(op GotoOp) ([]asm.Instruction, error) {
	if op.Label == "" {
		return nil, fmt.Errorf("unable to produce jump towards an empty label")
	}

	switch op.Jump {
	case Unconditional:
		return []asm.Instruction{
			asm.AInstruction{Location: op.Label},
			asm.CInstruction{Comp: "0", Jump: "JMP"},
		}, nil
	case Conditional:
		instructions := popToD()
		return append(instructions,
			asm.AInstruction{Location: op.Label},
			asm.CInstruction{Comp: "D", Jump: "JNE"},
		), nil
	default:
		return nil, fmt.Errorf("unrecognized JumpType '%s'", op.Jump)
	}
}

// ----------------------------------------------------------------------------
// Function Op(s)

func (l *Lowerer) lowerFuncDecl(op FuncDecl) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to produce empty function declaration")
	}

	instructions := []asm.Instruction{asm.LabelDecl{Name: op.Name}}
	for i := uint8(0); i < op.NLocal; i++ {
		push, err := l.lowerPush(Constant, 0)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, push...)
	}
	return instructions, nil
}

func (l *Lowerer) lowerFuncCallOp(op FuncCallOp) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to produce call towards an empty function name")
	}

	n := l.counter
	l.counter++
	returnLabel := fmt.Sprintf("%s$ret.%d", op.Name, n)

	instructions := []asm.Instruction{
		// 1. Push the return-address label as a constant.
		asm.AInstruction{Location: returnLabel},
		asm.CInstruction{Dest: "D", Comp: "A"},
	}
	instructions = append(instructions, pushD()...)
	// 2. Push LCL, ARG, THIS, THAT (their current values).
	for _, symbol := range []string{"LCL", "ARG", "THIS", "THAT"} {
		instructions = append(instructions,
			asm.AInstruction{Location: symbol},
			asm.CInstruction{Dest: "D", Comp: "M"},
		)
		instructions = append(instructions, pushD()...)
	}
	// 3. Set ARG = SP - nArgs - 5 (the 5 saved cells plus the arguments).
	instructions = append(instructions,
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: fmt.Sprint(uint16(op.NArgs) + 5)},
		asm.CInstruction{Dest: "D", Comp: "D-A"},
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	)
	// 4. Set LCL = SP.
	instructions = append(instructions,
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	)
	// 5. Emit '@NAME; 0;JMP'.
	instructions = append(instructions,
		asm.AInstruction{Location: op.Name},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
	)
	// 6. Emit '(NAME$ret.k)'.
	instructions = append(instructions, asm.LabelDecl{Name: returnLabel})

	return instructions, nil
}

func (l *Lowerer) lowerReturnOp(ReturnOp) ([]asm.Instruction, error) {
	restoreFromFrame := func(offset uint16, target string) []asm.Instruction {
		return []asm.Instruction{
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: fmt.Sprint(offset)},
			asm.CInstruction{Dest: "A", Comp: "D-A"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: target},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}
	}

	instructions := []asm.Instruction{
		// 1. FRAME (R13) <- LCL.
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// 2. RET (R14) <- *(FRAME - 5).
		asm.AInstruction{Location: "5"},
		asm.CInstruction{Dest: "A", Comp: "D-A"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}
	// 3. *ARG <- pop().
	instructions = append(instructions, popToD()...)
	instructions = append(instructions,
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	)
	// 4. SP <- ARG + 1.
	instructions = append(instructions,
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "D", Comp: "M+1"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	)
	// 5. Restore THAT, THIS, ARG, LCL from FRAME-1..FRAME-4.
	instructions = append(instructions, restoreFromFrame(1, "THAT")...)
	instructions = append(instructions, restoreFromFrame(2, "THIS")...)
	instructions = append(instructions, restoreFromFrame(3, "ARG")...)
	instructions = append(instructions, restoreFromFrame(4, "LCL")...)
	// 6. @RET; A=M; 0;JMP.
	instructions = append(instructions,
		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
	)

	return instructions, nil
}

// Bootstrap returns the standard 'SP = 256; call Sys.init 0' sequence, which the caller
// prepends whenever the translator processes more than one VM file (see §4.9 bootstrap documentation).
func (l *Lowerer) Bootstrap() ([]asm.Instruction, error) {
	init := []asm.Instruction{
		asm.AInstruction{Location: "256"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}

	call, err := l.lowerFuncCallOp(FuncCallOp{Name: "Sys.init", NArgs: 0})
	if err != nil {
		return nil, err
	}

	return append(init, call...), nil
}
