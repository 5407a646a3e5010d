package vm

// ----------------------------------------------------------------------------
// General information

// This section contains some general information about the VM intermediate language.
//
// We declare a shared 'Operation' interface for every macro operation available for the
// language and we define some other useful top-level struct such as Program and Module.
// Is important to note that a VM program can be composed of multiple translation units
// that can be also referenced as file or modules or also classes.

// A VM Program is just a set of multiple modules/files, keyed by module/file name (without
// its extension), in the VM spec each translation unit is compiled to its own .vm file that
// can be handled independently during the compilation or lowering phases.
type Program map[string]Module

// A VM Module is just a linear list of VM operations/instructions
type Module []Operation

// Used to put together all operation in the VM language (Memory, Arithmetic, ... ops).
type Operation interface{}

// ----------------------------------------------------------------------------
// Memory Op

// In memory representation of a Memory operation for the VM language.
//
// In the VM intermediate language there are only two possible memory operation on the stack.
// We could either push a new value taken from the specified segment location on the stack's
// top or take the stack's top and saves its value at the specified segment location.
type MemoryOp struct {
	Operation OperationType // The type of operation, either 'push' or 'pop'
	Segment   SegmentType   // The named memory segment to use (this, that, temp, ...)
	Offset    uint16        // The specific location/offset inside of the memory segment
}

type OperationType string // Enum to manage the operation allowed for a MemoryOp

const (
	Push OperationType = "push"
	Pop  OperationType = "pop"
)

type SegmentType string // Enum to manage the segment accessible for a MemoryOp

const (
	Temp     SegmentType = "temp"     // Real segment used to store intermediate computations
	Constant SegmentType = "constant" // Virtual segment used to access numeric constant

	Local    SegmentType = "local"    // Real segment used to store local function variables
	Static   SegmentType = "static"   // Real segment used to store shared/static variables
	Argument SegmentType = "argument" // Real segment used to store function's argument

	This    SegmentType = "this"    // Virtual segment used to point to a specific memory location
	That    SegmentType = "that"    // Virtual segment used to point to a specific memory location
	Pointer SegmentType = "pointer" // Real segment w/ 2 location used to set the 'this' and 'that' pointers
)

// ----------------------------------------------------------------------------
// Arithmetic Op

// In memory representation of a Arithmetic operation for the VM language.
//
// In the VM intermediate language there are just a handful of operation available.
// In particular each operation acts directly on the top of the stack, of course we have both unary
// and binary operation, the specific management of each op will be handled in the codegen phase.
type ArithmeticOp struct{ Operation ArithOpType }

type ArithOpType string // Enum to manage the operation allowed for an ArithmeticOp

const (
	Eq ArithOpType = "eq" // Comparison operations
	Gt ArithOpType = "gt"
	Lt ArithOpType = "lt"

	Add ArithOpType = "add" // Arithmetic operations
	Sub ArithOpType = "sub"
	Neg ArithOpType = "neg"

	Not ArithOpType = "not" // Bitwise operations
	And ArithOpType = "and"
	Or  ArithOpType = "or"
)

// ----------------------------------------------------------------------------
// Control flow Op(s)

// In memory representation of a label declaration for the VM language.
//
// Labels are emitted verbatim into the assembly, so the same name declared twice (even in
// two different modules) collides; they are only meaningful as targets for 'goto'/'if-goto'.
type LabelDecl struct{ Name string }

type JumpType string // Enum to manage the two flavours of jump available in the VM language

const (
	Unconditional JumpType = "goto"    // Always transfers control to the target label
	Conditional   JumpType = "if-goto" // Pops the stack's top and jumps only if it's non-zero
)

// In memory representation of a goto/if-goto operation for the VM language.
type GotoOp struct {
	Jump  JumpType // Whether the jump is unconditional or conditioned on the stack's top
	Label string   // The target label, must be declared somewhere in the same module
}

// ----------------------------------------------------------------------------
// Function Op(s)

// In memory representation of a function declaration for the VM language.
//
// Declares the entrypoint of a callable unit together with how many local variables
// it needs, each of which is zero-initialized before the function's body executes.
type FuncDecl struct {
	Name   string // The fully qualified name of the function (e.g. "Math.multiply")
	NLocal uint8  // The number of local variables the function declares
}

// In memory representation of a return operation for the VM language.
//
// Unwinds the current call frame, restores the caller's segment pointers and resumes
// execution right after the matching 'call' operation.
type ReturnOp struct{}

// In memory representation of a function call operation for the VM language.
type FuncCallOp struct {
	Name  string // The fully qualified name of the callee (e.g. "Math.multiply")
	NArgs uint8  // The number of arguments already pushed onto the stack for the callee
}
