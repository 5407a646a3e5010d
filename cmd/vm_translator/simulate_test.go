package main

// A deliberately small Hack CPU model, just enough to execute the binary this translator's
// output eventually becomes (once run through the assembler) and check the testable
// properties from the VM spec (stack discipline, call/return, SP bookkeeping) without
// shelling out to an external emulator.

type hackCPU struct {
	a, d uint16
	pc   int
	ram  [1 << 15]uint16
	rom  []string
}

func newHackCPU(rom []string) *hackCPU {
	return &hackCPU{rom: rom}
}

// compTable maps the 6 'c' bits of a C-instruction's comp field (the 'a' bit is handled
// by the caller, which picks 'x' to be either the A register or RAM[A]) to the operation.
var compTable = map[string]func(x, d uint16) uint16{
	"101010": func(x, d uint16) uint16 { return 0 },
	"111111": func(x, d uint16) uint16 { return 1 },
	"111010": func(x, d uint16) uint16 { return uint16(0xFFFF) },
	"001100": func(x, d uint16) uint16 { return d },
	"110000": func(x, d uint16) uint16 { return x },
	"001101": func(x, d uint16) uint16 { return ^d },
	"110001": func(x, d uint16) uint16 { return ^x },
	"001111": func(x, d uint16) uint16 { return -d },
	"110011": func(x, d uint16) uint16 { return -x },
	"011111": func(x, d uint16) uint16 { return d + 1 },
	"110111": func(x, d uint16) uint16 { return x + 1 },
	"001110": func(x, d uint16) uint16 { return d - 1 },
	"110010": func(x, d uint16) uint16 { return x - 1 },
	"000010": func(x, d uint16) uint16 { return d + x },
	"010011": func(x, d uint16) uint16 { return d - x },
	"000111": func(x, d uint16) uint16 { return x - d },
	"000000": func(x, d uint16) uint16 { return d & x },
	"010101": func(x, d uint16) uint16 { return d | x },
}

func parseBits(bits string) uint16 {
	var v uint16
	for _, b := range bits {
		v <<= 1
		if b == '1' {
			v |= 1
		}
	}
	return v
}

// jumpSatisfied evaluates a 3 bit jump field against the signed comp output.
func jumpSatisfied(jump string, out uint16) bool {
	signed := int16(out)
	less, equal, greater := jump[0] == '1', jump[1] == '1', jump[2] == '1'
	switch {
	case signed < 0:
		return less
	case signed == 0:
		return equal
	default:
		return greater
	}
}

// step executes a single ROM instruction, returns false once the program counter runs
// off the end of the ROM (used as the halt condition for straight-line test programs).
func (c *hackCPU) step() bool {
	if c.pc < 0 || c.pc >= len(c.rom) {
		return false
	}

	line := c.rom[c.pc]
	if line[0] == '0' {
		c.a = parseBits(line[1:])
		c.pc++
		return true
	}

	aBit, compBits := line[3], line[4:10]
	destBits, jumpBits := line[10:13], line[13:16]

	x := c.a
	if aBit == '1' {
		x = c.ram[c.a]
	}

	fn, found := compTable[compBits]
	if !found {
		panic("simulate: unrecognized comp field " + compBits)
	}
	out := fn(x, c.d)

	// The RAM address line is driven by 'A' as it stood before this instruction's own
	// dest write, even when that same instruction also reassigns A (e.g. "AM=M-1").
	memAddr := c.a

	// dest field bit order is A (MSB), D, M (LSB) — see hack.DestTable.
	if destBits[0] == '1' {
		c.a = out
	}
	if destBits[1] == '1' {
		c.d = out
	}
	if destBits[2] == '1' {
		c.ram[memAddr] = out
	}

	if jumpBits != "000" && jumpSatisfied(jumpBits, out) {
		c.pc = int(c.a)
	} else {
		c.pc++
	}

	return true
}

// run executes up to 'budget' cycles, stopping early if the ROM runs off its end.
func (c *hackCPU) run(budget int) {
	for i := 0; i < budget && c.step(); i++ {
	}
}
