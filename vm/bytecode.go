package vm

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
//
// Opcodes are dense, starting at zero, so that DecodeOpcode can validate a
// raw byte with a single bounds check.
type Opcode byte

// Constants and literals
const (
	OpConstant Opcode = iota // push constant: OpConstant <index:u8>
	OpNil                    // push nil
	OpTrue                   // push true
	OpFalse                  // push false
	OpPop                    // discard top of stack

	// Globals
	OpGetGlobal    // push global: OpGetGlobal <name:u8>
	OpDefineGlobal // pop and bind: OpDefineGlobal <name:u8>
	OpSetGlobal    // rebind a defined global to top of stack: OpSetGlobal <name:u8>

	// Comparison
	OpEqual
	OpGreater
	OpLess

	// Arithmetic
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpNot
	OpNegate

	// Statements
	OpPrint
	OpReturn

	opcodeCount // sentinel; not an instruction
)

// OpcodeInfo contains metadata about an opcode.
type OpcodeInfo struct {
	Name         string
	OperandBytes int // number of operand bytes following the opcode
	Pops         int // values consumed from the stack
	Pushes       int // values pushed onto the stack
	ConstOperand bool
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = [opcodeCount]OpcodeInfo{
	OpConstant: {"CONSTANT", 1, 0, 1, true},
	OpNil:      {"NIL", 0, 0, 1, false},
	OpTrue:     {"TRUE", 0, 0, 1, false},
	OpFalse:    {"FALSE", 0, 0, 1, false},
	OpPop:      {"POP", 0, 1, 0, false},

	OpGetGlobal:    {"GET_GLOBAL", 1, 0, 1, true},
	OpDefineGlobal: {"DEFINE_GLOBAL", 1, 1, 0, true},
	OpSetGlobal:    {"SET_GLOBAL", 1, 1, 1, true},

	OpEqual:   {"EQUAL", 0, 2, 1, false},
	OpGreater: {"GREATER", 0, 2, 1, false},
	OpLess:    {"LESS", 0, 2, 1, false},

	OpAdd:      {"ADD", 0, 2, 1, false},
	OpSubtract: {"SUBTRACT", 0, 2, 1, false},
	OpMultiply: {"MULTIPLY", 0, 2, 1, false},
	OpDivide:   {"DIVIDE", 0, 2, 1, false},
	OpNot:      {"NOT", 0, 1, 1, false},
	OpNegate:   {"NEGATE", 0, 1, 1, false},

	OpPrint:  {"PRINT", 0, 1, 0, false},
	OpReturn: {"RETURN", 0, 0, 0, false},
}

// DecodeOpcode converts a raw byte into an Opcode. ok is false when the byte
// does not name an instruction.
func DecodeOpcode(b byte) (op Opcode, ok bool) {
	if b >= byte(opcodeCount) {
		return 0, false
	}
	return Opcode(b), true
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if op < opcodeCount {
		return opcodeTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandBytes()
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// AllOpcodes returns every defined opcode in numeric order.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, opcodeCount)
	for op := Opcode(0); op < opcodeCount; op++ {
		ops = append(ops, op)
	}
	return ops
}
