package vm

// MaxConstants is the constant pool capacity of one chunk. Constant operands
// are a single byte.
const MaxConstants = 256

// Chunk is the compiled bytecode for one program run: instruction bytes, a
// parallel table giving the source line of every byte, and a constant pool.
//
// A Chunk is append-only while it is being compiled and is executed by
// exactly one VM run afterwards. It is never serialized.
type Chunk struct {
	Code      []byte
	Lines     []int // Lines[i] is the source line of Code[i]
	Constants []Value
}

// NewChunk creates a new empty chunk.
func NewChunk() *Chunk {
	return &Chunk{
		Code:      make([]byte, 0, 64),
		Lines:     make([]int, 0, 64),
		Constants: make([]Value, 0, 8),
	}
}

// Write appends one byte tagged with its source line.
func (c *Chunk) Write(b byte, line int) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
}

// WriteOp appends an opcode byte.
func (c *Chunk) WriteOp(op Opcode, line int) {
	c.Write(byte(op), line)
}

// AddConstant appends v to the constant pool and returns its index. Equal
// constants are not de-duplicated. ok is false, and nothing is added, when
// the pool already holds MaxConstants entries.
func (c *Chunk) AddConstant(v Value) (index uint8, ok bool) {
	if len(c.Constants) >= MaxConstants {
		return 0, false
	}
	c.Constants = append(c.Constants, v)
	return uint8(len(c.Constants) - 1), true
}

// Len returns the length of the code section.
func (c *Chunk) Len() int {
	return len(c.Code)
}

// ConstantCount returns the number of constants in the pool.
func (c *Chunk) ConstantCount() int {
	return len(c.Constants)
}

// LineAt returns the source line for the byte at offset, or 0 when offset is
// outside the code section.
func (c *Chunk) LineAt(offset int) int {
	if offset < 0 || offset >= len(c.Lines) {
		return 0
	}
	return c.Lines[offset]
}
