package vm

import (
	"fmt"
	"io"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the chunk.
func (c *Chunk) Disassemble(name string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		offset = c.DisassembleInstruction(&sb, offset)
	}
	return sb.String()
}

// DisassembleInstruction writes the instruction at offset to w and returns
// the offset of the next instruction.
//
// The source line is printed only when it differs from the previous
// instruction's; otherwise a "|" continuation marker is shown.
func (c *Chunk) DisassembleInstruction(w io.Writer, offset int) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && c.LineAt(offset) == c.LineAt(offset-1) {
		fmt.Fprint(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", c.LineAt(offset))
	}

	op, ok := DecodeOpcode(c.Code[offset])
	if !ok {
		fmt.Fprintf(w, "Unknown opcode %d\n", c.Code[offset])
		return offset + 1
	}

	info := op.Info()
	if !info.ConstOperand {
		fmt.Fprintln(w, info.Name)
		return offset + 1
	}
	return c.constantInstruction(w, info.Name, offset)
}

func (c *Chunk) constantInstruction(w io.Writer, name string, offset int) int {
	if offset+1 >= len(c.Code) {
		fmt.Fprintf(w, "%-16s <truncated>\n", name)
		return len(c.Code)
	}
	idx := c.Code[offset+1]
	if int(idx) >= len(c.Constants) {
		fmt.Fprintf(w, "%-16s %4d <out of range>\n", name, idx)
		return offset + 2
	}
	fmt.Fprintf(w, "%-16s %4d '%s'\n", name, idx, c.Constants[idx].String())
	return offset + 2
}
