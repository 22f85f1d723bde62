package vm

import "fmt"

// InterpretResult is the outcome of compiling and running one source unit.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

func (r InterpretResult) String() string {
	switch r {
	case InterpretOK:
		return "ok"
	case InterpretCompileError:
		return "compile error"
	case InterpretRuntimeError:
		return "runtime error"
	default:
		return fmt.Sprintf("InterpretResult(%d)", int(r))
	}
}

// RuntimeError describes an operand type mismatch or an undefined global
// detected while executing a chunk. Execution never resumes after one.
type RuntimeError struct {
	Message string
	Line    int
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s\n[line %d] in script", e.Message, e.Line)
}

// InternalError reports a broken VM invariant, such as popping an empty
// stack or decoding a byte that is not an opcode. Only a compiler defect can
// produce one, so the VM panics with it rather than returning it.
type InternalError struct {
	Offset int
	Reason string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("vm: internal error at offset %d: %s", e.Offset, e.Reason)
}
