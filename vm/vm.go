package vm

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// VM: The Mote virtual machine
// ---------------------------------------------------------------------------

// VM executes compiled chunks. It owns an operand stack, which lives for one
// run, and a global variable table, which persists across runs on the same
// VM.
//
// A VM is single-threaded. Callers that want concurrent execution must give
// each execution its own VM (see server.VMWorker).
type VM struct {
	// Current execution state
	chunk  *Chunk
	ip     int
	opAt   int // offset of the instruction being executed
	stack  []Value
	global map[string]Value

	// Streams
	out    io.Writer // print output
	errOut io.Writer // compile and runtime diagnostics
	trace  io.Writer // per-instruction trace; nil disables tracing

	compile  CompileFunc
	profiler *Profiler // nil disables profiling
	log      commonlog.Logger
	lastErr  *RuntimeError
}

// Option configures a VM.
type Option func(*VM)

// WithOutput directs program output (print statements) to w.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithDiagnostics directs compile and runtime diagnostics to w.
func WithDiagnostics(w io.Writer) Option {
	return func(vm *VM) { vm.errOut = w }
}

// WithTrace enables instruction tracing to w.
func WithTrace(w io.Writer) Option {
	return func(vm *VM) { vm.trace = w }
}

// WithLogger replaces the VM's logger.
func WithLogger(log commonlog.Logger) Option {
	return func(vm *VM) { vm.log = log }
}

// NewVM creates a VM writing output to stdout and diagnostics to stderr.
func NewVM(opts ...Option) *VM {
	vm := &VM{
		stack:  make([]Value, 0, 256),
		global: make(map[string]Value),
		out:    os.Stdout,
		errOut: os.Stderr,
		log:    commonlog.GetLogger("mote.vm"),
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// LastError returns the runtime error that ended the most recent run, or nil
// if it completed normally.
func (vm *VM) LastError() *RuntimeError {
	return vm.lastErr
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Interpret compiles source and, only if compilation succeeded, runs it.
func (vm *VM) Interpret(source string) InterpretResult {
	chunk, ok := vm.Compile(source)
	if !ok {
		vm.lastErr = nil
		return InterpretCompileError
	}
	return vm.Run(chunk)
}

// Run executes chunk from its first instruction until Return or a runtime
// error. The chunk must come from a successful compile.
func (vm *VM) Run(chunk *Chunk) InterpretResult {
	vm.chunk = chunk
	vm.ip = 0
	vm.stack = vm.stack[:0]
	vm.lastErr = nil
	defer func() { vm.chunk = nil }()
	result := vm.run()
	if vm.profiler != nil {
		vm.profiler.recordRun(result)
	}
	return result
}

// run is the main execution loop.
func (vm *VM) run() InterpretResult {
	code := vm.chunk.Code
	for {
		if vm.ip >= len(code) {
			panic(&InternalError{Offset: vm.ip, Reason: "ran past end of chunk without RETURN"})
		}
		if vm.trace != nil {
			vm.traceInstruction()
		}

		vm.opAt = vm.ip
		raw := vm.readByte()
		op, ok := DecodeOpcode(raw)
		if !ok {
			panic(&InternalError{Offset: vm.opAt, Reason: fmt.Sprintf("corrupt bytecode: unknown opcode %d", raw)})
		}
		if vm.profiler != nil {
			vm.profiler.recordInstruction(op)
		}

		switch op {
		// ============ Constants ============
		case OpConstant:
			vm.push(vm.readConstant())

		case OpNil:
			vm.push(Nil)

		case OpTrue:
			vm.push(True)

		case OpFalse:
			vm.push(False)

		case OpPop:
			vm.pop()

		// ============ Globals ============
		case OpGetGlobal:
			name := vm.readName()
			value, ok := vm.global[name]
			if !ok {
				return vm.runtimeError("Undefined variable '%s'.", name)
			}
			vm.push(value)

		case OpDefineGlobal:
			name := vm.readName()
			vm.global[name] = vm.pop()

		case OpSetGlobal:
			name := vm.readName()
			if _, ok := vm.global[name]; !ok {
				return vm.runtimeError("Undefined variable '%s'.", name)
			}
			// Assigning an undefined name is an error; the value stays on
			// the stack since assignment is an expression.
			vm.global[name] = vm.peek(0)

		// ============ Comparison ============
		case OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(FromBool(Equal(a, b)))

		case OpGreater:
			a, b, ok := vm.numberOperands()
			if !ok {
				return vm.runtimeError("Operands must be numbers.")
			}
			vm.push(FromBool(a > b))

		case OpLess:
			a, b, ok := vm.numberOperands()
			if !ok {
				return vm.runtimeError("Operands must be numbers.")
			}
			vm.push(FromBool(a < b))

		// ============ Arithmetic ============
		case OpAdd:
			if vm.peek(0).IsString() && vm.peek(1).IsString() {
				b := vm.pop()
				a := vm.pop()
				vm.push(FromString(a.str + b.str))
				continue
			}
			a, b, ok := vm.numberOperands()
			if !ok {
				return vm.runtimeError("Operands must be numbers.")
			}
			vm.push(FromFloat64(a + b))

		case OpSubtract:
			a, b, ok := vm.numberOperands()
			if !ok {
				return vm.runtimeError("Operands must be numbers.")
			}
			vm.push(FromFloat64(a - b))

		case OpMultiply:
			a, b, ok := vm.numberOperands()
			if !ok {
				return vm.runtimeError("Operands must be numbers.")
			}
			vm.push(FromFloat64(a * b))

		case OpDivide:
			a, b, ok := vm.numberOperands()
			if !ok {
				return vm.runtimeError("Operands must be numbers.")
			}
			vm.push(FromFloat64(a / b))

		case OpNot:
			vm.push(FromBool(vm.pop().IsFalsy()))

		case OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeError("Operand must be a number.")
			}
			vm.push(FromFloat64(-vm.pop().num))

		// ============ Statements ============
		case OpPrint:
			fmt.Fprintln(vm.out, vm.pop().String())

		case OpReturn:
			return InterpretOK

		default:
			panic(&InternalError{Offset: vm.opAt, Reason: fmt.Sprintf("unhandled opcode %s", op)})
		}
	}
}

// ---------------------------------------------------------------------------
// Operand decoding
// ---------------------------------------------------------------------------

func (vm *VM) readByte() byte {
	if vm.ip >= len(vm.chunk.Code) {
		panic(&InternalError{Offset: vm.ip, Reason: "truncated instruction"})
	}
	b := vm.chunk.Code[vm.ip]
	vm.ip++
	return b
}

func (vm *VM) readConstant() Value {
	idx := int(vm.readByte())
	if idx >= len(vm.chunk.Constants) {
		panic(&InternalError{Offset: vm.opAt, Reason: fmt.Sprintf("constant index %d out of range", idx)})
	}
	return vm.chunk.Constants[idx]
}

func (vm *VM) readName() string {
	name := vm.readConstant()
	if !name.IsString() {
		panic(&InternalError{Offset: vm.opAt, Reason: "global name constant is not a string"})
	}
	return name.str
}

// ---------------------------------------------------------------------------
// Stack helpers
// ---------------------------------------------------------------------------

func (vm *VM) push(v Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() Value {
	n := len(vm.stack)
	if n == 0 {
		panic(&InternalError{Offset: vm.opAt, Reason: "stack underflow"})
	}
	v := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	return v
}

func (vm *VM) peek(distance int) Value {
	n := len(vm.stack)
	if distance >= n {
		panic(&InternalError{Offset: vm.opAt, Reason: "stack underflow"})
	}
	return vm.stack[n-1-distance]
}

// numberOperands pops the top two values when both are numbers. Otherwise
// the stack is left untouched and ok is false.
func (vm *VM) numberOperands() (a, b float64, ok bool) {
	bv, av := vm.peek(0), vm.peek(1)
	if !av.IsNumber() || !bv.IsNumber() {
		return 0, 0, false
	}
	vm.stack = vm.stack[:len(vm.stack)-2]
	return av.num, bv.num, true
}

// StackDepth returns the number of values on the operand stack.
func (vm *VM) StackDepth() int {
	return len(vm.stack)
}

// ---------------------------------------------------------------------------
// Errors and tracing
// ---------------------------------------------------------------------------

// runtimeError reports a runtime error at the current instruction, discards
// the operand stack and ends the run.
func (vm *VM) runtimeError(format string, args ...interface{}) InterpretResult {
	err := &RuntimeError{
		Message: fmt.Sprintf(format, args...),
		Line:    vm.chunk.LineAt(vm.opAt),
	}
	vm.lastErr = err
	fmt.Fprintln(vm.errOut, err.Error())
	vm.stack = vm.stack[:0]
	vm.log.Debugf("runtime error at offset %d: %s", vm.opAt, err.Message)
	return InterpretRuntimeError
}

func (vm *VM) traceInstruction() {
	fmt.Fprint(vm.trace, "          ")
	for _, v := range vm.stack {
		fmt.Fprintf(vm.trace, "[ %s ]", v.GoString())
	}
	fmt.Fprintln(vm.trace)
	vm.chunk.DisassembleInstruction(vm.trace, vm.ip)
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// Global returns the value bound to name.
func (vm *VM) Global(name string) (Value, bool) {
	v, ok := vm.global[name]
	return v, ok
}

// SetGlobal binds name to v, defining it if needed.
func (vm *VM) SetGlobal(name string, v Value) {
	vm.global[name] = v
}

// GlobalNames returns the defined global names in sorted order.
func (vm *VM) GlobalNames() []string {
	names := make([]string, 0, len(vm.global))
	for name := range vm.global {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResetGlobals removes every global binding.
func (vm *VM) ResetGlobals() {
	vm.global = make(map[string]Value)
}
