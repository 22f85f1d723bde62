package compiler

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/chazu/mote/vm"
	"github.com/hashicorp/go-multierror"
	"github.com/tliron/commonlog"
)

// DefaultMaxDepth bounds expression nesting so hostile input cannot exhaust
// the goroutine stack.
const DefaultMaxDepth = 256

// ---------------------------------------------------------------------------
// Compiler: single-pass Pratt parser emitting bytecode
// ---------------------------------------------------------------------------

// Compiler parses one source string and emits bytecode into a chunk as it
// goes. There is no syntax tree. A Compiler is used once.
type Compiler struct {
	lexer *Lexer
	chunk *vm.Chunk

	previous Token
	current  Token

	hadError  bool
	panicMode bool

	depth    int
	maxDepth int

	diagOut     io.Writer
	disasmOut   io.Writer
	diagnostics []Diagnostic

	log commonlog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithDiagnostics directs formatted diagnostics to w.
func WithDiagnostics(w io.Writer) Option {
	return func(c *Compiler) { c.diagOut = w }
}

// WithMaxDepth sets the expression nesting limit. Values below 1 are ignored.
func WithMaxDepth(n int) Option {
	return func(c *Compiler) {
		if n > 0 {
			c.maxDepth = n
		}
	}
}

// WithDisassembly writes a listing of the chunk to w after a successful
// compile.
func WithDisassembly(w io.Writer) Option {
	return func(c *Compiler) { c.disasmOut = w }
}

// New creates a compiler that will emit source into chunk.
func New(source string, chunk *vm.Chunk, opts ...Option) *Compiler {
	c := &Compiler{
		lexer:    NewLexer(source),
		chunk:    chunk,
		maxDepth: DefaultMaxDepth,
		diagOut:  os.Stderr,
		log:      commonlog.GetLogger("mote.compiler"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile compiles source into chunk, writing diagnostics to diagnostics. It
// returns true if any error was reported, in which case chunk is partial and
// must not be run. Its signature matches vm.CompileFunc.
func Compile(source string, chunk *vm.Chunk, diagnostics io.Writer) bool {
	return New(source, chunk, WithDiagnostics(diagnostics)).Compile()
}

// Func returns a vm.CompileFunc that compiles with opts applied. Diagnostics
// always go to the writer the VM supplies.
func Func(opts ...Option) vm.CompileFunc {
	return func(source string, chunk *vm.Chunk, diagnostics io.Writer) bool {
		all := append(append([]Option(nil), opts...), WithDiagnostics(diagnostics))
		return New(source, chunk, all...).Compile()
	}
}

// Compile runs the compiler to the end of input and reports whether any
// error occurred.
func (c *Compiler) Compile() (hadError bool) {
	c.advance()
	for !c.match(TokenEOF) {
		c.declaration()
	}
	c.emitOp(vm.OpReturn)

	if c.hadError {
		c.log.Debugf("compile failed with %d diagnostic(s)", len(c.diagnostics))
		return true
	}
	c.log.Debugf("compiled %d bytes, %d constants", c.chunk.Len(), c.chunk.ConstantCount())
	if c.disasmOut != nil {
		io.WriteString(c.disasmOut, c.chunk.Disassemble("code"))
	}
	return false
}

// Diagnostics returns every error reported, in source order.
func (c *Compiler) Diagnostics() []Diagnostic {
	return c.diagnostics
}

// Err aggregates the diagnostics into one error, or returns nil.
func (c *Compiler) Err() error {
	var result *multierror.Error
	for _, d := range c.diagnostics {
		result = multierror.Append(result, d)
	}
	return result.ErrorOrNil()
}

// ---------------------------------------------------------------------------
// Token stream
// ---------------------------------------------------------------------------

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.lexer.ScanToken()
		if c.current.Type != TokenError {
			return
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *Compiler) consume(t TokenType, message string) {
	if c.current.Type == t {
		c.advance()
		return
	}
	c.errorAtCurrent(message)
}

func (c *Compiler) check(t TokenType) bool {
	return c.current.Type == t
}

func (c *Compiler) match(t TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

// ---------------------------------------------------------------------------
// Error reporting
// ---------------------------------------------------------------------------

func (c *Compiler) errorAtCurrent(message string) {
	c.errorAt(c.current, message)
}

func (c *Compiler) error(message string) {
	c.errorAt(c.previous, message)
}

// errorAt records a diagnostic unless one was already reported since the
// last synchronization point.
func (c *Compiler) errorAt(tok Token, message string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true

	d := Diagnostic{Line: tok.Line, Message: message}
	switch tok.Type {
	case TokenEOF:
		d.AtEnd = true
	case TokenError:
		// the lexeme is the message itself
	default:
		d.Lexeme = tok.Lexeme
	}
	c.diagnostics = append(c.diagnostics, d)
	fmt.Fprintln(c.diagOut, d.Error())
}

// synchronize skips tokens until a likely statement boundary.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != TokenEOF {
		if c.previous.Type == TokenSemicolon {
			return
		}
		switch c.current.Type {
		case TokenClass, TokenFn, TokenVar, TokenFor, TokenIf, TokenWhile, TokenPrint, TokenReturn:
			return
		}
		c.advance()
	}
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func (c *Compiler) emitByte(b byte) {
	c.chunk.Write(b, c.previous.Line)
}

func (c *Compiler) emitOp(op vm.Opcode) {
	c.chunk.WriteOp(op, c.previous.Line)
}

func (c *Compiler) emitOps(ops ...vm.Opcode) {
	for _, op := range ops {
		c.emitOp(op)
	}
}

func (c *Compiler) emitOpArg(op vm.Opcode, arg uint8) {
	c.emitOp(op)
	c.emitByte(arg)
}

func (c *Compiler) makeConstant(v vm.Value) uint8 {
	idx, ok := c.chunk.AddConstant(v)
	if !ok {
		c.error("Too many constants in one chunk.")
		return 0
	}
	return idx
}

func (c *Compiler) emitConstant(v vm.Value) {
	c.emitOpArg(vm.OpConstant, c.makeConstant(v))
}

// ---------------------------------------------------------------------------
// Declarations and statements
// ---------------------------------------------------------------------------

func (c *Compiler) declaration() {
	if c.match(TokenVar) {
		c.varDeclaration()
	} else {
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.match(TokenEqual) {
		c.expression()
	} else {
		c.emitOp(vm.OpNil)
	}
	c.consume(TokenSemicolon, "Expect ';' after variable declaration.")
	c.emitOpArg(vm.OpDefineGlobal, global)
}

func (c *Compiler) parseVariable(message string) uint8 {
	c.consume(TokenIdentifier, message)
	return c.identifierConstant(c.previous)
}

func (c *Compiler) identifierConstant(name Token) uint8 {
	return c.makeConstant(vm.FromString(name.Lexeme))
}

func (c *Compiler) statement() {
	if c.match(TokenPrint) {
		c.printStatement()
	} else {
		c.expressionStatement()
	}
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(TokenSemicolon, "Expect ';' after value.")
	c.emitOp(vm.OpPrint)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(TokenSemicolon, "Expect ';' after expression.")
	c.emitOp(vm.OpPop)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (c *Compiler) expression() {
	c.parsePrecedence(PrecAssignment)
}

// parsePrecedence compiles an expression whose operators all bind at least
// as tightly as prec.
func (c *Compiler) parsePrecedence(prec Precedence) {
	c.depth++
	defer func() { c.depth-- }()
	if c.depth > c.maxDepth {
		c.error("Expression nesting too deep.")
		return
	}

	c.advance()
	prefix := getRule(c.previous.Type).prefix
	if prefix == nil {
		c.error("Expect expression.")
		return
	}

	canAssign := prec <= PrecAssignment
	prefix(c, canAssign)

	for prec <= getRule(c.current.Type).precedence {
		c.advance()
		getRule(c.previous.Type).infix(c, canAssign)
	}

	if canAssign && c.match(TokenEqual) {
		c.error("Invalid assignment target.")
	}
}

func (c *Compiler) grouping(canAssign bool) {
	c.expression()
	c.consume(TokenRightParen, "Expect ')' after expression.")
}

func (c *Compiler) unary(canAssign bool) {
	op := c.previous.Type
	c.parsePrecedence(PrecUnary)

	switch op {
	case TokenBang:
		c.emitOp(vm.OpNot)
	case TokenMinus:
		c.emitOp(vm.OpNegate)
	}
}

func (c *Compiler) binary(canAssign bool) {
	op := c.previous.Type
	rule := getRule(op)
	c.parsePrecedence(rule.precedence + 1)

	switch op {
	case TokenBangEqual:
		c.emitOps(vm.OpEqual, vm.OpNot)
	case TokenEqualEqual:
		c.emitOp(vm.OpEqual)
	case TokenGreater:
		c.emitOp(vm.OpGreater)
	case TokenGreaterEqual:
		c.emitOps(vm.OpLess, vm.OpNot)
	case TokenLess:
		c.emitOp(vm.OpLess)
	case TokenLessEqual:
		c.emitOps(vm.OpGreater, vm.OpNot)
	case TokenPlus:
		c.emitOp(vm.OpAdd)
	case TokenMinus:
		c.emitOp(vm.OpSubtract)
	case TokenStar:
		c.emitOp(vm.OpMultiply)
	case TokenSlash:
		c.emitOp(vm.OpDivide)
	}
}

func (c *Compiler) literal(canAssign bool) {
	switch c.previous.Type {
	case TokenFalse:
		c.emitOp(vm.OpFalse)
	case TokenTrue:
		c.emitOp(vm.OpTrue)
	case TokenNil:
		c.emitOp(vm.OpNil)
	}
}

func (c *Compiler) number(canAssign bool) {
	// Digit runs always parse; overflow saturates to +Inf.
	f, _ := strconv.ParseFloat(c.previous.Lexeme, 64)
	c.emitConstant(vm.FromFloat64(f))
}

func (c *Compiler) stringLiteral(canAssign bool) {
	lexeme := c.previous.Lexeme
	c.emitConstant(vm.FromString(lexeme[1 : len(lexeme)-1]))
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous, canAssign)
}

func (c *Compiler) namedVariable(name Token, canAssign bool) {
	arg := c.identifierConstant(name)
	if canAssign && c.match(TokenEqual) {
		c.expression()
		c.emitOpArg(vm.OpSetGlobal, arg)
	} else {
		c.emitOpArg(vm.OpGetGlobal, arg)
	}
}
