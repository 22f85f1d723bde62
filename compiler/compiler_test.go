package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/chazu/mote/vm"
)

// compileSource compiles src and returns the chunk, the diagnostic text and
// whether an error occurred.
func compileSource(t *testing.T, src string, opts ...Option) (*vm.Chunk, string, bool) {
	t.Helper()
	var diag bytes.Buffer
	chunk := vm.NewChunk()
	opts = append(opts, WithDiagnostics(&diag))
	hadError := New(src, chunk, opts...).Compile()
	return chunk, diag.String(), hadError
}

// opcodes decodes the instruction stream of chunk, dropping operands.
func opcodes(t *testing.T, chunk *vm.Chunk) []vm.Opcode {
	t.Helper()
	var ops []vm.Opcode
	for i := 0; i < len(chunk.Code); {
		op, ok := vm.DecodeOpcode(chunk.Code[i])
		if !ok {
			t.Fatalf("undecodable byte %d at offset %d", chunk.Code[i], i)
		}
		ops = append(ops, op)
		i += op.InstructionLen()
	}
	return ops
}

func opNames(ops []vm.Opcode) string {
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.Name()
	}
	return strings.Join(names, " ")
}

// ---------------------------------------------------------------------------
// Code generation
// ---------------------------------------------------------------------------

func TestCompileShapes(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"", "RETURN"},
		{"print 1;", "CONSTANT PRINT RETURN"},
		{"1 + 2;", "CONSTANT CONSTANT ADD POP RETURN"},
		{"print 1 + 2 * 3;", "CONSTANT CONSTANT CONSTANT MULTIPLY ADD PRINT RETURN"},
		{"print (1 + 2) * 3;", "CONSTANT CONSTANT ADD CONSTANT MULTIPLY PRINT RETURN"},
		{"print 1 - 2 - 3;", "CONSTANT CONSTANT SUBTRACT CONSTANT SUBTRACT PRINT RETURN"},
		{"print -1;", "CONSTANT NEGATE PRINT RETURN"},
		{"print !!true;", "TRUE NOT NOT PRINT RETURN"},
		{"print 1 != 2;", "CONSTANT CONSTANT EQUAL NOT PRINT RETURN"},
		{"print 1 >= 2;", "CONSTANT CONSTANT LESS NOT PRINT RETURN"},
		{"print 1 <= 2;", "CONSTANT CONSTANT GREATER NOT PRINT RETURN"},
		{"print 1 < 2 == true;", "CONSTANT CONSTANT LESS TRUE EQUAL PRINT RETURN"},
		{"print nil;", "NIL PRINT RETURN"},
		{"var a;", "NIL DEFINE_GLOBAL RETURN"},
		{"var a = false;", "FALSE DEFINE_GLOBAL RETURN"},
		{"a = 1;", "CONSTANT SET_GLOBAL POP RETURN"},
		{"a = b = 1;", "CONSTANT SET_GLOBAL SET_GLOBAL POP RETURN"},
		{"print a;", "GET_GLOBAL PRINT RETURN"},
	}

	for _, tt := range tests {
		chunk, diag, hadError := compileSource(t, tt.src)
		if hadError {
			t.Errorf("Compile(%q) failed: %s", tt.src, diag)
			continue
		}
		if got := opNames(opcodes(t, chunk)); got != tt.want {
			t.Errorf("Compile(%q) = %s, want %s", tt.src, got, tt.want)
		}
	}
}

func TestCompileStringConstantStripsQuotes(t *testing.T) {
	chunk, _, hadError := compileSource(t, `print "hi";`)
	if hadError {
		t.Fatal("unexpected compile error")
	}
	if got := chunk.Constants[0]; !got.IsString() || got.Str() != "hi" {
		t.Errorf("constant = %#v, want \"hi\"", got)
	}
}

func TestCompileLinesFollowTokens(t *testing.T) {
	chunk, _, _ := compileSource(t, "print\n1\n+\n2;")
	if len(chunk.Lines) != len(chunk.Code) {
		t.Fatalf("lines/code length mismatch: %d vs %d", len(chunk.Lines), len(chunk.Code))
	}
	// The ADD is emitted after its right operand has been consumed.
	ops := opcodes(t, chunk)
	if opNames(ops) != "CONSTANT CONSTANT ADD PRINT RETURN" {
		t.Fatalf("ops = %s", opNames(ops))
	}
	if chunk.LineAt(0) != 2 {
		t.Errorf("first constant on line %d, want 2", chunk.LineAt(0))
	}
	if chunk.LineAt(4) != 4 {
		t.Errorf("ADD on line %d, want 4", chunk.LineAt(4))
	}
}

func TestCompileNoConstantDedup(t *testing.T) {
	chunk, _, _ := compileSource(t, "print 1 + 1;")
	if chunk.ConstantCount() != 2 {
		t.Errorf("ConstantCount() = %d, want 2", chunk.ConstantCount())
	}
}

func TestCompileAlwaysEndsWithReturn(t *testing.T) {
	for _, src := range []string{"", "print 1;", "print ;", "var;"} {
		chunk, _, _ := compileSource(t, src)
		if n := chunk.Len(); n == 0 || vm.Opcode(chunk.Code[n-1]) != vm.OpReturn {
			t.Errorf("Compile(%q) does not end with RETURN", src)
		}
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"print 1", "[line 1] Error at end: Expect ';' after value.\n"},
		{"1 + ;", "[line 1] Error at ';': Expect expression.\n"},
		{"(1;", "[line 1] Error at ';': Expect ')' after expression.\n"},
		{"1 2;", "[line 1] Error at '2': Expect ';' after expression.\n"},
		{"var 1;", "[line 1] Error at '1': Expect variable name.\n"},
		{"var a = 1", "[line 1] Error at end: Expect ';' after variable declaration.\n"},
		{"1 + 2 = 3;", "[line 1] Error at '=': Invalid assignment target.\n"},
		{"a + b = 3;", "[line 1] Error at '=': Invalid assignment target.\n"},
		{`print "oops;`, "[line 1] Error: Unterminated string.\n"},
		{"print @;", "[line 1] Error: Unexpected character.\n"},
		{"\n\nprint;", "[line 3] Error at ';': Expect expression.\n"},
	}

	for _, tt := range tests {
		_, diag, hadError := compileSource(t, tt.src)
		if !hadError {
			t.Errorf("Compile(%q) succeeded, want error", tt.src)
			continue
		}
		if diag != tt.want {
			t.Errorf("Compile(%q) diagnostics = %q, want %q", tt.src, diag, tt.want)
		}
	}
}

func TestPanicModeSuppressesCascade(t *testing.T) {
	_, diag, _ := compileSource(t, "print 1 + + + 2;")
	if n := strings.Count(diag, "\n"); n != 1 {
		t.Errorf("got %d diagnostics, want 1:\n%s", n, diag)
	}
}

func TestSynchronizeReportsLaterErrors(t *testing.T) {
	src := "print 1 +;\nvar = 2;\nprint 3;\nprint (;"
	c := New(src, vm.NewChunk(), WithDiagnostics(&bytes.Buffer{}))
	if !c.Compile() {
		t.Fatal("expected errors")
	}

	diags := c.Diagnostics()
	if len(diags) != 3 {
		t.Fatalf("got %d diagnostics, want 3: %v", len(diags), diags)
	}
	wantLines := []int{1, 2, 4}
	for i, d := range diags {
		if d.Line != wantLines[i] {
			t.Errorf("diagnostic %d on line %d, want %d", i, d.Line, wantLines[i])
		}
	}

	err := c.Err()
	if err == nil {
		t.Fatal("Err() = nil")
	}
	var d Diagnostic
	if !errors.As(err, &d) {
		t.Errorf("Err() does not unwrap to a Diagnostic: %v", err)
	}
}

func TestErrNilWhenClean(t *testing.T) {
	c := New("print 1;", vm.NewChunk(), WithDiagnostics(&bytes.Buffer{}))
	if c.Compile() {
		t.Fatal("unexpected error")
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestTooManyConstants(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < vm.MaxConstants+1; i++ {
		fmt.Fprintf(&sb, "%d;\n", i)
	}

	chunk, diag, hadError := compileSource(t, sb.String())
	if !hadError {
		t.Fatal("257 constants should fail to compile")
	}
	want := fmt.Sprintf("[line %d] Error at '256': Too many constants in one chunk.\n", vm.MaxConstants+1)
	if diag != want {
		t.Errorf("diagnostics = %q, want %q", diag, want)
	}
	if chunk.ConstantCount() != vm.MaxConstants {
		t.Errorf("ConstantCount() = %d, want %d", chunk.ConstantCount(), vm.MaxConstants)
	}
}

func TestExactlyMaxConstants(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < vm.MaxConstants; i++ {
		fmt.Fprintf(&sb, "%d;", i)
	}
	if _, diag, hadError := compileSource(t, sb.String()); hadError {
		t.Errorf("256 constants should compile: %s", diag)
	}
}

func TestNestingLimit(t *testing.T) {
	deep := strings.Repeat("(", 300) + "1" + strings.Repeat(")", 300) + ";"
	_, diag, hadError := compileSource(t, deep)
	if !hadError {
		t.Fatal("deep nesting should fail")
	}
	if !strings.Contains(diag, "Expression nesting too deep.") {
		t.Errorf("diagnostics = %q", diag)
	}

	shallow := strings.Repeat("(", 50) + "1" + strings.Repeat(")", 50) + ";"
	if _, diag, hadError := compileSource(t, shallow); hadError {
		t.Errorf("50 levels should compile: %s", diag)
	}

	if _, _, hadError := compileSource(t, shallow, WithMaxDepth(10)); !hadError {
		t.Error("WithMaxDepth(10) should reject 50 levels")
	}
}

func TestDeepUnaryChain(t *testing.T) {
	src := "print " + strings.Repeat("-", 10000) + "1;"
	_, diag, hadError := compileSource(t, src)
	if !hadError || !strings.Contains(diag, "Expression nesting too deep.") {
		t.Errorf("hadError = %v, diagnostics = %q", hadError, diag)
	}
}

func TestWithDisassembly(t *testing.T) {
	var listing bytes.Buffer
	_, _, hadError := compileSource(t, "print 1;", WithDisassembly(&listing))
	if hadError {
		t.Fatal("unexpected error")
	}
	if !strings.HasPrefix(listing.String(), "== code ==\n") {
		t.Errorf("listing = %q", listing.String())
	}
	if !strings.Contains(listing.String(), "PRINT") {
		t.Errorf("listing missing PRINT: %q", listing.String())
	}

	listing.Reset()
	compileSource(t, "print ;", WithDisassembly(&listing))
	if listing.Len() != 0 {
		t.Error("failed compile should not write a listing")
	}
}
