package compiler

import "fmt"

// Diagnostic is one compile error.
type Diagnostic struct {
	Line    int
	Lexeme  string // offending token text; empty for lexer errors and end of input
	AtEnd   bool   // reported at end of input
	Message string
}

// Error renders the diagnostic in the form written to the diagnostic stream:
//
//	[line 3] Error at 'foo': Expect ';' after value.
//	[line 3] Error at end: Expect expression.
//	[line 3] Error: Unterminated string.
func (d Diagnostic) Error() string {
	switch {
	case d.AtEnd:
		return fmt.Sprintf("[line %d] Error at end: %s", d.Line, d.Message)
	case d.Lexeme != "":
		return fmt.Sprintf("[line %d] Error at '%s': %s", d.Line, d.Lexeme, d.Message)
	default:
		return fmt.Sprintf("[line %d] Error: %s", d.Line, d.Message)
	}
}
