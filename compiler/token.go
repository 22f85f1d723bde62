package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the Mote lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
//
// Token types are dense, starting at zero, so the parse-rule table can be a
// plain array indexed by TokenType.
type TokenType int

const (
	// Single-character tokens
	TokenLeftParen TokenType = iota // (
	TokenRightParen                 // )
	TokenLeftBrace                  // {
	TokenRightBrace                 // }
	TokenComma                      // ,
	TokenDot                        // .
	TokenMinus                      // -
	TokenPlus                       // +
	TokenSemicolon                  // ;
	TokenSlash                      // /
	TokenStar                       // *

	// One or two character tokens
	TokenBang         // !
	TokenBangEqual    // !=
	TokenEqual        // =
	TokenEqualEqual   // ==
	TokenGreater      // >
	TokenGreaterEqual // >=
	TokenLess         // <
	TokenLessEqual    // <=

	// Literals
	TokenIdentifier // foo, _bar
	TokenString     // "hello"
	TokenNumber     // 42, 3.14

	// Keywords
	TokenAnd
	TokenClass
	TokenElse
	TokenFalse
	TokenFor
	TokenFn
	TokenIf
	TokenNil
	TokenOr
	TokenPrint
	TokenReturn
	TokenSuper
	TokenThis
	TokenTrue
	TokenVar
	TokenWhile

	// Special tokens
	TokenError
	TokenEOF

	tokenTypeCount // sentinel
)

var tokenNames = map[TokenType]string{
	TokenLeftParen:    "(",
	TokenRightParen:   ")",
	TokenLeftBrace:    "{",
	TokenRightBrace:   "}",
	TokenComma:        ",",
	TokenDot:          ".",
	TokenMinus:        "-",
	TokenPlus:         "+",
	TokenSemicolon:    ";",
	TokenSlash:        "/",
	TokenStar:         "*",
	TokenBang:         "!",
	TokenBangEqual:    "!=",
	TokenEqual:        "=",
	TokenEqualEqual:   "==",
	TokenGreater:      ">",
	TokenGreaterEqual: ">=",
	TokenLess:         "<",
	TokenLessEqual:    "<=",
	TokenIdentifier:   "IDENTIFIER",
	TokenString:       "STRING",
	TokenNumber:       "NUMBER",
	TokenAnd:          "and",
	TokenClass:        "class",
	TokenElse:         "else",
	TokenFalse:        "false",
	TokenFor:          "for",
	TokenFn:           "fn",
	TokenIf:           "if",
	TokenNil:          "nil",
	TokenOr:           "or",
	TokenPrint:        "print",
	TokenReturn:       "return",
	TokenSuper:        "super",
	TokenThis:         "this",
	TokenTrue:         "true",
	TokenVar:          "var",
	TokenWhile:        "while",
	TokenError:        "ERROR",
	TokenEOF:          "EOF",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// IsKeyword reports whether t is a reserved word.
func (t TokenType) IsKeyword() bool {
	return t >= TokenAnd && t <= TokenWhile
}

// Keywords returns every reserved word in declaration order.
func Keywords() []string {
	words := make([]string, 0, TokenWhile-TokenAnd+1)
	for t := TokenAnd; t <= TokenWhile; t++ {
		words = append(words, tokenNames[t])
	}
	return words
}

// Token represents a lexical token.
//
// For TokenError the Lexeme holds the error message rather than source text.
type Token struct {
	Type   TokenType
	Lexeme string
	Line   int
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Lexeme)
	}
	if len(t.Lexeme) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Lexeme[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Lexeme)
}
