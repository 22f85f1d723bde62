package compiler

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for Mote source
// ---------------------------------------------------------------------------

// Lexer produces tokens on demand from a source string. It never fails:
// malformed input yields TokenError tokens whose lexeme is the message.
//
// A Lexer cannot be rewound; scanning from the start again requires a new
// Lexer.
type Lexer struct {
	source  string
	start   int // start of the token being scanned
	current int // next byte to read
	line    int // current line (1-based)
}

// NewLexer creates a new lexer for the given source.
func NewLexer(source string) *Lexer {
	return &Lexer{source: source, line: 1}
}

// ScanToken returns the next token. Once the input is exhausted every call
// returns TokenEOF.
func (l *Lexer) ScanToken() Token {
	l.skipWhitespace()
	l.start = l.current

	if l.atEnd() {
		return l.makeToken(TokenEOF)
	}

	c := l.advance()
	switch {
	case isAlpha(c):
		return l.identifier()
	case isDigit(c):
		return l.number()
	}

	switch c {
	case '(':
		return l.makeToken(TokenLeftParen)
	case ')':
		return l.makeToken(TokenRightParen)
	case '{':
		return l.makeToken(TokenLeftBrace)
	case '}':
		return l.makeToken(TokenRightBrace)
	case ';':
		return l.makeToken(TokenSemicolon)
	case ',':
		return l.makeToken(TokenComma)
	case '.':
		return l.makeToken(TokenDot)
	case '-':
		return l.makeToken(TokenMinus)
	case '+':
		return l.makeToken(TokenPlus)
	case '/':
		return l.makeToken(TokenSlash)
	case '*':
		return l.makeToken(TokenStar)
	case '!':
		return l.makeToken(l.pick('=', TokenBangEqual, TokenBang))
	case '=':
		return l.makeToken(l.pick('=', TokenEqualEqual, TokenEqual))
	case '<':
		return l.makeToken(l.pick('=', TokenLessEqual, TokenLess))
	case '>':
		return l.makeToken(l.pick('=', TokenGreaterEqual, TokenGreater))
	case '"':
		return l.string()
	}

	return l.errorToken("Unexpected character.")
}

// ---------------------------------------------------------------------------
// Character helpers
// ---------------------------------------------------------------------------

func (l *Lexer) atEnd() bool {
	return l.current >= len(l.source)
}

func (l *Lexer) advance() byte {
	c := l.source[l.current]
	l.current++
	return c
}

func (l *Lexer) peek() byte {
	if l.atEnd() {
		return 0
	}
	return l.source[l.current]
}

func (l *Lexer) peekNext() byte {
	if l.current+1 >= len(l.source) {
		return 0
	}
	return l.source[l.current+1]
}

// pick consumes expected and returns two if it is next, otherwise one.
func (l *Lexer) pick(expected byte, two, one TokenType) TokenType {
	if l.atEnd() || l.source[l.current] != expected {
		return one
	}
	l.current++
	return two
}

func (l *Lexer) skipWhitespace() {
	for {
		switch l.peek() {
		case ' ', '\r', '\t':
			l.current++
		case '\n':
			l.line++
			l.current++
		case '/':
			if l.peekNext() != '/' {
				return
			}
			for l.peek() != '\n' && !l.atEnd() {
				l.current++
			}
		default:
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Token constructors
// ---------------------------------------------------------------------------

func (l *Lexer) makeToken(t TokenType) Token {
	return Token{
		Type:   t,
		Lexeme: l.source[l.start:l.current],
		Line:   l.line,
	}
}

func (l *Lexer) errorToken(message string) Token {
	return Token{Type: TokenError, Lexeme: message, Line: l.line}
}

// ---------------------------------------------------------------------------
// Literals and identifiers
// ---------------------------------------------------------------------------

func (l *Lexer) string() Token {
	for l.peek() != '"' && !l.atEnd() {
		if l.peek() == '\n' {
			l.line++
		}
		l.current++
	}
	if l.atEnd() {
		return l.errorToken("Unterminated string.")
	}
	l.current++ // closing quote
	return l.makeToken(TokenString)
}

func (l *Lexer) number() Token {
	for isDigit(l.peek()) {
		l.current++
	}
	// A fractional part needs at least one digit after the dot.
	if l.peek() == '.' && isDigit(l.peekNext()) {
		l.current++
		for isDigit(l.peek()) {
			l.current++
		}
	}
	return l.makeToken(TokenNumber)
}

func (l *Lexer) identifier() Token {
	for isAlpha(l.peek()) || isDigit(l.peek()) {
		l.current++
	}
	return l.makeToken(l.identifierType())
}

// identifierType classifies the current lexeme, switching on its first
// letters before comparing the remainder.
func (l *Lexer) identifierType() TokenType {
	word := l.source[l.start:l.current]
	switch word[0] {
	case 'a':
		return l.checkKeyword(1, "nd", TokenAnd)
	case 'c':
		return l.checkKeyword(1, "lass", TokenClass)
	case 'e':
		return l.checkKeyword(1, "lse", TokenElse)
	case 'f':
		if len(word) > 1 {
			switch word[1] {
			case 'a':
				return l.checkKeyword(2, "lse", TokenFalse)
			case 'o':
				return l.checkKeyword(2, "r", TokenFor)
			case 'n':
				return l.checkKeyword(2, "", TokenFn)
			}
		}
	case 'i':
		return l.checkKeyword(1, "f", TokenIf)
	case 'n':
		return l.checkKeyword(1, "il", TokenNil)
	case 'o':
		return l.checkKeyword(1, "r", TokenOr)
	case 'p':
		return l.checkKeyword(1, "rint", TokenPrint)
	case 'r':
		return l.checkKeyword(1, "eturn", TokenReturn)
	case 's':
		return l.checkKeyword(1, "uper", TokenSuper)
	case 't':
		if len(word) > 1 {
			switch word[1] {
			case 'h':
				return l.checkKeyword(2, "is", TokenThis)
			case 'r':
				return l.checkKeyword(2, "ue", TokenTrue)
			}
		}
	case 'v':
		return l.checkKeyword(1, "ar", TokenVar)
	case 'w':
		return l.checkKeyword(1, "hile", TokenWhile)
	}
	return TokenIdentifier
}

func (l *Lexer) checkKeyword(offset int, rest string, t TokenType) TokenType {
	if l.source[l.start+offset:l.current] == rest {
		return t
	}
	return TokenIdentifier
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// Tokenize returns all tokens in source, ending with TokenEOF.
func Tokenize(source string) []Token {
	l := NewLexer(source)
	var tokens []Token
	for {
		tok := l.ScanToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens
		}
	}
}
