package parser

import "strings"

type TokenType int

const (
	ILLEGAL TokenType = iota
	EOF

	IDENT
	INT
	FLOAT
	STRING

	WHEN
	SIGMA // unit suffix: 2sigma, 1.5 sigma

	PLUS
	MINUS
	ASTERISK
	SLASH

	EQ
	NOT_EQ
	LT
	GT
	LTE
	GTE
	AND
	OR
	NOT

	COMMA
	SEMICOLON
	DOT
	LPAREN
	RPAREN
	LBRACE
	RBRACE
)

var tokenNames = map[TokenType]string{
	ILLEGAL:   "ILLEGAL",
	EOF:       "EOF",
	IDENT:     "IDENT",
	INT:       "INT",
	FLOAT:     "FLOAT",
	STRING:    "STRING",
	WHEN:      "WHEN",
	SIGMA:     "sigma",
	PLUS:      "+",
	MINUS:     "-",
	ASTERISK:  "*",
	SLASH:     "/",
	EQ:        "==",
	NOT_EQ:    "!=",
	LT:        "<",
	GT:        ">",
	LTE:       "<=",
	GTE:       ">=",
	AND:       "&&",
	OR:        "||",
	NOT:       "!",
	COMMA:     ",",
	SEMICOLON: ";",
	DOT:       ".",
	LPAREN:    "(",
	RPAREN:    ")",
	LBRACE:    "{",
	RBRACE:    "}",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

type Token struct {
	Type    TokenType
	Literal string
	Line    int
	Column  int
}

var keywords = map[string]TokenType{
	"when":  WHEN,
	"sigma": SIGMA,
}

var singleChar = map[byte]TokenType{
	'+': PLUS,
	'-': MINUS,
	'*': ASTERISK,
	'/': SLASH,
	'<': LT,
	'>': GT,
	'!': NOT,
	',': COMMA,
	';': SEMICOLON,
	'.': DOT,
	'(': LPAREN,
	')': RPAREN,
	'{': LBRACE,
	'}': RBRACE,
}

var doubleChar = map[string]TokenType{
	"==": EQ,
	"!=": NOT_EQ,
	"<=": LTE,
	">=": GTE,
	"&&": AND,
	"||": OR,
}

// Lexer turns policy source into tokens. Input is treated as bytes;
// non-ASCII is only meaningful inside string literals.
type Lexer struct {
	input  string
	pos    int // index of ch
	next   int // index after ch
	ch     byte
	line   int
	column int
}

func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.column = 0
	}
	if l.next >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.next]
	}
	l.pos = l.next
	l.next++
	l.column++
}

// atEnd distinguishes end of input from a NUL byte in the source.
func (l *Lexer) atEnd() bool {
	return l.pos >= len(l.input)
}

func (l *Lexer) peekChar() byte {
	if l.next >= len(l.input) {
		return 0
	}
	return l.input[l.next]
}

func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	tok := Token{Line: l.line, Column: l.column}

	switch {
	case l.atEnd():
		tok.Type = EOF
		return tok
	case l.ch == '"':
		lit, ok := l.readString()
		tok.Type, tok.Literal = STRING, lit
		if !ok {
			tok.Type = ILLEGAL
		}
		return tok
	case isLetter(l.ch):
		tok.Literal = l.readIdentifier()
		tok.Type = lookupIdent(tok.Literal)
		return tok
	case isDigit(l.ch):
		tok.Type, tok.Literal = l.readNumber()
		return tok
	}

	if t, ok := doubleChar[string([]byte{l.ch, l.peekChar()})]; ok {
		tok.Type = t
		tok.Literal = l.input[l.pos : l.pos+2]
		l.readChar()
		l.readChar()
		return tok
	}

	tok.Literal = string(l.ch)
	if t, ok := singleChar[l.ch]; ok {
		tok.Type = t
	} else {
		tok.Type = ILLEGAL
	}
	l.readChar()
	return tok
}

// Tokens drains the lexer, EOF included.
func (l *Lexer) Tokens() []Token {
	var out []Token
	for {
		tok := l.NextToken()
		out = append(out, tok)
		if tok.Type == EOF {
			return out
		}
	}
}

func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readNumber() (TokenType, string) {
	start := l.pos
	tokenType := INT
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		tokenType = FLOAT
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return tokenType, l.input[start:l.pos]
}

// readString consumes a double-quoted literal with \" and \\ escapes.
// It reports false when the input ends before the closing quote.
func (l *Lexer) readString() (string, bool) {
	var sb strings.Builder
	for {
		l.readChar()
		switch l.ch {
		case 0:
			return sb.String(), false
		case '"':
			l.readChar()
			return sb.String(), true
		case '\\':
			if p := l.peekChar(); p == '"' || p == '\\' {
				l.readChar()
			}
		}
		sb.WriteByte(l.ch)
	}
}

// skipWhitespaceAndComments also drops '#' comments up to end of line.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		switch l.ch {
		case ' ', '\t', '\n', '\r':
			l.readChar()
		case '#':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		default:
			return
		}
	}
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func lookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return IDENT
}
