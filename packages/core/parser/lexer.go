package parser

import (
	"strings"
	"unicode"
)

type TokenType int

const (
	TokenEOF TokenType = iota
	TokenWhitespace
	TokenIdentifier
	TokenNumber
	TokenString
	TokenBoolean
	TokenNull
	TokenOperator
	TokenVariableRef
	TokenLeftBracket
	TokenRightBracket
	TokenComma
	TokenText
)

type Token struct {
	Type    TokenType
	Value   string
	Column  int
	Literal any
}

// Lexer tokenizes a single expect or capture line.
type Lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
}

func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// seek moves the lexer back (or forward) to byte offset pos.
func (l *Lexer) seek(pos int) {
	l.readPos = pos
	l.readChar()
}

// Mark returns the current offset for use with RestFrom.
func (l *Lexer) Mark() int {
	return l.pos
}

// RestFrom consumes the rest of the input and returns it, trimmed,
// starting at mark.
func (l *Lexer) RestFrom(mark int) string {
	if mark > len(l.input) {
		mark = len(l.input)
	}
	rest := strings.TrimSpace(l.input[mark:])
	l.seek(len(l.input))
	return rest
}

func (l *Lexer) AtEOF() bool {
	return l.ch == 0 && l.pos >= len(l.input)
}

// Peek returns the next token without consuming it.
func (l *Lexer) Peek() Token {
	mark := l.pos
	tok := l.NextToken()
	l.seek(mark)
	return tok
}

func (l *Lexer) SkipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' {
		l.readChar()
	}
}

// ReadWord reads up to the next whitespace. A {{...}} placeholder is kept
// whole even if it contains spaces.
func (l *Lexer) ReadWord() string {
	start := l.pos
	for !l.AtEOF() && l.ch != ' ' && l.ch != '\t' {
		if l.ch == '{' && l.peekChar() == '{' {
			end := strings.Index(l.input[l.pos:], "}}")
			if end >= 0 {
				l.seek(l.pos + end + 2)
				continue
			}
		}
		l.readChar()
	}
	return l.input[start:l.pos]
}

// ReadUntil reads up to the first byte in stop, trimmed.
func (l *Lexer) ReadUntil(stop string) string {
	start := l.pos
	for !l.AtEOF() && strings.IndexByte(stop, l.ch) < 0 {
		l.readChar()
	}
	return strings.TrimSpace(l.input[start:l.pos])
}

func (l *Lexer) NextToken() Token {
	tok := Token{Column: l.pos + 1}

	switch l.ch {
	case 0:
		if l.AtEOF() {
			tok.Type = TokenEOF
			return tok
		}
		tok.Type = TokenText
		tok.Value = string(l.ch)
		l.readChar()
	case ' ', '\t':
		start := l.pos
		l.SkipWhitespace()
		tok.Type = TokenWhitespace
		tok.Value = l.input[start:l.pos]
	case '=', '>', '<':
		first := l.ch
		l.readChar()
		switch {
		case l.ch == '=':
			l.readChar()
			tok.Type = TokenOperator
			tok.Value = string(first) + "="
		case first == '=':
			tok.Type = TokenText
			tok.Value = "="
		default:
			tok.Type = TokenOperator
			tok.Value = string(first)
		}
	case '!':
		switch next := l.peekChar(); {
		case next == '=':
			l.readChar()
			l.readChar()
			tok.Type = TokenOperator
			tok.Value = "!="
		case isLetter(next):
			l.readChar()
			tok.Type = TokenOperator
			tok.Value = "!" + strings.ToLower(l.readIdentifier())
		default:
			tok.Type = TokenText
			tok.Value = "!"
			l.readChar()
		}
	case '{':
		if l.peekChar() == '{' {
			return l.readVariableRef()
		}
		tok.Type = TokenText
		tok.Value = "{"
		l.readChar()
	case '[':
		tok.Type = TokenLeftBracket
		tok.Value = "["
		l.readChar()
	case ']':
		tok.Type = TokenRightBracket
		tok.Value = "]"
		l.readChar()
	case ',':
		tok.Type = TokenComma
		tok.Value = ","
		l.readChar()
	case '"', '\'':
		return l.readString(l.ch)
	default:
		switch {
		case isLetter(l.ch):
			return l.readWordToken()
		case isDigit(l.ch) || (l.ch == '-' && isDigit(l.peekChar())):
			return l.readNumber()
		}
		tok.Type = TokenText
		tok.Value = string(l.ch)
		l.readChar()
	}
	return tok
}

func (l *Lexer) readVariableRef() Token {
	tok := Token{Type: TokenVariableRef, Column: l.pos + 1}
	l.readChar()
	l.readChar()
	start := l.pos
	for !l.AtEOF() && !(l.ch == '}' && l.peekChar() == '}') {
		l.readChar()
	}
	tok.Value = strings.TrimSpace(l.input[start:l.pos])
	if l.ch == '}' {
		l.readChar()
		l.readChar()
	}
	return tok
}

func (l *Lexer) readString(quote byte) Token {
	tok := Token{Type: TokenString, Column: l.pos + 1}
	l.readChar()
	var b strings.Builder
	for !l.AtEOF() && l.ch != quote {
		if l.ch == '\\' && (l.peekChar() == quote || l.peekChar() == '\\') {
			l.readChar()
		}
		b.WriteByte(l.ch)
		l.readChar()
	}
	if l.ch == quote {
		l.readChar()
	}
	tok.Value = b.String()
	tok.Literal = tok.Value
	return tok
}

func (l *Lexer) readNumber() Token {
	tok := Token{Type: TokenNumber, Column: l.pos + 1}
	start := l.pos
	if l.ch == '-' {
		l.readChar()
	}
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	tok.Value = l.input[start:l.pos]
	return tok
}

// operatorWords are the operators spelled as words. They are matched
// case-insensitively, so "startsWith" is accepted.
var operatorWords = map[string]bool{
	"contains":   true,
	"startswith": true,
	"endswith":   true,
	"matches":    true,
	"exists":     true,
	"length":     true,
	"includes":   true,
	"in":         true,
	"type":       true,
	"each":       true,
	"schema":     true,
}

func (l *Lexer) readWordToken() Token {
	tok := Token{Column: l.pos + 1}
	ident := l.readIdentifier()
	lower := strings.ToLower(ident)

	switch {
	case lower == "true" || lower == "false":
		tok.Type = TokenBoolean
		tok.Value = lower
		tok.Literal = lower == "true"
	case lower == "null":
		tok.Type = TokenNull
		tok.Value = lower
	case operatorWords[lower]:
		tok.Type = TokenOperator
		tok.Value = lower
	default:
		tok.Type = TokenIdentifier
		tok.Value = ident
	}
	return tok
}

func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '-' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func isLetter(ch byte) bool {
	return unicode.IsLetter(rune(ch)) || ch == '_'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
