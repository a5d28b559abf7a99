// Package asm implements the assembler for the machine's instruction set.
// Source programs use one instruction per line, `;` comments, `label:`
// definitions, `#n` immediates, `@n` absolute addresses, and directives
// beginning with a dot (.entry, .word, .latency).
package asm

import (
	"strings"
	"unicode"
)

// TokenType represents the type of a token.
type TokenType uint8

const (
	TokenEOF TokenType = iota
	TokenNewline
	TokenIdent     // opcode names and labels
	TokenInt       // bare integer literals
	TokenComma     // ,
	TokenColon     // : (for labels)
	TokenImm       // #n immediate
	TokenAddr      // @n absolute address
	TokenDirective // .entry, .word, .latency
	TokenReg       // R0-R15, SP, FP
)

// String returns the string representation of a token type.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenNewline:
		return "NEWLINE"
	case TokenIdent:
		return "IDENT"
	case TokenInt:
		return "INT"
	case TokenComma:
		return "COMMA"
	case TokenColon:
		return "COLON"
	case TokenImm:
		return "IMM"
	case TokenAddr:
		return "ADDR"
	case TokenDirective:
		return "DIRECTIVE"
	case TokenReg:
		return "REG"
	default:
		return "UNKNOWN"
	}
}

// Token represents a lexical token.
type Token struct {
	Type  TokenType
	Value string
	Line  int
}

// Lexer tokenizes assembly source code.
type Lexer struct {
	input  string
	pos    int
	line   int
	tokens []Token
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{
		input:  input,
		pos:    0,
		line:   1,
		tokens: []Token{},
	}
}

// Tokenize tokenizes the entire input and returns the tokens.
func (l *Lexer) Tokenize() []Token {
	for l.pos < len(l.input) {
		l.skipWhitespace()
		if l.pos >= len(l.input) {
			break
		}

		ch := l.input[l.pos]

		switch {
		case ch == '\n':
			l.tokens = append(l.tokens, Token{Type: TokenNewline, Value: "\n", Line: l.line})
			l.line++
			l.pos++

		case ch == ';':
			// Comment, skip to end of line
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}

		case ch == ',':
			l.tokens = append(l.tokens, Token{Type: TokenComma, Value: ",", Line: l.line})
			l.pos++

		case ch == ':':
			l.tokens = append(l.tokens, Token{Type: TokenColon, Value: ":", Line: l.line})
			l.pos++

		case ch == '#':
			l.pos++
			l.scanNumberAs(TokenImm)

		case ch == '@':
			l.pos++
			l.scanNumberAs(TokenAddr)

		case ch == '.':
			l.pos++
			l.scanDirective()

		case unicode.IsDigit(rune(ch)):
			l.scanNumberAs(TokenInt)

		case unicode.IsLetter(rune(ch)) || ch == '_':
			l.scanIdentOrRegister()

		default:
			// Unknown character, skip it
			l.pos++
		}
	}

	l.tokens = append(l.tokens, Token{Type: TokenEOF, Value: "", Line: l.line})
	return l.tokens
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == ' ' || ch == '\t' || ch == '\r' {
			l.pos++
		} else {
			break
		}
	}
}

// scanNumberAs scans a decimal or 0x-prefixed hexadecimal literal.
func (l *Lexer) scanNumberAs(tt TokenType) {
	start := l.pos
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if unicode.IsDigit(rune(ch)) || ch == 'x' || ch == 'X' ||
			(ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F') {
			l.pos++
		} else {
			break
		}
	}
	l.tokens = append(l.tokens, Token{Type: tt, Value: l.input[start:l.pos], Line: l.line})
}

func (l *Lexer) scanDirective() {
	start := l.pos
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if unicode.IsLetter(rune(ch)) {
			l.pos++
		} else {
			break
		}
	}
	l.tokens = append(l.tokens, Token{Type: TokenDirective, Value: strings.ToLower(l.input[start:l.pos]), Line: l.line})
}

func (l *Lexer) scanIdentOrRegister() {
	start := l.pos
	l.pos++
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch)) || ch == '_' {
			l.pos++
		} else {
			break
		}
	}

	value := l.input[start:l.pos]
	l.tokens = append(l.tokens, Token{Type: l.classify(value), Value: value, Line: l.line})
}

func (l *Lexer) classify(value string) TokenType {
	upper := strings.ToUpper(value)
	if upper == "SP" || upper == "FP" {
		return TokenReg
	}
	if len(upper) >= 2 && len(upper) <= 3 && upper[0] == 'R' && unicode.IsDigit(rune(upper[1])) {
		return TokenReg
	}
	return TokenIdent
}
