package xquery

import (
	"strings"
)

type TokenKind string

const (
	TokEOF    TokenKind = "EOF"
	TokName   TokenKind = "NAME"
	TokVar    TokenKind = "VAR"
	TokOp     TokenKind = "OP"
	TokPunct  TokenKind = "PUNCT"
	TokString TokenKind = "STRING"
	TokNumber TokenKind = "NUMBER"
	TokDot    TokenKind = "DOT"
	TokSlash  TokenKind = "SLASH"
	TokAt     TokenKind = "AT"
)

type Token struct {
	Kind TokenKind
	Val  string
	Pos  int
}

type Lexer struct {
	Text   string
	Pos    int
	Buffer []Token
}

func NewLexer(text string) *Lexer {
	return &Lexer{Text: text}
}

// PeekAt returns the token n places ahead without consuming anything.
func (l *Lexer) PeekAt(n int) Token {
	for len(l.Buffer) <= n {
		if k := len(l.Buffer); k > 0 && l.Buffer[k-1].Kind == TokEOF {
			return l.Buffer[k-1]
		}
		l.Buffer = append(l.Buffer, l.nextToken())
	}
	return l.Buffer[n]
}

func (l *Lexer) Peek() Token {
	return l.PeekAt(0)
}

func (l *Lexer) Next() Token {
	tok := l.Peek()
	if tok.Kind != TokEOF {
		l.Buffer = l.Buffer[1:]
	}
	return tok
}

// Is reports whether the next token has the given kind and value.
func (l *Lexer) Is(kind TokenKind, val string) bool {
	tok := l.Peek()
	return tok.Kind == kind && tok.Val == val
}

func (l *Lexer) Expect(kind TokenKind, val string) Token {
	tok := l.Next()
	if tok.Kind != kind || (val != "" && tok.Val != val) {
		want := val
		if want == "" {
			want = string(kind)
		}
		raise("XPST0003", "expected %s at %d, found %s", want, tok.Pos, describe(tok))
	}
	return tok
}

// All scans the remaining input. The last token is always TokEOF.
func (l *Lexer) All() []Token {
	var out []Token
	for {
		tok := l.Next()
		out = append(out, tok)
		if tok.Kind == TokEOF {
			return out
		}
	}
}

func describe(tok Token) string {
	if tok.Kind == TokEOF {
		return "end of expression"
	}
	return "'" + tok.Val + "'"
}

func (l *Lexer) skipWsComments() {
	for l.Pos < len(l.Text) {
		ch := l.Text[l.Pos]
		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			l.Pos++
			continue
		}
		if strings.HasPrefix(l.Text[l.Pos:], "(:") {
			start := l.Pos
			depth := 0
			for l.Pos < len(l.Text) {
				if strings.HasPrefix(l.Text[l.Pos:], "(:") {
					depth++
					l.Pos += 2
					continue
				}
				if strings.HasPrefix(l.Text[l.Pos:], ":)") {
					depth--
					l.Pos += 2
					if depth == 0 {
						break
					}
					continue
				}
				l.Pos++
			}
			if depth > 0 {
				raise("XPST0003", "unterminated comment at %d", start)
			}
			continue
		}
		break
	}
}

func (l *Lexer) peekByte(off int) byte {
	if l.Pos+off < len(l.Text) {
		return l.Text[l.Pos+off]
	}
	return 0
}

func (l *Lexer) nextToken() Token {
	l.skipWsComments()
	if l.Pos >= len(l.Text) {
		return Token{Kind: TokEOF, Pos: l.Pos}
	}
	start := l.Pos
	ch := l.Text[l.Pos]
	two := ""
	if l.Pos+1 < len(l.Text) {
		two = l.Text[l.Pos : l.Pos+2]
	}

	switch two {
	case ":=", "!=", "<=", ">=", "||", "<<", ">>":
		l.Pos += 2
		return Token{Kind: TokOp, Val: two, Pos: start}
	case "::":
		l.Pos += 2
		return Token{Kind: TokPunct, Val: "::", Pos: start}
	case "//":
		l.Pos += 2
		return Token{Kind: TokSlash, Val: "//", Pos: start}
	case "..":
		l.Pos += 2
		return Token{Kind: TokDot, Val: "..", Pos: start}
	}

	switch {
	case strings.IndexByte("()[],", ch) >= 0:
		l.Pos++
		return Token{Kind: TokPunct, Val: string(ch), Pos: start}
	case ch == '/':
		l.Pos++
		return Token{Kind: TokSlash, Val: "/", Pos: start}
	case ch == '@':
		l.Pos++
		return Token{Kind: TokAt, Val: "@", Pos: start}
	case ch == '.' && isDigit(l.peekByte(1)):
		return l.scanNumber()
	case ch == '.':
		l.Pos++
		return Token{Kind: TokDot, Val: ".", Pos: start}
	case ch == '*' && l.peekByte(1) == ':' && isNameStart(l.peekByte(2)):
		l.Pos += 2
		local := l.scanNCName()
		return Token{Kind: TokName, Val: "*:" + local, Pos: start}
	case strings.IndexByte("=<>+-*|!", ch) >= 0:
		l.Pos++
		return Token{Kind: TokOp, Val: string(ch), Pos: start}
	case ch == '"' || ch == '\'':
		return l.scanString()
	case isDigit(ch):
		return l.scanNumber()
	case ch == '$':
		l.Pos++
		l.skipWsComments()
		if l.Pos >= len(l.Text) || !isNameStart(l.Text[l.Pos]) {
			raise("XPST0003", "expected variable name at %d", start)
		}
		return Token{Kind: TokVar, Val: l.scanQName(), Pos: start}
	case isNameStart(ch):
		return Token{Kind: TokName, Val: l.scanQName(), Pos: start}
	}
	raise("XPST0003", "unexpected character %q at %d", ch, start)
	return Token{}
}

func (l *Lexer) scanNCName() string {
	start := l.Pos
	for l.Pos < len(l.Text) && isNameChar(l.Text[l.Pos]) {
		l.Pos++
	}
	return l.Text[start:l.Pos]
}

// scanQName reads NCName, prefix:local or prefix:*.
func (l *Lexer) scanQName() string {
	name := l.scanNCName()
	if l.peekByte(0) == ':' {
		next := l.peekByte(1)
		if isNameStart(next) {
			l.Pos++
			return name + ":" + l.scanNCName()
		}
		if next == '*' {
			l.Pos += 2
			return name + ":*"
		}
	}
	return name
}

func (l *Lexer) scanString() Token {
	start := l.Pos
	quote := l.Text[l.Pos]
	l.Pos++
	var sb strings.Builder
	for l.Pos < len(l.Text) {
		c := l.Text[l.Pos]
		if c == quote {
			if l.peekByte(1) == quote {
				sb.WriteByte(quote)
				l.Pos += 2
				continue
			}
			l.Pos++
			return Token{Kind: TokString, Val: sb.String(), Pos: start}
		}
		sb.WriteByte(c)
		l.Pos++
	}
	raise("XPST0003", "unterminated string at %d", start)
	return Token{}
}

func (l *Lexer) scanNumber() Token {
	start := l.Pos
	for l.Pos < len(l.Text) && isDigit(l.Text[l.Pos]) {
		l.Pos++
	}
	if l.peekByte(0) == '.' && l.peekByte(1) != '.' {
		l.Pos++
		for l.Pos < len(l.Text) && isDigit(l.Text[l.Pos]) {
			l.Pos++
		}
	}
	if c := l.peekByte(0); c == 'e' || c == 'E' {
		save := l.Pos
		l.Pos++
		if c := l.peekByte(0); c == '+' || c == '-' {
			l.Pos++
		}
		if !isDigit(l.peekByte(0)) {
			l.Pos = save
		} else {
			for l.Pos < len(l.Text) && isDigit(l.Text[l.Pos]) {
				l.Pos++
			}
		}
	}
	if isNameStart(l.peekByte(0)) {
		raise("XPST0003", "invalid numeric literal at %d", start)
	}
	return Token{Kind: TokNumber, Val: l.Text[start:l.Pos], Pos: start}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
