package xquery

import "strings"

type TemplateTokenKind int

const (
	LiteralToken TemplateTokenKind = iota
	ExpressionToken
)

func (k TemplateTokenKind) String() string {
	if k == ExpressionToken {
		return "Expression"
	}
	return "Literal"
}

// TemplateToken is one segment of a template body, in render order.
type TemplateToken struct {
	Kind TemplateTokenKind
	Text string
}

// CheckBraces verifies that every enclosed expression opened in body is
// closed. Doubled braces at the top level are escapes and a stray '}' at
// the top level is taken literally. Inside an expression, quoted strings
// are skipped.
func CheckBraces(body string) error {
	depth, open := 0, -1
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '"', '\'':
			if depth > 0 {
				if end := strings.IndexByte(body[i+1:], body[i]); end >= 0 {
					i += end + 1
				}
			}
		case '{':
			if depth == 0 {
				if i+1 < len(body) && body[i+1] == '{' {
					i++
					continue
				}
				open = i
			}
			depth++
		case '}':
			if depth == 0 {
				if i+1 < len(body) && body[i+1] == '}' {
					i++
				}
				continue
			}
			depth--
		}
	}
	if depth > 0 {
		return &UnbalancedBracesError{Offset: open}
	}
	return nil
}

// Tokenize splits a template body into literal and expression tokens.
func Tokenize(body string) ([]TemplateToken, error) {
	if err := CheckBraces(body); err != nil {
		return nil, err
	}
	var tokens []TemplateToken
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			tokens = append(tokens, TemplateToken{Kind: LiteralToken, Text: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(body); {
		ch := body[i]
		switch {
		case ch == '{' && i+1 < len(body) && body[i+1] == '{':
			lit.WriteByte('{')
			i += 2
		case ch == '{':
			end := closingBrace(body, i)
			if end < 0 {
				return nil, &UnbalancedBracesError{Offset: i}
			}
			flush()
			tokens = append(tokens, TemplateToken{Kind: ExpressionToken, Text: body[i+1 : end]})
			i = end + 1
		case ch == '}' && i+1 < len(body) && body[i+1] == '}':
			lit.WriteByte('}')
			i += 2
		default:
			lit.WriteByte(ch)
			i++
		}
	}
	flush()
	return tokens, nil
}

// closingBrace returns the index of the brace closing the one at open, or
// -1 when the input ends first. Braces inside quoted strings do not count;
// a quote with no partner is plain text.
func closingBrace(text string, open int) int {
	depth := 0
	for i := open; i < len(text); i++ {
		switch text[i] {
		case '"', '\'':
			if depth > 0 {
				if end := strings.IndexByte(text[i+1:], text[i]); end >= 0 {
					i += end + 1
				}
			}
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func hasBraces(body string) bool {
	return strings.ContainsAny(body, "{}")
}

// bracesOutsideQuotes reports whether text has a brace that is not inside a
// quoted string. Text that leaves a quote open counts as having one.
func bracesOutsideQuotes(text string) bool {
	var quote byte
	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '{' || ch == '}':
			return true
		}
	}
	return quote != 0
}

// concatExpr turns template tokens into a single string-valued expression:
// concat("lit", expr, "lit", ...). Each expression part is passed through
// convert first.
func concatExpr(tokens []TemplateToken, convert func(string) string) string {
	parts := make([]string, 0, len(tokens))
	exprs := 0
	for _, tok := range tokens {
		if tok.Kind == LiteralToken {
			parts = append(parts, quoteLiteral(tok.Text))
			continue
		}
		code := strings.TrimSpace(tok.Text)
		if convert != nil {
			code = convert(code)
		}
		if code == "" {
			continue
		}
		if hasTopLevelComma(code) {
			code = "(" + code + ")"
		}
		parts = append(parts, code)
		exprs++
	}
	switch len(parts) {
	case 0:
		return `""`
	case 1:
		if exprs == 0 {
			return parts[0]
		}
		return "string-join(" + parts[0] + `, " ")`
	}
	return "concat(" + strings.Join(parts, ", ") + ")"
}

func quoteLiteral(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func hasTopLevelComma(code string) bool {
	depth := 0
	var quote byte
	for i := 0; i < len(code); i++ {
		ch := code[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				return true
			}
		}
	}
	return false
}
