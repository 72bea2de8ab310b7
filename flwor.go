package xquery

import (
	"regexp"
	"strings"
)

var (
	// for $V in PATH [let $L := EXPR] [where COND] [order by KEY] return RET
	flworChainPattern = regexp.MustCompile(`(?s)\bfor\s+\$([A-Za-z_][\w.-]*)\s+in\s+(.+?)\s+(?:let\s+\$([A-Za-z_][\w.-]*)\s*:=\s*(.+?)\s+)?(?:where\s+(.+?)\s+)?(?:order\s+by\s+(.+?)\s+)?return\s+(.+)$`)
	// for $V in PATH return RET1, let $L := EXPR return RET2
	flworPairPattern = regexp.MustCompile(`(?s)\bfor\s+\$([A-Za-z_][\w.-]*)\s+in\s+(.+?)\s+return\s+(.+?)\s*,\s*let\s+\$([A-Za-z_][\w.-]*)\s*:=\s*(.+?)\s+return\s+(.+)$`)
)

// rewriteFLWOR rewrites the first FLWOR expression in text into a form the
// evaluator accepts. The paired for/let shape is tried first; the clause
// chain is only tried when it does not match. order by is dropped.
func rewriteFLWOR(text string) string {
	if out, ok := rewriteFLWORPair(text); ok {
		return out
	}
	if out, ok := rewriteFLWORChain(text); ok {
		return out
	}
	return text
}

func submatch(text string, m []int, i int) (string, bool) {
	if m[2*i] < 0 {
		return "", false
	}
	return text[m[2*i]:m[2*i+1]], true
}

func rewriteFLWORChain(text string) (string, bool) {
	m := flworChainPattern.FindStringSubmatchIndex(text)
	if m == nil {
		return text, false
	}
	v, _ := submatch(text, m, 1)
	path, _ := submatch(text, m, 2)
	letName, hasLet := submatch(text, m, 3)
	letExpr, _ := submatch(text, m, 4)
	cond, hasWhere := submatch(text, m, 5)
	ret, _ := submatch(text, m, 7)

	if hasLet {
		cond = substituteVar(cond, letName, letExpr)
		ret = substituteVar(ret, letName, letExpr)
	}
	path = strings.TrimSpace(path)
	if hasWhere {
		if hasTopLevelSpace(path) {
			path = "(" + path + ")"
		}
		path += "[" + wherePredicate(strings.TrimSpace(cond), v) + "]"
	}
	ret = convertConstructors(strings.TrimSpace(ret))
	return text[:m[0]] + "for $" + v + " in " + path + " return " + ret, true
}

func rewriteFLWORPair(text string) (string, bool) {
	m := flworPairPattern.FindStringSubmatchIndex(text)
	if m == nil {
		return text, false
	}
	v, _ := submatch(text, m, 1)
	path, _ := submatch(text, m, 2)
	ret1, _ := submatch(text, m, 3)
	letName, _ := submatch(text, m, 4)
	letExpr, _ := submatch(text, m, 5)
	ret2, _ := submatch(text, m, 6)

	ret1 = convertConstructors(strings.TrimSpace(ret1))
	ret2 = convertConstructors(strings.TrimSpace(substituteVar(ret2, letName, letExpr)))
	return text[:m[0]] + "(for $" + v + " in " + strings.TrimSpace(path) + " return " + ret1 + ", " + ret2 + ")", true
}

// wherePredicate rewrites a where condition over $v into a predicate on the
// context item: $v/@a becomes @a, $v/p becomes ./p and $v becomes '.'.
func wherePredicate(cond, v string) string {
	return replaceVarRefs(cond, v, func(rest string) (string, int) {
		if strings.HasPrefix(rest, "/@") {
			return "@", 2
		}
		return ".", 0
	})
}

// substituteVar replaces every reference to $name with expr. References
// to longer names sharing the prefix are left alone.
func substituteVar(text, name, expr string) string {
	expr = strings.TrimSpace(expr)
	if hasTopLevelSpace(expr) {
		expr = "(" + expr + ")"
	}
	return replaceVarRefs(text, name, func(string) (string, int) {
		return expr, 0
	})
}

// replaceVarRefs calls repl for each $name reference outside string
// literals. repl sees the text following the reference and returns the
// replacement plus how many of those following bytes it consumes.
func replaceVarRefs(text, name string, repl func(rest string) (string, int)) string {
	ref := "$" + name
	var sb strings.Builder
	var quote byte
	for i := 0; i < len(text); {
		ch := text[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			sb.WriteByte(ch)
			i++
			continue
		}
		if ch == '"' || ch == '\'' {
			quote = ch
			sb.WriteByte(ch)
			i++
			continue
		}
		if strings.HasPrefix(text[i:], ref) {
			end := i + len(ref)
			if end >= len(text) || !isNameChar(text[end]) {
				out, skip := repl(text[end:])
				sb.WriteString(out)
				i = end + skip
				continue
			}
		}
		sb.WriteByte(ch)
		i++
	}
	return sb.String()
}

// convertConstructors replaces direct element constructors in expr with
// concat() expressions producing the same markup as a string.
func convertConstructors(expr string) string {
	var sb strings.Builder
	for i := 0; i < len(expr); {
		ch := expr[i]
		if ch == '"' || ch == '\'' {
			end := skipStringLiteral(expr, i)
			sb.WriteString(expr[i:end])
			i = end
			continue
		}
		if ch == '<' && i+1 < len(expr) && isNameStart(expr[i+1]) {
			if end := constructorEnd(expr, i); end > 0 {
				if tokens, err := Tokenize(expr[i:end]); err == nil {
					sb.WriteString(concatExpr(tokens, convertConstructors))
					i = end
					continue
				}
			}
		}
		sb.WriteByte(ch)
		i++
	}
	return sb.String()
}

// constructorEnd returns the offset just past the element constructor
// starting at start, or -1 when it is not a complete constructor.
func constructorEnd(expr string, start int) int {
	depth := 0
	for i := start; i < len(expr); {
		switch {
		case expr[i] == '{':
			end := closingBrace(expr, i)
			if end < 0 {
				return -1
			}
			i = end + 1
		case strings.HasPrefix(expr[i:], "</"):
			gt := strings.IndexByte(expr[i:], '>')
			if gt < 0 {
				return -1
			}
			depth--
			i += gt + 1
			if depth == 0 {
				return i
			}
		case expr[i] == '<' && i+1 < len(expr) && isNameStart(expr[i+1]):
			gt := tagEnd(expr, i)
			if gt < 0 {
				return -1
			}
			if expr[gt-1] == '/' {
				if depth == 0 {
					return gt + 1
				}
			} else {
				depth++
			}
			i = gt + 1
		default:
			if depth == 0 {
				return -1
			}
			i++
		}
	}
	return -1
}

// tagEnd returns the index of the '>' closing the start tag at i.
func tagEnd(expr string, i int) int {
	var quote byte
	for j := i + 1; j < len(expr); j++ {
		ch := expr[j]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case '<':
			return -1
		case '>':
			return j
		}
	}
	return -1
}

func skipStringLiteral(expr string, i int) int {
	quote := expr[i]
	for j := i + 1; j < len(expr); j++ {
		if expr[j] == quote {
			if j+1 < len(expr) && expr[j+1] == quote {
				j++
				continue
			}
			return j + 1
		}
	}
	return len(expr)
}

// normalizeBraces turns enclosed-expression braces left at the outermost
// level of expr into parentheses. Braces inside string literals are kept.
func normalizeBraces(expr string) string {
	b := []byte(expr)
	depth := 0
	var quote byte
	for i := 0; i < len(b); i++ {
		ch := b[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case '{':
			if depth == 0 {
				b[i] = '('
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					b[i] = ')'
				}
			}
		}
	}
	return string(b)
}

func hasTopLevelSpace(expr string) bool {
	depth := 0
	var quote byte
	for i := 0; i < len(expr); i++ {
		ch := expr[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ' ', '\t', '\n', '\r':
			if depth == 0 {
				return true
			}
		}
	}
	return false
}

func isNameStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch >= 0x80
}

func isNameChar(ch byte) bool {
	return isNameStart(ch) || (ch >= '0' && ch <= '9') || ch == '-' || ch == '.'
}
