package xquery

import (
	"strconv"
	"strings"
)

type Parser struct {
	text  string
	lexer *Lexer
}

func NewParser(text string) *Parser {
	return &Parser{text: text, lexer: NewLexer(text)}
}

// Parse reads one complete expression. Trailing input is an error.
func (p *Parser) Parse() Expr {
	if p.lexer.Peek().Kind == TokEOF {
		raise("XPST0003", "empty expression")
	}
	expr := p.parseExpr()
	if tok := p.lexer.Peek(); tok.Kind != TokEOF {
		raise("XPST0003", "unexpected %s at %d", describe(tok), tok.Pos)
	}
	return expr
}

func (p *Parser) isName(val string) bool {
	return p.lexer.Is(TokName, val)
}

func (p *Parser) isPunct(val string) bool {
	return p.lexer.Is(TokPunct, val)
}

func (p *Parser) expectName(val string) {
	p.lexer.Expect(TokName, val)
}

func (p *Parser) parseExpr() Expr {
	first := p.parseExprSingle()
	if !p.isPunct(",") {
		return first
	}
	items := []Expr{first}
	for p.isPunct(",") {
		p.lexer.Next()
		items = append(items, p.parseExprSingle())
	}
	return SequenceExpr{Items: items}
}

func (p *Parser) parseExprSingle() Expr {
	tok := p.lexer.Peek()
	if tok.Kind == TokName {
		next := p.lexer.PeekAt(1)
		switch tok.Val {
		case "for", "let":
			if next.Kind == TokVar {
				return p.parseFLWOR()
			}
		case "some", "every":
			if next.Kind == TokVar {
				return p.parseQuantified()
			}
		case "if":
			if next.Kind == TokPunct && next.Val == "(" {
				return p.parseIf()
			}
		}
	}
	return p.parseOr()
}

func (p *Parser) parseFLWOR() Expr {
	var clauses []FLWORClause
	for {
		switch {
		case p.isName("for") && p.lexer.PeekAt(1).Kind == TokVar:
			p.lexer.Next()
			for {
				clause := FLWORClause{Kind: "for", Name: p.lexer.Expect(TokVar, "").Val}
				if p.isName("at") {
					p.lexer.Next()
					clause.PosVar = p.lexer.Expect(TokVar, "").Val
				}
				p.expectName("in")
				clause.Expr = p.parseExprSingle()
				clauses = append(clauses, clause)
				if !p.isPunct(",") {
					break
				}
				p.lexer.Next()
			}
		case p.isName("let") && p.lexer.PeekAt(1).Kind == TokVar:
			p.lexer.Next()
			for {
				name := p.lexer.Expect(TokVar, "").Val
				p.lexer.Expect(TokOp, ":=")
				clauses = append(clauses, FLWORClause{Kind: "let", Name: name, Expr: p.parseExprSingle()})
				if !p.isPunct(",") {
					break
				}
				p.lexer.Next()
			}
		case p.isName("where"):
			p.lexer.Next()
			clauses = append(clauses, FLWORClause{Kind: "where", Expr: p.parseExprSingle()})
		default:
			var order []OrderSpec
			if p.isName("stable") {
				p.lexer.Next()
			}
			if p.isName("order") {
				p.lexer.Next()
				p.expectName("by")
				order = p.parseOrderSpecs()
			}
			p.expectName("return")
			return FLWORExpr{Clauses: clauses, OrderBy: order, Return: p.parseExprSingle()}
		}
	}
}

func (p *Parser) parseOrderSpecs() []OrderSpec {
	var specs []OrderSpec
	for {
		spec := OrderSpec{Key: p.parseExprSingle()}
		if p.isName("ascending") {
			p.lexer.Next()
		} else if p.isName("descending") {
			p.lexer.Next()
			spec.Descending = true
		}
		if p.isName("empty") {
			p.lexer.Next()
			switch p.lexer.Expect(TokName, "").Val {
			case "greatest":
				spec.EmptyGreatest = true
			case "least":
			default:
				raise("XPST0003", "expected greatest or least after empty")
			}
		}
		specs = append(specs, spec)
		if !p.isPunct(",") {
			return specs
		}
		p.lexer.Next()
	}
}

func (p *Parser) parseQuantified() Expr {
	every := p.lexer.Next().Val == "every"
	var bindings []Binding
	for {
		name := p.lexer.Expect(TokVar, "").Val
		p.expectName("in")
		bindings = append(bindings, Binding{Name: name, Expr: p.parseExprSingle()})
		if !p.isPunct(",") {
			break
		}
		p.lexer.Next()
	}
	p.expectName("satisfies")
	return QuantifiedExpr{Every: every, Bindings: bindings, Satisfies: p.parseExprSingle()}
}

func (p *Parser) parseIf() Expr {
	p.expectName("if")
	p.lexer.Expect(TokPunct, "(")
	cond := p.parseExpr()
	p.lexer.Expect(TokPunct, ")")
	p.expectName("then")
	thenExpr := p.parseExprSingle()
	p.expectName("else")
	elseExpr := p.parseExprSingle()
	return IfExpr{Cond: cond, ThenExpr: thenExpr, ElseExpr: elseExpr}
}

func (p *Parser) parseOr() Expr {
	expr := p.parseAnd()
	for p.isName("or") {
		p.lexer.Next()
		expr = BinaryOp{Op: "or", Left: expr, Right: p.parseAnd()}
	}
	return expr
}

func (p *Parser) parseAnd() Expr {
	expr := p.parseComparison()
	for p.isName("and") {
		p.lexer.Next()
		expr = BinaryOp{Op: "and", Left: expr, Right: p.parseComparison()}
	}
	return expr
}

var comparisonOps = map[string]bool{
	"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
	"<<": true, ">>": true,
	"eq": true, "ne": true, "lt": true, "le": true, "gt": true, "ge": true,
	"is": true,
}

func (p *Parser) parseComparison() Expr {
	expr := p.parseStringConcat()
	tok := p.lexer.Peek()
	if (tok.Kind == TokOp || tok.Kind == TokName) && comparisonOps[tok.Val] {
		p.lexer.Next()
		return BinaryOp{Op: tok.Val, Left: expr, Right: p.parseStringConcat()}
	}
	return expr
}

func (p *Parser) parseStringConcat() Expr {
	expr := p.parseRange()
	for p.lexer.Is(TokOp, "||") {
		p.lexer.Next()
		expr = BinaryOp{Op: "||", Left: expr, Right: p.parseRange()}
	}
	return expr
}

func (p *Parser) parseRange() Expr {
	expr := p.parseAdditive()
	if p.isName("to") {
		p.lexer.Next()
		return BinaryOp{Op: "to", Left: expr, Right: p.parseAdditive()}
	}
	return expr
}

func (p *Parser) parseAdditive() Expr {
	expr := p.parseMultiplicative()
	for p.lexer.Is(TokOp, "+") || p.lexer.Is(TokOp, "-") {
		op := p.lexer.Next().Val
		expr = BinaryOp{Op: op, Left: expr, Right: p.parseMultiplicative()}
	}
	return expr
}

func (p *Parser) parseMultiplicative() Expr {
	expr := p.parseUnion()
	for {
		tok := p.lexer.Peek()
		if (tok.Kind == TokOp && tok.Val == "*") ||
			(tok.Kind == TokName && (tok.Val == "div" || tok.Val == "idiv" || tok.Val == "mod")) {
			p.lexer.Next()
			expr = BinaryOp{Op: tok.Val, Left: expr, Right: p.parseUnion()}
			continue
		}
		return expr
	}
}

func (p *Parser) parseUnion() Expr {
	expr := p.parseIntersectExcept()
	for p.lexer.Is(TokOp, "|") || p.isName("union") {
		p.lexer.Next()
		expr = BinaryOp{Op: "union", Left: expr, Right: p.parseIntersectExcept()}
	}
	return expr
}

func (p *Parser) parseIntersectExcept() Expr {
	expr := p.parseUnary()
	for p.isName("intersect") || p.isName("except") {
		op := p.lexer.Next().Val
		expr = BinaryOp{Op: op, Left: expr, Right: p.parseUnary()}
	}
	return expr
}

func (p *Parser) parseUnary() Expr {
	if p.lexer.Is(TokOp, "-") {
		p.lexer.Next()
		return UnaryOp{Op: "-", Expr: p.parseUnary()}
	}
	if p.lexer.Is(TokOp, "+") {
		p.lexer.Next()
		return UnaryOp{Op: "+", Expr: p.parseUnary()}
	}
	return p.parseSimpleMap()
}

func (p *Parser) parseSimpleMap() Expr {
	expr := p.parsePath()
	for p.lexer.Is(TokOp, "!") {
		p.lexer.Next()
		expr = BinaryOp{Op: "!", Left: expr, Right: p.parsePath()}
	}
	return expr
}

func (p *Parser) parsePath() Expr {
	tok := p.lexer.Peek()
	if tok.Kind == TokSlash && tok.Val == "/" {
		p.lexer.Next()
		if !p.stepFollows() {
			return PathExpr{Rooted: true}
		}
		return PathExpr{Rooted: true, Steps: p.parseRelative()}
	}
	if tok.Kind == TokSlash && tok.Val == "//" {
		p.lexer.Next()
		steps := append([]Expr{descendantOrSelfStep()}, p.parseRelative()...)
		return PathExpr{Rooted: true, Steps: steps}
	}
	steps := p.parseRelative()
	if len(steps) == 1 {
		if _, ok := steps[0].(AxisStep); !ok {
			return steps[0]
		}
	}
	return PathExpr{Steps: steps}
}

// stepFollows reports whether a lone "/" is followed by a relative path.
func (p *Parser) stepFollows() bool {
	tok := p.lexer.Peek()
	switch tok.Kind {
	case TokName, TokAt, TokDot, TokVar, TokString, TokNumber:
		return true
	case TokOp:
		return tok.Val == "*"
	case TokPunct:
		return tok.Val == "("
	}
	return false
}

func (p *Parser) parseRelative() []Expr {
	steps := []Expr{p.parseStep()}
	for p.lexer.Peek().Kind == TokSlash {
		if p.lexer.Next().Val == "//" {
			steps = append(steps, descendantOrSelfStep())
		}
		steps = append(steps, p.parseStep())
	}
	return steps
}

func (p *Parser) parseStep() Expr {
	tok := p.lexer.Peek()
	switch tok.Kind {
	case TokDot:
		p.lexer.Next()
		if tok.Val == ".." {
			return AxisStep{Axis: "parent", Test: NodeTest{Kind: "node"}, Predicates: p.parsePredicates()}
		}
		return p.parsePostfix(ContextItem{})
	case TokAt:
		p.lexer.Next()
		return AxisStep{Axis: "attribute", Test: p.parseNodeTest(), Predicates: p.parsePredicates()}
	case TokOp:
		if tok.Val == "*" {
			return AxisStep{Axis: "child", Test: p.parseNodeTest(), Predicates: p.parsePredicates()}
		}
	case TokName:
		next := p.lexer.PeekAt(1)
		if next.Kind == TokPunct && next.Val == "::" {
			if !axisNames[tok.Val] {
				raise("XPST0003", "unknown axis %s at %d", tok.Val, tok.Pos)
			}
			p.lexer.Next()
			p.lexer.Next()
			return AxisStep{Axis: tok.Val, Test: p.parseNodeTest(), Predicates: p.parsePredicates()}
		}
		if next.Kind == TokPunct && next.Val == "(" {
			if kind, ok := kindTests[tok.Val]; ok {
				axis := "child"
				if kind == "attribute" {
					axis = "attribute"
				}
				return AxisStep{Axis: axis, Test: p.parseNodeTest(), Predicates: p.parsePredicates()}
			}
			return p.parsePostfix(p.parseFuncCall())
		}
		return AxisStep{Axis: "child", Test: p.parseNodeTest(), Predicates: p.parsePredicates()}
	}
	return p.parsePostfix(p.parsePrimary())
}

func (p *Parser) parseNodeTest() NodeTest {
	tok := p.lexer.Next()
	if tok.Kind == TokOp && tok.Val == "*" {
		return NodeTest{Kind: "wildcard"}
	}
	if tok.Kind != TokName {
		raise("XPST0003", "expected node test at %d, found %s", tok.Pos, describe(tok))
	}
	if kind, ok := kindTests[tok.Val]; ok && p.isPunct("(") {
		p.lexer.Next()
		test := NodeTest{Kind: kind}
		if !p.isPunct(")") {
			arg := p.lexer.Next()
			switch {
			case kind == "document":
				// document-node(element(...)) is accepted and treated as document-node().
				depth := 1
				for depth > 0 {
					switch t := p.lexer.Next(); {
					case t.Kind == TokEOF:
						raise("XPST0003", "unterminated document-node test")
					case t.Kind == TokPunct && t.Val == "(":
						depth++
					case t.Kind == TokPunct && t.Val == ")":
						depth--
					}
				}
				return test
			case arg.Kind == TokName || arg.Kind == TokString:
				test.Prefix, test.Local = splitQName(arg.Val)
			case arg.Kind == TokOp && arg.Val == "*":
			default:
				raise("XPST0003", "unexpected %s in %s() test", describe(arg), tok.Val)
			}
		}
		p.lexer.Expect(TokPunct, ")")
		return test
	}
	prefix, local := splitQName(tok.Val)
	return NodeTest{Kind: "name", Prefix: prefix, Local: local}
}

func splitQName(name string) (prefix, local string) {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func (p *Parser) parsePredicates() []Expr {
	var preds []Expr
	for p.isPunct("[") {
		p.lexer.Next()
		preds = append(preds, p.parseExpr())
		p.lexer.Expect(TokPunct, "]")
	}
	return preds
}

func (p *Parser) parsePostfix(primary Expr) Expr {
	preds := p.parsePredicates()
	if len(preds) == 0 {
		return primary
	}
	return FilterExpr{Primary: primary, Predicates: preds}
}

func (p *Parser) parsePrimary() Expr {
	tok := p.lexer.Peek()
	switch tok.Kind {
	case TokNumber:
		p.lexer.Next()
		return Literal{Value: mustParseFloat(tok.Val)}
	case TokString:
		p.lexer.Next()
		return Literal{Value: tok.Val}
	case TokVar:
		p.lexer.Next()
		return VarRef{Name: tok.Val}
	case TokPunct:
		if tok.Val == "(" {
			p.lexer.Next()
			if p.isPunct(")") {
				p.lexer.Next()
				return SequenceExpr{}
			}
			expr := p.parseExpr()
			p.lexer.Expect(TokPunct, ")")
			return expr
		}
	}
	raise("XPST0003", "unexpected %s at %d", describe(tok), tok.Pos)
	return nil
}

func (p *Parser) parseFuncCall() Expr {
	name := p.lexer.Expect(TokName, "").Val
	p.lexer.Expect(TokPunct, "(")
	args := []Expr{}
	if !p.isPunct(")") {
		args = append(args, p.parseExprSingle())
		for p.isPunct(",") {
			p.lexer.Next()
			args = append(args, p.parseExprSingle())
		}
	}
	p.lexer.Expect(TokPunct, ")")
	return FuncCall{Name: strings.TrimPrefix(name, "fn:"), Args: args}
}

func mustParseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		raise("XPST0003", "invalid number %s", s)
	}
	return f
}
