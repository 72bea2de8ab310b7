package xquery

import (
	"reflect"
	"testing"
)

func TestLexer(t *testing.T) {
	tests := []struct {
		src  string
		want []Token
	}{
		{"//a[@b != 1]", []Token{
			{TokSlash, "//", 0}, {TokName, "a", 2}, {TokPunct, "[", 3}, {TokAt, "@", 4},
			{TokName, "b", 5}, {TokOp, "!=", 7}, {TokNumber, "1", 10}, {TokPunct, "]", 11}, {TokEOF, "", 12},
		}},
		{"$x (: a (: nested :) comment :) := 'it''s'", []Token{
			{TokVar, "x", 0}, {TokOp, ":=", 32}, {TokString, "it's", 35}, {TokEOF, "", 42},
		}},
		{"child::p:* | *:b", []Token{
			{TokName, "child", 0}, {TokPunct, "::", 5}, {TokName, "p:*", 7}, {TokOp, "|", 11},
			{TokName, "*:b", 13}, {TokEOF, "", 16},
		}},
		{"../.5e1", []Token{
			{TokDot, "..", 0}, {TokSlash, "/", 2}, {TokNumber, ".5e1", 3}, {TokEOF, "", 7},
		}},
	}
	for _, tt := range tests {
		if got := NewLexer(tt.src).All(); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("All(%q) =\n%v\nwant\n%v", tt.src, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		src  string
		want Expr
	}{
		{"1 + 2 * 3", BinaryOp{Op: "+", Left: Literal{Value: 1.0}, Right: BinaryOp{Op: "*", Left: Literal{Value: 2.0}, Right: Literal{Value: 3.0}}}},
		{"a", PathExpr{Steps: []Expr{AxisStep{Axis: "child", Test: NodeTest{Kind: "name", Local: "a"}}}}},
		{"$v", VarRef{Name: "v"}},
		{"/", PathExpr{Rooted: true}},
		{"//p:a/@*", PathExpr{Rooted: true, Steps: []Expr{
			descendantOrSelfStep(),
			AxisStep{Axis: "child", Test: NodeTest{Kind: "name", Prefix: "p", Local: "a"}},
			AxisStep{Axis: "attribute", Test: NodeTest{Kind: "wildcard"}},
		}}},
		{"fn:count(())", FuncCall{Name: "count", Args: []Expr{SequenceExpr{}}}},
		{"attribute(id)", PathExpr{Steps: []Expr{AxisStep{Axis: "attribute", Test: NodeTest{Kind: "attribute", Local: "id"}}}}},
		{"a | b union c", BinaryOp{Op: "union",
			Left: BinaryOp{Op: "union",
				Left:  PathExpr{Steps: []Expr{AxisStep{Axis: "child", Test: NodeTest{Kind: "name", Local: "a"}}}},
				Right: PathExpr{Steps: []Expr{AxisStep{Axis: "child", Test: NodeTest{Kind: "name", Local: "b"}}}}},
			Right: PathExpr{Steps: []Expr{AxisStep{Axis: "child", Test: NodeTest{Kind: "name", Local: "c"}}}}}},
		{"if (1) then 2 else 3", IfExpr{Cond: Literal{Value: 1.0}, ThenExpr: Literal{Value: 2.0}, ElseExpr: Literal{Value: 3.0}}},
	}
	for _, tt := range tests {
		if got := NewParser(tt.src).Parse(); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Parse(%q) =\n%#v\nwant\n%#v", tt.src, got, tt.want)
		}
	}
}

func TestParseFLWORClauses(t *testing.T) {
	expr := NewParser("for $a at $i in (1, 2) let $b := $a where $b > 1 stable order by $b descending empty greatest return $i").Parse()
	f, ok := expr.(FLWORExpr)
	if !ok {
		t.Fatalf("Parse returned %T", expr)
	}
	kinds := []string{}
	for _, c := range f.Clauses {
		kinds = append(kinds, c.Kind)
	}
	if !reflect.DeepEqual(kinds, []string{"for", "let", "where"}) {
		t.Errorf("clauses = %v", kinds)
	}
	if f.Clauses[0].PosVar != "i" {
		t.Errorf("positional variable = %q", f.Clauses[0].PosVar)
	}
	if len(f.OrderBy) != 1 || !f.OrderBy[0].Descending || !f.OrderBy[0].EmptyGreatest {
		t.Errorf("order by = %#v", f.OrderBy)
	}
}

func TestCompileError(t *testing.T) {
	for _, src := range []string{"", "(", "a[", "for $x in", "1 = 2 = 3", "$", "1abc"} {
		if _, err := Compile(src); err == nil {
			t.Errorf("Compile(%q) succeeded", src)
		}
	}
}
