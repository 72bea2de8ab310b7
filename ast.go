package xquery

type Expr interface{}

type Literal struct{ Value any }

type VarRef struct{ Name string }

type ContextItem struct{}

type SequenceExpr struct{ Items []Expr }

type Binding struct {
	Name string
	Expr Expr
}

// FLWORClause is one for, let or where clause. PosVar names the optional
// "at $i" variable of a for clause.
type FLWORClause struct {
	Kind   string
	Name   string
	PosVar string
	Expr   Expr
}

type OrderSpec struct {
	Key           Expr
	Descending    bool
	EmptyGreatest bool
}

type FLWORExpr struct {
	Clauses []FLWORClause
	OrderBy []OrderSpec
	Return  Expr
}

type QuantifiedExpr struct {
	Every     bool
	Bindings  []Binding
	Satisfies Expr
}

type IfExpr struct {
	Cond     Expr
	ThenExpr Expr
	ElseExpr Expr
}

type UnaryOp struct {
	Op   string
	Expr Expr
}

type BinaryOp struct {
	Op    string
	Left  Expr
	Right Expr
}

type FuncCall struct {
	Name string
	Args []Expr
}

// FilterExpr applies predicates to the whole sequence of Primary, so
// positions count across the sequence rather than per step.
type FilterExpr struct {
	Primary    Expr
	Predicates []Expr
}

// PathExpr chains steps left to right. Rooted paths start at the root of
// the context node.
type PathExpr struct {
	Rooted bool
	Steps  []Expr
}

type AxisStep struct {
	Axis       string
	Test       NodeTest
	Predicates []Expr
}

// NodeTest kinds: name, wildcard, node, text, comment, pi, element,
// attribute, document. For name tests Prefix "*" matches any namespace and
// Local "*" matches any local name.
type NodeTest struct {
	Kind   string
	Prefix string
	Local  string
}

var reverseAxes = map[string]bool{
	"parent":            true,
	"ancestor":          true,
	"ancestor-or-self":  true,
	"preceding":         true,
	"preceding-sibling": true,
}

var axisNames = map[string]bool{
	"child":              true,
	"descendant":         true,
	"descendant-or-self": true,
	"self":               true,
	"attribute":          true,
	"parent":             true,
	"ancestor":           true,
	"ancestor-or-self":   true,
	"following":          true,
	"following-sibling":  true,
	"preceding":          true,
	"preceding-sibling":  true,
}

var kindTests = map[string]string{
	"node":                   "node",
	"text":                   "text",
	"comment":                "comment",
	"processing-instruction": "pi",
	"element":                "element",
	"attribute":              "attribute",
	"document-node":          "document",
}

func descendantOrSelfStep() AxisStep {
	return AxisStep{Axis: "descendant-or-self", Test: NodeTest{Kind: "node"}}
}
