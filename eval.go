package xquery

import (
	"errors"
	"math"
	"sort"
	"strings"
)

// Context is the dynamic context of an evaluation. It is copied by value,
// so binding a variable never leaks into the caller's scope.
type Context struct {
	Item       any
	Position   int
	Size       int
	Variables  map[string][]any
	Namespaces map[string]string
	DefaultNS  string
	LoadDoc    func(path string) (*Node, error)
}

// untypedAtomic is the atomized value of a node. It compares as a number
// against numbers and as a string against everything else.
type untypedAtomic string

// Compiled is a parsed expression ready for evaluation.
type Compiled struct {
	Source string
	expr   Expr
}

func Compile(src string) (c *Compiled, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, &ExpressionParseError{Expr: src, Err: recoveredError(r)}
		}
	}()
	return &Compiled{Source: src, expr: NewParser(src).Parse()}, nil
}

// Evaluate runs the expression. A missing document raised by doc() is
// returned as is; every other failure becomes an EvaluationError.
func (c *Compiled) Evaluate(ctx Context) (items []any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoveredError(r)
			var docErr *DocumentNotFoundError
			if !errors.As(err, &docErr) {
				err = &EvaluationError{Expr: c.Source, Err: err}
			}
			items = nil
		}
	}()
	if ctx.Variables == nil {
		ctx.Variables = map[string][]any{}
	}
	return EvalExpr(c.expr, ctx), nil
}

func EvalExpr(expr Expr, ctx Context) []any {
	switch e := expr.(type) {
	case Literal:
		return []any{e.Value}
	case VarRef:
		if v, ok := ctx.Variables[e.Name]; ok {
			return v
		}
		raise("XPST0008", "undefined variable $%s", e.Name)
	case ContextItem:
		if ctx.Item == nil {
			raise("XPDY0002", "context item is absent")
		}
		return []any{ctx.Item}
	case SequenceExpr:
		out := []any{}
		for _, item := range e.Items {
			out = append(out, EvalExpr(item, ctx)...)
		}
		return out
	case FLWORExpr:
		return evalFLWOR(e, ctx)
	case QuantifiedExpr:
		return []any{evalQuantified(e, e.Bindings, ctx)}
	case IfExpr:
		if ToBoolean(EvalExpr(e.Cond, ctx)) {
			return EvalExpr(e.ThenExpr, ctx)
		}
		return EvalExpr(e.ElseExpr, ctx)
	case UnaryOp:
		v := EvalExpr(e.Expr, ctx)
		n, ok := arithmeticOperand(v)
		if !ok {
			return []any{}
		}
		if e.Op == "-" {
			return []any{-n}
		}
		return []any{n}
	case BinaryOp:
		return evalBinary(e, ctx)
	case FuncCall:
		args := make([][]any, len(e.Args))
		for i, arg := range e.Args {
			args[i] = EvalExpr(arg, ctx)
		}
		return CallFunction(e.Name, args, ctx)
	case FilterExpr:
		seq := EvalExpr(e.Primary, ctx)
		for _, pred := range e.Predicates {
			seq = applyPredicate(seq, pred, ctx)
		}
		return seq
	case PathExpr:
		return evalPath(e, ctx)
	case AxisStep:
		return evalAxisStep(e, ctx)
	}
	raise("XPST0003", "unsupported expression %T", expr)
	return nil
}

func bind(ctx Context, name string, value []any) Context {
	vars := copyVars(ctx.Variables)
	vars[name] = value
	ctx.Variables = vars
	return ctx
}

func evalFLWOR(e FLWORExpr, ctx Context) []any {
	tuples := []Context{ctx}
	for _, clause := range e.Clauses {
		var next []Context
		for _, t := range tuples {
			switch clause.Kind {
			case "for":
				seq := EvalExpr(clause.Expr, t)
				for i, item := range seq {
					bound := bind(t, clause.Name, []any{item})
					if clause.PosVar != "" {
						bound.Variables[clause.PosVar] = []any{float64(i + 1)}
					}
					next = append(next, bound)
				}
			case "let":
				next = append(next, bind(t, clause.Name, EvalExpr(clause.Expr, t)))
			case "where":
				if ToBoolean(EvalExpr(clause.Expr, t)) {
					next = append(next, t)
				}
			}
		}
		tuples = next
	}
	if len(e.OrderBy) > 0 {
		tuples = orderTuples(tuples, e.OrderBy)
	}
	out := []any{}
	for _, t := range tuples {
		out = append(out, EvalExpr(e.Return, t)...)
	}
	return out
}

func orderTuples(tuples []Context, specs []OrderSpec) []Context {
	keys := make([][]any, len(tuples))
	for i, t := range tuples {
		keys[i] = make([]any, len(specs))
		for j, spec := range specs {
			v := atomize(EvalExpr(spec.Key, t))
			if len(v) > 1 {
				raise("XPTY0004", "order by key is a sequence of %d items", len(v))
			}
			if len(v) == 1 {
				keys[i][j] = v[0]
			}
		}
	}
	idx := make([]int, len(tuples))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for j, spec := range specs {
			c := compareKeys(keys[idx[a]][j], keys[idx[b]][j], spec.EmptyGreatest)
			if c == 0 {
				continue
			}
			if spec.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	out := make([]Context, len(tuples))
	for i, k := range idx {
		out[i] = tuples[k]
	}
	return out
}

func compareKeys(a, b any, emptyGreatest bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		if emptyGreatest {
			return 1
		}
		return -1
	case b == nil:
		if emptyGreatest {
			return -1
		}
		return 1
	}
	if x, ok := a.(float64); ok {
		if y, ok := b.(float64); ok {
			return compareFloat(x, y)
		}
	}
	return strings.Compare(atomicString(a), atomicString(b))
}

func compareFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func evalQuantified(e QuantifiedExpr, bindings []Binding, ctx Context) bool {
	if len(bindings) == 0 {
		return ToBoolean(EvalExpr(e.Satisfies, ctx))
	}
	for _, item := range EvalExpr(bindings[0].Expr, ctx) {
		ok := evalQuantified(e, bindings[1:], bind(ctx, bindings[0].Name, []any{item}))
		if ok != e.Every {
			return ok
		}
	}
	return e.Every
}

func evalBinary(e BinaryOp, ctx Context) []any {
	switch e.Op {
	case "or":
		return []any{ToBoolean(EvalExpr(e.Left, ctx)) || ToBoolean(EvalExpr(e.Right, ctx))}
	case "and":
		return []any{ToBoolean(EvalExpr(e.Left, ctx)) && ToBoolean(EvalExpr(e.Right, ctx))}
	case "!":
		left := EvalExpr(e.Left, ctx)
		out := []any{}
		for i, item := range left {
			inner := ctx
			inner.Item, inner.Position, inner.Size = item, i+1, len(left)
			out = append(out, EvalExpr(e.Right, inner)...)
		}
		return out
	}

	left := EvalExpr(e.Left, ctx)
	right := EvalExpr(e.Right, ctx)
	switch e.Op {
	case "=", "!=", "<", "<=", ">", ">=":
		return []any{generalCompare(e.Op, left, right)}
	case "eq", "ne", "lt", "le", "gt", "ge":
		return valueCompare(e.Op, left, right)
	case "is", "<<", ">>":
		return nodeCompare(e.Op, left, right)
	case "||":
		return []any{ToString(left) + ToString(right)}
	case "to":
		return rangeSeq(left, right)
	case "+", "-", "*", "div", "idiv", "mod":
		return arithmetic(e.Op, left, right)
	case "union", "intersect", "except":
		return setOp(e.Op, left, right)
	}
	raise("XPST0003", "unknown operator %s", e.Op)
	return nil
}

var generalToValue = map[string]string{"=": "eq", "!=": "ne", "<": "lt", "<=": "le", ">": "gt", ">=": "ge"}

func generalCompare(op string, left, right []any) bool {
	vop := generalToValue[op]
	l, r := atomize(left), atomize(right)
	for _, a := range l {
		for _, b := range r {
			if compareAtomic(vop, a, b, true) {
				return true
			}
		}
	}
	return false
}

func valueCompare(op string, left, right []any) []any {
	l, r := atomize(left), atomize(right)
	if len(l) == 0 || len(r) == 0 {
		return []any{}
	}
	if len(l) > 1 || len(r) > 1 {
		raise("XPTY0004", "value comparison %s needs single items", op)
	}
	return []any{compareAtomic(op, l[0], r[0], false)}
}

// compareAtomic applies a value comparison operator. In general comparisons
// an untyped operand takes the type of the other side; in value
// comparisons it is a string.
func compareAtomic(op string, a, b any, general bool) bool {
	a, b = promote(a, b, general), promote(b, a, general)
	var c int
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			raise("XPTY0004", "cannot compare number with %s", typeName(b))
		}
		if math.IsNaN(x) || math.IsNaN(y) {
			return op == "ne"
		}
		c = compareFloat(x, y)
	case bool:
		y, ok := b.(bool)
		if !ok {
			raise("XPTY0004", "cannot compare boolean with %s", typeName(b))
		}
		c = compareFloat(boolNumber(x), boolNumber(y))
	case string:
		y, ok := b.(string)
		if !ok {
			raise("XPTY0004", "cannot compare string with %s", typeName(b))
		}
		c = strings.Compare(x, y)
	default:
		raise("XPTY0004", "cannot compare %s", typeName(a))
	}
	switch op {
	case "eq":
		return c == 0
	case "ne":
		return c != 0
	case "lt":
		return c < 0
	case "le":
		return c <= 0
	case "gt":
		return c > 0
	case "ge":
		return c >= 0
	}
	return false
}

func promote(v, other any, general bool) any {
	u, ok := v.(untypedAtomic)
	if !ok {
		return v
	}
	if general {
		switch other.(type) {
		case float64:
			return stringToNumber(string(u))
		case bool:
			return stringToBool(string(u))
		}
	}
	return string(u)
}

func boolNumber(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func nodeCompare(op string, left, right []any) []any {
	if len(left) == 0 || len(right) == 0 {
		return []any{}
	}
	a, ok1 := left[0].(*Node)
	b, ok2 := right[0].(*Node)
	if len(left) > 1 || len(right) > 1 || !ok1 || !ok2 {
		raise("XPTY0004", "%s needs single nodes", op)
	}
	switch op {
	case "is":
		return []any{a == b}
	case "<<":
		return []any{documentLess(a, b)}
	}
	return []any{documentLess(b, a)}
}

func rangeSeq(left, right []any) []any {
	from, ok1 := arithmeticOperand(left)
	to, ok2 := arithmeticOperand(right)
	if !ok1 || !ok2 {
		return []any{}
	}
	if from != math.Trunc(from) || to != math.Trunc(to) {
		raise("XPTY0004", "range bounds must be integers")
	}
	out := []any{}
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

// arithmeticOperand atomizes a single operand to a number. It reports false
// for the empty sequence.
func arithmeticOperand(seq []any) (float64, bool) {
	v := atomize(seq)
	if len(v) == 0 {
		return 0, false
	}
	if len(v) > 1 {
		raise("XPTY0004", "arithmetic operand is a sequence of %d items", len(v))
	}
	switch x := v[0].(type) {
	case float64:
		return x, true
	case untypedAtomic:
		n := stringToNumber(string(x))
		if math.IsNaN(n) && strings.TrimSpace(string(x)) != "NaN" {
			raise("FORG0001", "cannot convert %q to a number", string(x))
		}
		return n, true
	}
	raise("XPTY0004", "arithmetic on %s", typeName(v[0]))
	return 0, false
}

func arithmetic(op string, left, right []any) []any {
	a, ok1 := arithmeticOperand(left)
	b, ok2 := arithmeticOperand(right)
	if !ok1 || !ok2 {
		return []any{}
	}
	switch op {
	case "+":
		return []any{a + b}
	case "-":
		return []any{a - b}
	case "*":
		return []any{a * b}
	case "div":
		return []any{a / b}
	case "idiv":
		if b == 0 {
			raise("FOAR0001", "integer division by zero")
		}
		return []any{math.Trunc(a / b)}
	case "mod":
		return []any{math.Mod(a, b)}
	}
	return nil
}

func setOp(op string, left, right []any) []any {
	l, r := nodesOf(left, op), nodesOf(right, op)
	switch op {
	case "union":
		return sortDocOrder(append(append([]any{}, l...), r...))
	case "intersect", "except":
		in := map[*Node]bool{}
		for _, n := range r {
			in[n.(*Node)] = true
		}
		var out []any
		for _, n := range l {
			if in[n.(*Node)] == (op == "intersect") {
				out = append(out, n)
			}
		}
		return sortDocOrder(out)
	}
	return nil
}

func nodesOf(seq []any, op string) []any {
	for _, item := range seq {
		if _, ok := item.(*Node); !ok {
			raise("XPTY0004", "%s operand contains %s", op, typeName(item))
		}
	}
	return seq
}

func applyPredicate(seq []any, pred Expr, ctx Context) []any {
	out := []any{}
	for i, item := range seq {
		inner := ctx
		inner.Item, inner.Position, inner.Size = item, i+1, len(seq)
		v := EvalExpr(pred, inner)
		if len(v) == 1 {
			if n, ok := v[0].(float64); ok {
				if n == float64(i+1) {
					out = append(out, item)
				}
				continue
			}
		}
		if ToBoolean(v) {
			out = append(out, item)
		}
	}
	return out
}

func evalPath(e PathExpr, ctx Context) []any {
	steps := e.Steps
	var current []any
	if e.Rooted {
		node, ok := ctx.Item.(*Node)
		if !ok {
			raise("XPDY0050", "path starting with / needs a node as context item")
		}
		current = []any{node.Root()}
	} else {
		current = normalizeStep(EvalExpr(steps[0], ctx))
		steps = steps[1:]
	}
	for _, step := range steps {
		out := []any{}
		for i, item := range current {
			if _, ok := item.(*Node); !ok {
				raise("XPTY0019", "path step applied to %s", typeName(item))
			}
			inner := ctx
			inner.Item, inner.Position, inner.Size = item, i+1, len(current)
			out = append(out, EvalExpr(step, inner)...)
		}
		current = normalizeStep(out)
	}
	return current
}

// normalizeStep puts node results in document order without duplicates.
// Atomic results are kept as they are; a mix of both is an error.
func normalizeStep(seq []any) []any {
	nodes := 0
	for _, item := range seq {
		if _, ok := item.(*Node); ok {
			nodes++
		}
	}
	switch nodes {
	case 0:
		return seq
	case len(seq):
		return sortDocOrder(seq)
	}
	raise("XPTY0018", "path step returned both nodes and atomic values")
	return nil
}

func evalAxisStep(step AxisStep, ctx Context) []any {
	node, ok := ctx.Item.(*Node)
	if !ok {
		if ctx.Item == nil {
			raise("XPDY0002", "context item is absent for axis step")
		}
		raise("XPTY0020", "axis step on %s", typeName(ctx.Item))
	}
	var matched []any
	for _, c := range axisNodes(node, step.Axis) {
		if matchesTest(step.Test, step.Axis, c, ctx) {
			matched = append(matched, c)
		}
	}
	for _, pred := range step.Predicates {
		matched = applyPredicate(matched, pred, ctx)
	}
	if reverseAxes[step.Axis] {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	return matched
}

// axisNodes lists the nodes on axis from n, in axis order.
func axisNodes(n *Node, axis string) []*Node {
	switch axis {
	case "child":
		return n.Children
	case "attribute":
		return n.Attrs
	case "self":
		return []*Node{n}
	case "descendant":
		return descendants(n, nil)
	case "descendant-or-self":
		return descendants(n, []*Node{n})
	case "parent":
		if n.Parent != nil {
			return []*Node{n.Parent}
		}
		return nil
	case "ancestor":
		return ancestors(n.Parent)
	case "ancestor-or-self":
		return ancestors(n)
	case "following-sibling", "preceding-sibling":
		if n.Parent == nil || n.Kind == "attribute" {
			return nil
		}
		siblings := n.Parent.Children
		i := indexOf(siblings, n)
		if axis == "following-sibling" {
			return siblings[i+1:]
		}
		out := make([]*Node, 0, i)
		for j := i - 1; j >= 0; j-- {
			out = append(out, siblings[j])
		}
		return out
	case "following":
		var out []*Node
		cur := n
		if n.Kind == "attribute" {
			cur = n.Parent
			out = descendants(cur, nil)
		}
		for ; cur != nil && cur.Parent != nil; cur = cur.Parent {
			siblings := cur.Parent.Children
			for _, s := range siblings[indexOf(siblings, cur)+1:] {
				out = append(out, s)
				out = descendants(s, out)
			}
		}
		return sortNodes(out)
	case "preceding":
		anc := map[*Node]bool{}
		for _, a := range ancestors(n) {
			anc[a] = true
		}
		if n.Kind == "attribute" {
			anc[n.Parent] = true
		}
		var out []*Node
		for _, c := range descendants(n.Root(), nil) {
			if c.order < n.order && !anc[c] {
				out = append(out, c)
			}
		}
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		return out
	}
	raise("XPST0003", "unknown axis %s", axis)
	return nil
}

func descendants(n *Node, out []*Node) []*Node {
	for _, c := range n.Children {
		out = append(out, c)
		out = descendants(c, out)
	}
	return out
}

func ancestors(n *Node) []*Node {
	var out []*Node
	for cur := n; cur != nil; cur = cur.Parent {
		out = append(out, cur)
	}
	return out
}

func indexOf(nodes []*Node, n *Node) int {
	for i, c := range nodes {
		if c == n {
			return i
		}
	}
	return -1
}

func matchesTest(test NodeTest, axis string, n *Node, ctx Context) bool {
	principal := "element"
	if axis == "attribute" {
		principal = "attribute"
	}
	switch test.Kind {
	case "node":
		return true
	case "text":
		return n.Kind == "text"
	case "comment":
		return n.Kind == "comment"
	case "pi":
		return n.Kind == "pi" && (test.Local == "" || n.Name == test.Local)
	case "document":
		return n.Kind == "document"
	case "wildcard":
		return n.Kind == principal
	case "element", "attribute":
		if n.Kind != test.Kind {
			return false
		}
		if test.Local == "" {
			return true
		}
		return matchesName(test, n, ctx)
	case "name":
		return n.Kind == principal && matchesName(test, n, ctx)
	}
	return false
}

func matchesName(test NodeTest, n *Node, ctx Context) bool {
	if test.Local != "*" && n.Name != test.Local {
		return false
	}
	switch test.Prefix {
	case "*":
		return true
	case "":
		if n.Kind == "element" {
			return n.Space == ctx.DefaultNS
		}
		return n.Space == ""
	}
	return n.Space == resolvePrefix(test.Prefix, ctx)
}

func resolvePrefix(prefix string, ctx Context) string {
	if uri, ok := ctx.Namespaces[prefix]; ok {
		return uri
	}
	if prefix == "xml" {
		return xmlNamespace
	}
	raise("XPST0081", "namespace prefix %s is not declared", prefix)
	return ""
}

// documentLess orders nodes by document, then by position in it. Documents
// are ordered by when they were parsed.
func documentLess(a, b *Node) bool {
	ra, rb := a.Root(), b.Root()
	if ra != rb {
		return ra.rank < rb.rank
	}
	return a.order < b.order
}

func sortNodes(nodes []*Node) []*Node {
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].order < nodes[j].order })
	return nodes
}

// sortDocOrder deduplicates a node sequence and sorts it into document
// order.
func sortDocOrder(seq []any) []any {
	seen := map[*Node]bool{}
	nodes := make([]*Node, 0, len(seq))
	for _, item := range seq {
		n := item.(*Node)
		if seen[n] {
			continue
		}
		seen[n] = true
		nodes = append(nodes, n)
	}
	sort.SliceStable(nodes, func(i, j int) bool { return documentLess(nodes[i], nodes[j]) })
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = n
	}
	return out
}

func atomize(seq []any) []any {
	out := make([]any, 0, len(seq))
	for _, item := range seq {
		if n, ok := item.(*Node); ok {
			out = append(out, untypedAtomic(n.StringValue()))
			continue
		}
		out = append(out, item)
	}
	return out
}

// ToBoolean computes the effective boolean value of seq.
func ToBoolean(seq []any) bool {
	if len(seq) == 0 {
		return false
	}
	if _, ok := seq[0].(*Node); ok {
		return true
	}
	if len(seq) > 1 {
		raise("FORG0006", "effective boolean value of a sequence of %d atomic values", len(seq))
	}
	switch v := seq[0].(type) {
	case bool:
		return v
	case float64:
		return v != 0 && !math.IsNaN(v)
	case string:
		return v != ""
	case untypedAtomic:
		return v != ""
	}
	raise("FORG0006", "no effective boolean value for %s", typeName(seq[0]))
	return false
}

// ToString returns the string value of the first item of seq, or "" when
// seq is empty.
func ToString(seq []any) string {
	if len(seq) == 0 {
		return ""
	}
	return itemString(seq[0])
}

func itemString(item any) string {
	if n, ok := item.(*Node); ok {
		return n.StringValue()
	}
	return atomicString(item)
}

func atomicString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case untypedAtomic:
		return string(x)
	case float64:
		return formatNumber(x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case nil:
		return ""
	}
	raise("XPTY0004", "no string value for %s", typeName(v))
	return ""
}

func typeName(v any) string {
	switch v.(type) {
	case *Node:
		return "node()"
	case string:
		return "xs:string"
	case untypedAtomic:
		return "xs:untypedAtomic"
	case float64:
		return "xs:double"
	case bool:
		return "xs:boolean"
	}
	return "item()"
}

func copyVars(src map[string][]any) map[string][]any {
	out := make(map[string][]any, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	return out
}
