package xquery

import (
	"log/slog"
	"strings"
)

// Render modes, also used as the metrics "mode" label.
const (
	ModeBare     = "bare"
	ModeTemplate = "template"
	ModeWrapper  = "wrapper"
)

// renderer evaluates the pieces of one query body. Variables bound by the
// prolog and by doc() resolution are shared by every expression it renders.
type renderer struct {
	doc      *Node
	prolog   Prolog
	resolver *Resolver
	vars     map[string][]any
	logger   *slog.Logger
}

func newRenderer(doc *Node, prolog Prolog, resolver *Resolver, logger *slog.Logger) *renderer {
	return &renderer{
		doc:      doc,
		prolog:   prolog,
		resolver: resolver,
		vars:     map[string][]any{},
		logger:   logger,
	}
}

func (r *renderer) context() Context {
	return Context{
		Item:       r.doc,
		Position:   1,
		Size:       1,
		Variables:  r.vars,
		Namespaces: r.prolog.Namespaces,
		DefaultNS:  r.prolog.DefaultElementNS,
		LoadDoc:    r.resolver.Load,
	}
}

// evaluate resolves doc() calls in code and evaluates it against the
// document.
func (r *renderer) evaluate(code string) ([]any, error) {
	code, bound, err := r.resolver.Rewrite(normalizeBraces(code))
	if err != nil {
		return nil, err
	}
	for name, doc := range bound {
		r.vars[name] = []any{doc}
		r.logger.Debug("resolved document", "var", name, "children", len(doc.Children))
	}
	compiled, err := Compile(code)
	if err != nil {
		return nil, err
	}
	return compiled.Evaluate(r.context())
}

// bindProlog evaluates declared variables in declaration order, so later
// declarations can refer to earlier ones.
func (r *renderer) bindProlog() error {
	for _, decl := range r.prolog.Variables {
		seq, err := r.evaluate(convertConstructors(rewriteFLWOR(decl.Expr)))
		if err != nil {
			return err
		}
		r.vars[decl.Name] = seq
	}
	return nil
}

// render picks the rendering mode for body and returns its results.
func (r *renderer) render(body string) (string, []string, error) {
	if err := r.bindProlog(); err != nil {
		return ModeBare, nil, err
	}
	if tag, inner, ok := unwrapOuter(body); ok {
		out, err := r.renderWrapped(tag, inner)
		if err != nil {
			return ModeWrapper, nil, err
		}
		return ModeWrapper, []string{out}, nil
	}
	if hasBraces(body) && !isExpression(body) {
		out, err := r.renderTemplate(body)
		if err != nil {
			return ModeTemplate, nil, err
		}
		return ModeTemplate, []string{out}, nil
	}
	out, err := r.renderBare(body)
	return ModeBare, out, err
}

// isExpression reports whether a body with braces still reads as a single
// expression: a top-level FLWOR whose constructors all become concat calls,
// or an expression whose braces sit only in string literals.
func isExpression(body string) bool {
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "for") {
		if flwor := rewriteFLWOR(body); flwor != body {
			return !bracesOutsideQuotes(convertConstructors(flwor))
		}
	}
	return !bracesOutsideQuotes(body)
}

func (r *renderer) renderBare(body string) ([]string, error) {
	if strings.TrimSpace(body) == "" {
		return []string{}, nil
	}
	seq, err := r.evaluate(convertConstructors(rewriteFLWOR(body)))
	if err != nil {
		return nil, err
	}
	return formatAll(ResultItems(seq)), nil
}

func (r *renderer) renderTemplate(body string) (string, error) {
	tokens, err := Tokenize(body)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, tok := range tokens {
		if tok.Kind == LiteralToken {
			sb.WriteString(tok.Text)
			continue
		}
		out, err := r.renderExpression(tok.Text)
		if err != nil {
			return "", err
		}
		sb.WriteString(out)
	}
	r.logger.Debug("rendered template", "tokens", len(tokens))
	return strings.TrimSpace(sb.String()), nil
}

func (r *renderer) renderExpression(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", nil
	}
	seq, err := r.evaluate(convertConstructors(rewriteFLWOR(code)))
	if err != nil {
		return "", err
	}
	return joinFormatted(ResultItems(seq)), nil
}

func (r *renderer) renderWrapped(tag, inner string) (string, error) {
	out, err := r.renderExpression(inner)
	if err != nil {
		return "", err
	}
	return "<" + tag + ">" + out + "</" + tag + ">", nil
}

// EvaluateExpression evaluates one cleaned expression against doc with the
// given namespace and variable bindings.
func EvaluateExpression(expr string, doc *Node, namespaces map[string]string, variables map[string][]any) ([]ResultItem, error) {
	compiled, err := Compile(normalizeBraces(expr))
	if err != nil {
		return nil, err
	}
	seq, err := compiled.Evaluate(Context{
		Item:       doc,
		Position:   1,
		Size:       1,
		Variables:  variables,
		Namespaces: namespaces,
	})
	if err != nil {
		return nil, err
	}
	return ResultItems(seq), nil
}
