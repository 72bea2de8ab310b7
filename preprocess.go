package xquery

import (
	"regexp"
	"strings"
)

// Prolog collects what the query prolog declares.
type Prolog struct {
	Namespaces       map[string]string
	DefaultElementNS string
	Variables        []VarDecl
}

type VarDecl struct {
	Name string
	Expr string
}

type rewriteStep struct {
	name string
	fn   func(text string, prolog *Prolog) string
}

// prologSteps run in order over the whole query text. None of them fail:
// anything they do not recognise is left for the evaluator.
var prologSteps = []rewriteStep{
	{"comments", stripComments},
	{"pragmas", stripPragmas},
	{"version", stripVersionDecl},
	{"namespaces", extractNamespaces},
	{"declarations", stripDeclarations},
	{"doc-available", rewriteDocAvailable},
	{"collection", rewriteCollection},
}

var (
	commentPattern      = regexp.MustCompile(`(?s)\(:.*?:\)`)
	pragmaPattern       = regexp.MustCompile(`(?s)\(#.*?#\)`)
	versionPattern      = regexp.MustCompile(`(?is)^\s*xquery\s+version\s+(?:"[^"]*"|'[^']*')(?:\s+encoding\s+(?:"[^"]*"|'[^']*'))?\s*;`)
	namespacePattern    = regexp.MustCompile(`(?is)\bdeclare\s+namespace\s+([A-Za-z_][\w.-]*)\s*=\s*(?:"([^"]*)"|'([^']*)')\s*;`)
	defaultNSPattern    = regexp.MustCompile(`(?is)\bdeclare\s+default\s+element\s+namespace\s+(?:"([^"]*)"|'([^']*)')\s*;`)
	variablePattern     = regexp.MustCompile(`(?is)\bdeclare\s+variable\s+\$([A-Za-z_][\w.-]*)(?:\s+as\s+[\w:.-]+[?*+]?)?\s*:=\s*(.*?)\s*;`)
	declarePattern      = regexp.MustCompile(`(?is)\bdeclare\s+[^;]*;`)
	docAvailablePattern = regexp.MustCompile(`(?:\bfn:)?\bdoc-available\s*\([^)]*\)`)
	collectionPattern   = regexp.MustCompile(`(?:\bfn:)?\bcollection\s*\([^)]*\)`)
	wrapperOpenPattern  = regexp.MustCompile(`^\s*<([A-Za-z_][\w.:-]*)\s*>\s*\{`)
)

func stripComments(text string, _ *Prolog) string {
	return commentPattern.ReplaceAllString(text, "")
}

func stripPragmas(text string, _ *Prolog) string {
	return pragmaPattern.ReplaceAllString(text, "")
}

func stripVersionDecl(text string, _ *Prolog) string {
	return versionPattern.ReplaceAllString(text, "")
}

func extractNamespaces(text string, prolog *Prolog) string {
	for _, m := range namespacePattern.FindAllStringSubmatch(text, -1) {
		prolog.Namespaces[m[1]] = m[2] + m[3]
	}
	return namespacePattern.ReplaceAllString(text, "")
}

// stripDeclarations removes the remaining declare statements. Default
// element namespaces and variable declarations are kept on the prolog.
func stripDeclarations(text string, prolog *Prolog) string {
	for _, m := range defaultNSPattern.FindAllStringSubmatch(text, -1) {
		prolog.DefaultElementNS = m[1] + m[2]
	}
	text = defaultNSPattern.ReplaceAllString(text, "")
	for _, m := range variablePattern.FindAllStringSubmatch(text, -1) {
		prolog.Variables = append(prolog.Variables, VarDecl{Name: m[1], Expr: m[2]})
	}
	text = variablePattern.ReplaceAllString(text, "")
	return declarePattern.ReplaceAllString(text, "")
}

func rewriteDocAvailable(text string, _ *Prolog) string {
	return docAvailablePattern.ReplaceAllString(text, "true()")
}

func rewriteCollection(text string, _ *Prolog) string {
	return collectionPattern.ReplaceAllString(text, "()")
}

type preparedQuery struct {
	Body   string
	Prolog Prolog
}

// prepare runs the prolog pipeline and returns the trimmed query body.
func prepare(query string) preparedQuery {
	prolog := Prolog{Namespaces: map[string]string{}}
	text := query
	for _, step := range prologSteps {
		text = step.fn(text, &prolog)
	}
	return preparedQuery{Body: strings.TrimSpace(text), Prolog: prolog}
}

// unwrapOuter recognises a body made of one element constructor with no
// attributes whose whole content is a single enclosed expression, and
// returns the tag name and the expression.
func unwrapOuter(text string) (tag, inner string, ok bool) {
	m := wrapperOpenPattern.FindStringSubmatchIndex(text)
	if m == nil {
		return "", "", false
	}
	tag = text[m[2]:m[3]]
	open := m[1] - 1
	if open+1 < len(text) && text[open+1] == '{' {
		return "", "", false
	}
	end := closingBrace(text, open)
	if end < 0 {
		return "", "", false
	}
	rest := strings.TrimSpace(text[end+1:])
	if !strings.HasPrefix(rest, "</"+tag) || !strings.HasSuffix(rest, ">") {
		return "", "", false
	}
	if strings.TrimSpace(rest[len("</"+tag):len(rest)-1]) != "" {
		return "", "", false
	}
	return tag, text[open+1 : end], true
}

// Preprocess returns the query as the evaluator would receive it, with
// doc() calls unwrapped to paths from the context document. It never fails.
func Preprocess(query string) string {
	text := prepare(query).Body
	if _, inner, ok := unwrapOuter(text); ok {
		text = inner
	}
	text = rewriteFLWOR(text)
	text = docCallPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
