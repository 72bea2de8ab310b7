package xquery

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

type builtinFn func(args [][]any, ctx Context) []any

type builtin struct {
	min, max int
	fn       builtinFn
}

const variadic = -1

var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"string":               {0, 1, fnString},
		"data":                 {0, 1, fnData},
		"number":               {0, 1, fnNumber},
		"boolean":              {1, 1, fnBoolean},
		"not":                  {1, 1, fnNot},
		"true":                 {0, 0, fnTrue},
		"false":                {0, 0, fnFalse},
		"count":                {1, 1, fnCount},
		"sum":                  {1, 2, fnSum},
		"avg":                  {1, 1, fnAvg},
		"min":                  {1, 1, fnMin},
		"max":                  {1, 1, fnMax},
		"round":                {1, 1, numeric(func(f float64) float64 { return math.Floor(f + 0.5) })},
		"floor":                {1, 1, numeric(math.Floor)},
		"ceiling":              {1, 1, numeric(math.Ceil)},
		"abs":                  {1, 1, numeric(math.Abs)},
		"concat":               {2, variadic, fnConcat},
		"string-join":          {1, 2, fnStringJoin},
		"string-length":        {0, 1, fnStringLength},
		"substring":            {2, 3, fnSubstring},
		"substring-before":     {2, 2, fnSubstringBefore},
		"substring-after":      {2, 2, fnSubstringAfter},
		"contains":             {2, 2, stringPredicate(strings.Contains)},
		"starts-with":          {2, 2, stringPredicate(strings.HasPrefix)},
		"ends-with":            {2, 2, stringPredicate(strings.HasSuffix)},
		"upper-case":           {1, 1, stringMap(strings.ToUpper)},
		"lower-case":           {1, 1, stringMap(strings.ToLower)},
		"normalize-space":      {0, 1, fnNormalizeSpace},
		"translate":            {3, 3, fnTranslate},
		"matches":              {2, 3, fnMatches},
		"replace":              {3, 4, fnReplace},
		"tokenize":             {1, 3, fnTokenize},
		"compare":              {2, 2, fnCompare},
		"position":             {0, 0, fnPosition},
		"last":                 {0, 0, fnLast},
		"name":                 {0, 1, fnName},
		"local-name":           {0, 1, fnLocalName},
		"namespace-uri":        {0, 1, fnNamespaceURI},
		"root":                 {0, 1, fnRoot},
		"empty":                {1, 1, fnEmpty},
		"exists":               {1, 1, fnExists},
		"distinct-values":      {1, 1, fnDistinctValues},
		"reverse":              {1, 1, fnReverse},
		"index-of":             {2, 2, fnIndexOf},
		"subsequence":          {2, 3, fnSubsequence},
		"head":                 {1, 1, fnHead},
		"tail":                 {1, 1, fnTail},
		"insert-before":        {3, 3, fnInsertBefore},
		"remove":               {2, 2, fnRemove},
		"doc":                  {1, 1, fnDoc},
		"doc-available":        {1, 1, fnDocAvailable},
		"string-to-codepoints": {1, 1, fnStringToCodepoints},
		"codepoints-to-string": {1, 1, fnCodepointsToString},
	}
}

// CallFunction dispatches a call to a built-in function. Unknown names
// raise XPST0017 with the closest known name when there is one.
func CallFunction(name string, args [][]any, ctx Context) []any {
	b, ok := builtins[name]
	if !ok {
		if s := suggestFunction(name); s != "" {
			raise("XPST0017", "unknown function %s() (did you mean %s()?)", name, s)
		}
		raise("XPST0017", "unknown function %s()", name)
	}
	if len(args) < b.min || (b.max != variadic && len(args) > b.max) {
		raise("XPST0017", "%s() does not take %d arguments", name, len(args))
	}
	return b.fn(args, ctx)
}

func suggestFunction(name string) string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	ranks := fuzzy.RankFindFold(name, names)
	if len(ranks) > 0 {
		sort.Sort(ranks)
		return ranks[0].Target
	}
	best, bestDist := "", 3
	for _, n := range names {
		if d := fuzzy.LevenshteinDistance(strings.ToLower(name), n); d < bestDist {
			best, bestDist = n, d
		}
	}
	return best
}

// contextArg returns the single argument, or the context item when the
// function was called without one.
func contextArg(args [][]any, ctx Context) []any {
	if len(args) > 0 {
		return args[0]
	}
	if ctx.Item == nil {
		raise("XPDY0002", "context item is absent")
	}
	return []any{ctx.Item}
}

func singleString(seq []any, fn string) string {
	if len(seq) > 1 {
		raise("XPTY0004", "%s() expects a single item, got %d", fn, len(seq))
	}
	return ToString(seq)
}

func optionalNode(seq []any, fn string) *Node {
	if len(seq) == 0 {
		return nil
	}
	n, ok := seq[0].(*Node)
	if !ok || len(seq) > 1 {
		raise("XPTY0004", "%s() expects a single node", fn)
	}
	return n
}

func fnString(args [][]any, ctx Context) []any {
	return []any{singleString(contextArg(args, ctx), "string")}
}

func fnData(args [][]any, ctx Context) []any {
	out := atomize(contextArg(args, ctx))
	for i, v := range out {
		if u, ok := v.(untypedAtomic); ok {
			out[i] = string(u)
		}
	}
	return out
}

func fnNumber(args [][]any, ctx Context) []any {
	seq := atomize(contextArg(args, ctx))
	if len(seq) == 0 {
		return []any{math.NaN()}
	}
	return []any{toNumber(seq[0])}
}

func toNumber(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case bool:
		return boolNumber(x)
	case string:
		return stringToNumber(x)
	case untypedAtomic:
		return stringToNumber(string(x))
	case *Node:
		return stringToNumber(x.StringValue())
	}
	return math.NaN()
}

func stringToNumber(s string) float64 {
	s = strings.TrimSpace(s)
	switch s {
	case "INF", "+INF":
		return math.Inf(1)
	case "-INF":
		return math.Inf(-1)
	case "", "NaN":
		return math.NaN()
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isDigit(c) && c != '.' && c != '-' && c != '+' && c != 'e' && c != 'E' {
			return math.NaN()
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func stringToBool(s string) bool {
	switch strings.TrimSpace(s) {
	case "true", "1":
		return true
	case "false", "0":
		return false
	}
	raise("FORG0001", "cannot convert %q to a boolean", s)
	return false
}

// formatNumber renders a double the way XPath casts it to a string:
// integral values carry no fractional part.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	case f == 0:
		return "0"
	case f == math.Trunc(f) && math.Abs(f) < 1e15:
		return strconv.FormatInt(int64(f), 10)
	case math.Abs(f) >= 1e-6 && math.Abs(f) < 1e15:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'E', -1, 64)
}

func fnBoolean(args [][]any, _ Context) []any {
	return []any{ToBoolean(args[0])}
}

func fnNot(args [][]any, _ Context) []any {
	return []any{!ToBoolean(args[0])}
}

func fnTrue(_ [][]any, _ Context) []any  { return []any{true} }
func fnFalse(_ [][]any, _ Context) []any { return []any{false} }

func fnCount(args [][]any, _ Context) []any {
	return []any{float64(len(args[0]))}
}

func numbersOf(seq []any, fn string) []float64 {
	out := make([]float64, 0, len(seq))
	for _, v := range atomize(seq) {
		switch x := v.(type) {
		case float64:
			out = append(out, x)
		case untypedAtomic:
			out = append(out, stringToNumber(string(x)))
		default:
			raise("FORG0006", "%s() over %s", fn, typeName(v))
		}
	}
	return out
}

func fnSum(args [][]any, _ Context) []any {
	if len(args[0]) == 0 {
		if len(args) > 1 {
			return args[1]
		}
		return []any{0.0}
	}
	total := 0.0
	for _, n := range numbersOf(args[0], "sum") {
		total += n
	}
	return []any{total}
}

func fnAvg(args [][]any, _ Context) []any {
	nums := numbersOf(args[0], "avg")
	if len(nums) == 0 {
		return []any{}
	}
	total := 0.0
	for _, n := range nums {
		total += n
	}
	return []any{total / float64(len(nums))}
}

func fnMin(args [][]any, _ Context) []any { return extreme(args[0], -1) }
func fnMax(args [][]any, _ Context) []any { return extreme(args[0], 1) }

// extreme picks the least (dir -1) or greatest (dir 1) value. Untyped
// values are compared as numbers; strings are compared as strings.
func extreme(seq []any, dir int) []any {
	values := atomize(seq)
	if len(values) == 0 {
		return []any{}
	}
	numericOnly := true
	for _, v := range values {
		if _, ok := v.(string); ok {
			numericOnly = false
		}
	}
	if numericOnly {
		nums := numbersOf(values, "min/max")
		best := nums[0]
		for _, n := range nums[1:] {
			if math.IsNaN(n) || compareFloat(n, best) == dir {
				best = n
			}
		}
		return []any{best}
	}
	best := atomicString(values[0])
	for _, v := range values[1:] {
		s := atomicString(v)
		if strings.Compare(s, best) == dir {
			best = s
		}
	}
	return []any{best}
}

func numeric(op func(float64) float64) builtinFn {
	return func(args [][]any, _ Context) []any {
		n, ok := arithmeticOperand(args[0])
		if !ok {
			return []any{}
		}
		return []any{op(n)}
	}
}

// fnConcat joins its arguments. An argument holding several items
// contributes them separated by single spaces.
func fnConcat(args [][]any, _ Context) []any {
	var sb strings.Builder
	for _, arg := range args {
		for i, item := range arg {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(itemString(item))
		}
	}
	return []any{sb.String()}
}

func fnStringJoin(args [][]any, _ Context) []any {
	sep := ""
	if len(args) > 1 {
		sep = singleString(args[1], "string-join")
	}
	parts := make([]string, len(args[0]))
	for i, item := range args[0] {
		parts[i] = itemString(item)
	}
	return []any{strings.Join(parts, sep)}
}

func fnStringLength(args [][]any, ctx Context) []any {
	return []any{float64(utf8.RuneCountInString(singleString(contextArg(args, ctx), "string-length")))}
}

func fnSubstring(args [][]any, _ Context) []any {
	runes := []rune(singleString(args[0], "substring"))
	start, ok := arithmeticOperand(args[1])
	if !ok {
		return []any{""}
	}
	first := math.Floor(start + 0.5)
	last := math.Inf(1)
	if len(args) > 2 {
		length, ok := arithmeticOperand(args[2])
		if !ok {
			return []any{""}
		}
		last = first + math.Floor(length+0.5)
	}
	var sb strings.Builder
	for i, r := range runes {
		pos := float64(i + 1)
		if pos >= first && pos < last {
			sb.WriteRune(r)
		}
	}
	return []any{sb.String()}
}

func fnSubstringBefore(args [][]any, _ Context) []any {
	s, sep := singleString(args[0], "substring-before"), singleString(args[1], "substring-before")
	before, _, found := strings.Cut(s, sep)
	if !found {
		return []any{""}
	}
	return []any{before}
}

func fnSubstringAfter(args [][]any, _ Context) []any {
	s, sep := singleString(args[0], "substring-after"), singleString(args[1], "substring-after")
	_, after, found := strings.Cut(s, sep)
	if !found {
		return []any{""}
	}
	return []any{after}
}

func stringPredicate(pred func(s, sub string) bool) builtinFn {
	return func(args [][]any, _ Context) []any {
		return []any{pred(singleString(args[0], "string"), singleString(args[1], "string"))}
	}
}

func stringMap(fn func(string) string) builtinFn {
	return func(args [][]any, _ Context) []any {
		return []any{fn(singleString(args[0], "string"))}
	}
}

func fnNormalizeSpace(args [][]any, ctx Context) []any {
	return []any{strings.Join(strings.Fields(singleString(contextArg(args, ctx), "normalize-space")), " ")}
}

func fnTranslate(args [][]any, _ Context) []any {
	from := []rune(singleString(args[1], "translate"))
	to := []rune(singleString(args[2], "translate"))
	mapping := map[rune]rune{}
	for i, r := range from {
		if _, ok := mapping[r]; ok {
			continue
		}
		if i < len(to) {
			mapping[r] = to[i]
		} else {
			mapping[r] = -1
		}
	}
	return []any{strings.Map(func(r rune) rune {
		if m, ok := mapping[r]; ok {
			return m
		}
		return r
	}, singleString(args[0], "translate"))}
}

func compilePattern(args [][]any, patternArg, flagsArg int) *regexp.Regexp {
	pattern := singleString(args[patternArg], "regex")
	flags := ""
	if len(args) > flagsArg {
		flags = singleString(args[flagsArg], "regex")
	}
	prefix := ""
	for _, f := range flags {
		switch f {
		case 'i', 's', 'm':
			prefix += string(f)
		case 'x':
			pattern = strings.Join(strings.Fields(pattern), "")
		default:
			raise("FORX0001", "invalid regular expression flag %q", f)
		}
	}
	if prefix != "" {
		pattern = "(?" + prefix + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		raise("FORX0002", "invalid regular expression: %v", err)
	}
	return re
}

func fnMatches(args [][]any, _ Context) []any {
	return []any{compilePattern(args, 1, 2).MatchString(singleString(args[0], "matches"))}
}

var groupRefPattern = regexp.MustCompile(`\\\$|\$(\d+)`)

func fnReplace(args [][]any, _ Context) []any {
	re := compilePattern(args, 1, 3)
	repl := groupRefPattern.ReplaceAllStringFunc(singleString(args[2], "replace"), func(m string) string {
		if m == `\$` {
			return "$$"
		}
		return "${" + m[1:] + "}"
	})
	repl = strings.ReplaceAll(repl, `\\`, `\`)
	return []any{re.ReplaceAllString(singleString(args[0], "replace"), repl)}
}

func fnTokenize(args [][]any, _ Context) []any {
	input := singleString(args[0], "tokenize")
	if len(args) == 1 {
		out := []any{}
		for _, f := range strings.Fields(input) {
			out = append(out, f)
		}
		return out
	}
	if input == "" {
		return []any{}
	}
	re := compilePattern(args, 1, 2)
	if re.MatchString("") {
		raise("FORX0003", "tokenize pattern matches the empty string")
	}
	out := []any{}
	for _, part := range re.Split(input, -1) {
		out = append(out, part)
	}
	return out
}

func fnCompare(args [][]any, _ Context) []any {
	if len(args[0]) == 0 || len(args[1]) == 0 {
		return []any{}
	}
	return []any{float64(strings.Compare(singleString(args[0], "compare"), singleString(args[1], "compare")))}
}

func fnPosition(_ [][]any, ctx Context) []any {
	if ctx.Item == nil {
		raise("XPDY0002", "position() without a context item")
	}
	return []any{float64(ctx.Position)}
}

func fnLast(_ [][]any, ctx Context) []any {
	if ctx.Item == nil {
		raise("XPDY0002", "last() without a context item")
	}
	return []any{float64(ctx.Size)}
}

func fnName(args [][]any, ctx Context) []any {
	n := optionalNode(contextArg(args, ctx), "name")
	if n == nil || (n.Kind != "element" && n.Kind != "attribute" && n.Kind != "pi") {
		return []any{""}
	}
	return []any{n.QName()}
}

func fnLocalName(args [][]any, ctx Context) []any {
	n := optionalNode(contextArg(args, ctx), "local-name")
	if n == nil {
		return []any{""}
	}
	return []any{n.Name}
}

func fnNamespaceURI(args [][]any, ctx Context) []any {
	n := optionalNode(contextArg(args, ctx), "namespace-uri")
	if n == nil {
		return []any{""}
	}
	return []any{n.Space}
}

func fnRoot(args [][]any, ctx Context) []any {
	n := optionalNode(contextArg(args, ctx), "root")
	if n == nil {
		return []any{}
	}
	return []any{n.Root()}
}

func fnEmpty(args [][]any, _ Context) []any  { return []any{len(args[0]) == 0} }
func fnExists(args [][]any, _ Context) []any { return []any{len(args[0]) > 0} }

// fnDistinctValues compares numbers, strings and booleans separately, so
// (1, "1", 1.0) keeps the number 1 and the string "1".
func fnDistinctValues(args [][]any, _ Context) []any {
	seen := map[string]bool{}
	out := []any{}
	for _, v := range atomize(args[0]) {
		if u, ok := v.(untypedAtomic); ok {
			v = string(u)
		}
		key := atomicString(v)
		if n, ok := v.(float64); ok {
			key = "n:" + key
			if math.IsNaN(n) {
				key = "n:NaN"
			}
		} else if _, ok := v.(bool); ok {
			key = "b:" + key
		} else {
			key = "s:" + key
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

func fnReverse(args [][]any, _ Context) []any {
	out := make([]any, len(args[0]))
	for i, v := range args[0] {
		out[len(out)-1-i] = v
	}
	return out
}

func fnIndexOf(args [][]any, _ Context) []any {
	target := atomize(args[1])
	if len(target) != 1 {
		raise("XPTY0004", "index-of() expects a single search value")
	}
	out := []any{}
	for i, v := range atomize(args[0]) {
		if sameValue(v, target[0]) {
			out = append(out, float64(i+1))
		}
	}
	return out
}

func sameValue(a, b any) bool {
	if u, ok := a.(untypedAtomic); ok {
		a = string(u)
	}
	if u, ok := b.(untypedAtomic); ok {
		b = string(u)
	}
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}

func fnSubsequence(args [][]any, _ Context) []any {
	start, ok := arithmeticOperand(args[1])
	if !ok {
		return []any{}
	}
	first := math.Floor(start + 0.5)
	last := math.Inf(1)
	if len(args) > 2 {
		length, ok := arithmeticOperand(args[2])
		if !ok {
			return []any{}
		}
		last = first + math.Floor(length+0.5)
	}
	out := []any{}
	for i, v := range args[0] {
		pos := float64(i + 1)
		if pos >= first && pos < last {
			out = append(out, v)
		}
	}
	return out
}

func fnHead(args [][]any, _ Context) []any {
	if len(args[0]) == 0 {
		return []any{}
	}
	return args[0][:1]
}

func fnTail(args [][]any, _ Context) []any {
	if len(args[0]) <= 1 {
		return []any{}
	}
	return args[0][1:]
}

func position(seq []any, fn string) int {
	n, ok := arithmeticOperand(seq)
	if !ok {
		raise("XPTY0004", "%s() expects a position", fn)
	}
	return int(n)
}

func fnInsertBefore(args [][]any, _ Context) []any {
	pos := position(args[1], "insert-before")
	target := args[0]
	pos = max(1, min(pos, len(target)+1))
	out := make([]any, 0, len(target)+len(args[2]))
	out = append(out, target[:pos-1]...)
	out = append(out, args[2]...)
	return append(out, target[pos-1:]...)
}

func fnRemove(args [][]any, _ Context) []any {
	pos := position(args[1], "remove")
	target := args[0]
	if pos < 1 || pos > len(target) {
		return target
	}
	out := make([]any, 0, len(target)-1)
	out = append(out, target[:pos-1]...)
	return append(out, target[pos:]...)
}

// fnDoc handles doc() calls whose argument is computed at run time. Calls
// with a literal path are bound to variables before evaluation.
func fnDoc(args [][]any, ctx Context) []any {
	if len(args[0]) == 0 {
		return []any{}
	}
	if ctx.LoadDoc == nil {
		raise("FODC0002", "no document resolver is available")
	}
	doc, err := ctx.LoadDoc(singleString(args[0], "doc"))
	if err != nil {
		panic(err)
	}
	return []any{doc}
}

func fnDocAvailable(args [][]any, ctx Context) []any {
	if len(args[0]) == 0 || ctx.LoadDoc == nil {
		return []any{false}
	}
	_, err := ctx.LoadDoc(singleString(args[0], "doc-available"))
	return []any{err == nil}
}

func fnStringToCodepoints(args [][]any, _ Context) []any {
	out := []any{}
	for _, r := range singleString(args[0], "string-to-codepoints") {
		out = append(out, float64(r))
	}
	return out
}

func fnCodepointsToString(args [][]any, _ Context) []any {
	var sb strings.Builder
	for _, n := range numbersOf(args[0], "codepoints-to-string") {
		sb.WriteRune(rune(n))
	}
	return []any{sb.String()}
}
