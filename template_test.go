package xquery

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []TemplateToken
	}{
		{"empty", "", nil},
		{"literal only", "plain text", []TemplateToken{{LiteralToken, "plain text"}}},
		{"escaped braces", "Result: {{foo}} and {{bar}}", []TemplateToken{{LiteralToken, "Result: {foo} and {bar}"}}},
		{"mixed", "a{1}b{2}", []TemplateToken{
			{LiteralToken, "a"}, {ExpressionToken, "1"}, {LiteralToken, "b"}, {ExpressionToken, "2"},
		}},
		{"adjacent expressions", "{1}{2}", []TemplateToken{{ExpressionToken, "1"}, {ExpressionToken, "2"}}},
		{"nested braces", "x{ {1} }y", []TemplateToken{
			{LiteralToken, "x"}, {ExpressionToken, " {1} "}, {LiteralToken, "y"},
		}},
		{"stray closing brace", "a}b", []TemplateToken{{LiteralToken, "a}b"}}},
		{"attribute template", `<Out data="{/r/@id}">{/r/text()}</Out>`, []TemplateToken{
			{LiteralToken, `<Out data="`}, {ExpressionToken, "/r/@id"}, {LiteralToken, `">`},
			{ExpressionToken, "/r/text()"}, {LiteralToken, "</Out>"},
		}},
		{"closing brace in string", `<r>{ "a}b" }</r>`, []TemplateToken{
			{LiteralToken, "<r>"}, {ExpressionToken, ` "a}b" `}, {LiteralToken, "</r>"},
		}},
		{"opening brace in string", "{'{'}x", []TemplateToken{{ExpressionToken, "'{'"}, {LiteralToken, "x"}}},
		{"unpaired quote in expression", "{ <p>it's</p> }", []TemplateToken{{ExpressionToken, " <p>it's</p> "}}},
		{"quotes in literal text", `say "{1}" it's`, []TemplateToken{
			{LiteralToken, `say "`}, {ExpressionToken, "1"}, {LiteralToken, `" it's`},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Tokenize(tt.body)
			if err != nil {
				t.Fatalf("Tokenize(%q) error: %v", tt.body, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.body, got, tt.want)
			}
		})
	}
}

func TestTokenizeUnbalanced(t *testing.T) {
	for _, body := range []string{"{unclosed", "a{b{c}", "{{x}} {", `{ "}"`} {
		_, err := Tokenize(body)
		var braceErr *UnbalancedBracesError
		if !errors.As(err, &braceErr) {
			t.Errorf("Tokenize(%q) error = %v, want UnbalancedBracesError", body, err)
		}
	}
}

func TestBracesOutsideQuotes(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{`concat("{", "x", "}")`, false},
		{`'a{b' || "c}d"`, false},
		{"//a", false},
		{"a{1}", true},
		{`<Out data="{1}">{2}</Out>`, true},
		{"it's {1}", true},
	}
	for _, tt := range tests {
		if got := bracesOutsideQuotes(tt.text); got != tt.want {
			t.Errorf("bracesOutsideQuotes(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestTokenizeEscapedRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringN(1, 40, -1).Draw(t, "s")
		escaped := strings.ReplaceAll(strings.ReplaceAll(s, "{", "{{"), "}", "}}")
		got, err := Tokenize(escaped)
		if err != nil {
			t.Fatalf("Tokenize(%q) error: %v", escaped, err)
		}
		want := []TemplateToken{{LiteralToken, s}}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("Tokenize(%q) = %v, want %v", escaped, got, want)
		}
	})
}

func TestConcatExpr(t *testing.T) {
	tests := []struct {
		name   string
		tokens []TemplateToken
		want   string
	}{
		{"no parts", nil, `""`},
		{"literal", []TemplateToken{{LiteralToken, "<br/>"}}, `"<br/>"`},
		{"quotes doubled", []TemplateToken{{LiteralToken, `say "hi"`}}, `"say ""hi"""`},
		{"single expression", []TemplateToken{{ExpressionToken, "$x"}}, `string-join($x, " ")`},
		{"comma expression", []TemplateToken{{ExpressionToken, "1, 2"}}, `string-join((1, 2), " ")`},
		{"mixed", []TemplateToken{{LiteralToken, "<a>"}, {ExpressionToken, " $x "}, {LiteralToken, "</a>"}}, `concat("<a>", $x, "</a>")`},
		{"blank expression dropped", []TemplateToken{{LiteralToken, "a"}, {ExpressionToken, "  "}}, `"a"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := concatExpr(tt.tokens, nil); got != tt.want {
				t.Errorf("concatExpr() = %s, want %s", got, tt.want)
			}
		})
	}
}
