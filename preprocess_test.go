package xquery

import (
	"reflect"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestPreprocess(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"comment", "(: c :) //title", "//title"},
		{"multiline comment", "(: one\n two :)\n//title", "//title"},
		{"version", `xquery version "1.0"; //title`, "//title"},
		{"version with encoding", `xquery version "3.0" encoding "UTF-8"; //title`, "//title"},
		{"doc unwrapped", `doc("f.xml")/a/b`, "/a/b"},
		{"fn doc unwrapped", `fn:doc('f.xml')//b`, "//b"},
		{"pragma", "(# saxon:stream #) //a", "//a"},
		{"namespace removed", `declare namespace p = "urn:p"; //p:a`, "//p:a"},
		{"other declarations removed", "declare boundary-space preserve; declare ordering unordered; //a", "//a"},
		{"doc-available", `if (doc-available("x.xml")) then 1 else 2`, "if (true()) then 1 else 2"},
		{"collection", `count(collection("c"))`, "count(())"},
		{"wrapper stripped", "<R>{ //a }</R>", "//a"},
		{"where clause", "for $b in //book where $b/@price > 30 return $b/title",
			"for $b in //book[@price > 30] return $b/title"},
		{"clean input unchanged", "//book[@id = 'b1']/title", "//book[@id = 'b1']/title"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Preprocess(tt.query); got != tt.want {
				t.Errorf("Preprocess(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestPrepareProlog(t *testing.T) {
	q := prepare(`xquery version "1.0";
declare namespace p = "urn:p";
declare namespace q = 'urn:q';
declare namespace p = "urn:p2";
declare default element namespace "urn:d";
declare variable $limit as xs:integer := 30;
declare variable $name := "x";
declare option output:method "xml";
/p:a[@n > $limit]`)

	wantNS := map[string]string{"p": "urn:p2", "q": "urn:q"}
	if !reflect.DeepEqual(q.Prolog.Namespaces, wantNS) {
		t.Errorf("namespaces = %v, want %v", q.Prolog.Namespaces, wantNS)
	}
	if q.Prolog.DefaultElementNS != "urn:d" {
		t.Errorf("default element namespace = %q, want urn:d", q.Prolog.DefaultElementNS)
	}
	wantVars := []VarDecl{{Name: "limit", Expr: "30"}, {Name: "name", Expr: `"x"`}}
	if !reflect.DeepEqual(q.Prolog.Variables, wantVars) {
		t.Errorf("variables = %v, want %v", q.Prolog.Variables, wantVars)
	}
	if q.Body != "/p:a[@n > $limit]" {
		t.Errorf("body = %q", q.Body)
	}
}

func TestUnwrapOuter(t *testing.T) {
	tests := []struct {
		text      string
		tag       string
		inner     string
		unwrapped bool
	}{
		{"<R>{ //a }</R>", "R", " //a ", true},
		{"<R>\n{ <x>{1}</x> }\n</R>", "R", " <x>{1}</x> ", true},
		{`<R a="1">{ //a }</R>`, "", "", false},
		{"<R>{ //a }</S>", "", "", false},
		{"<R>{ //a } tail</R>", "", "", false},
		{"<R>{{x}}</R>", "", "", false},
		{"//a", "", "", false},
	}
	for _, tt := range tests {
		tag, inner, ok := unwrapOuter(tt.text)
		if ok != tt.unwrapped || tag != tt.tag || inner != tt.inner {
			t.Errorf("unwrapOuter(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.text, tag, inner, ok, tt.tag, tt.inner, tt.unwrapped)
		}
	}
}

func cleanPath() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		steps := rapid.SliceOfN(rapid.SampledFrom([]string{"a", "b", "title", "book", "*", "@id", "text()"}), 1, 5).Draw(t, "steps")
		var sb strings.Builder
		for i, step := range steps {
			sb.WriteString(rapid.SampledFrom([]string{"/", "//"}).Draw(t, "sep"+string(rune('0'+i))))
			sb.WriteString(step)
			if rapid.Bool().Draw(t, "pred") {
				sb.WriteString(rapid.SampledFrom([]string{"[1]", `[@id = "x"]`, "[last()]", "[count(b) > 1]"}).Draw(t, "p"))
			}
		}
		return sb.String()
	})
}

func TestPreprocessIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := cleanPath().Draw(t, "query")
		once := Preprocess(q)
		if once != q {
			t.Fatalf("Preprocess(%q) = %q, want unchanged", q, once)
		}
		if twice := Preprocess(once); twice != once {
			t.Fatalf("Preprocess not idempotent: %q then %q", once, twice)
		}
	})
}

func TestPreprocessNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := rapid.String().Draw(t, "query")
		_ = Preprocess(q)
	})
}
