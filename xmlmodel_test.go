package xquery

import (
	"errors"
	"strings"
	"testing"
)

func TestParseXMLErrors(t *testing.T) {
	tests := []struct {
		name    string
		xml     string
		message string
	}{
		{"mismatched end tag", "<a><b></a>", "closed by </a>"},
		{"unclosed", "<a>", "<a> is not closed"},
		{"empty", "", "no document element"},
		{"two roots", "<a/><b/>", "extra content"},
		{"text outside root", "<a/>tail", "character data outside"},
		{"undeclared prefix", "<p:a/>", `undeclared namespace prefix "p"`},
		{"syntax", "<a b=1/>", "XML parse error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseXML(tt.xml)
			var xmlErr *XMLParseError
			if !errors.As(err, &xmlErr) {
				t.Fatalf("ParseXML(%q) error = %v, want XMLParseError", tt.xml, err)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.message)
			}
			if ErrorKind(err) != "XmlParseError" {
				t.Errorf("ErrorKind = %q", ErrorKind(err))
			}
		})
	}
}

func TestParseXMLErrorPosition(t *testing.T) {
	_, err := ParseXML("<a>\n<b>\n</a>")
	var xmlErr *XMLParseError
	if !errors.As(err, &xmlErr) {
		t.Fatalf("error = %v", err)
	}
	if xmlErr.Line != 3 {
		t.Errorf("Line = %d, want 3", xmlErr.Line)
	}
}

func TestParseXMLNamespaces(t *testing.T) {
	doc := mustParse(t, `<r xmlns="urn:d" xmlns:p="urn:p"><p:a p:k="v">x</p:a><b/></r>`)
	r := doc.Children[0]
	a, b := r.Children[0], r.Children[1]

	if r.Space != "urn:d" || b.Space != "urn:d" {
		t.Errorf("default namespace not applied: r=%q b=%q", r.Space, b.Space)
	}
	if a.Name != "a" || a.Prefix != "p" || a.Space != "urn:p" {
		t.Errorf("a = %q %q %q", a.Prefix, a.Name, a.Space)
	}
	if attr := a.Attrs[0]; attr.Space != "urn:p" || attr.QName() != "p:k" {
		t.Errorf("attribute = %q in %q", attr.QName(), attr.Space)
	}
	if v, ok := a.Attr("p:k"); !ok || v != "v" {
		t.Errorf("Attr(p:k) = %q, %v", v, ok)
	}
	if uri, _ := a.LookupNamespace("xml"); uri != xmlNamespace {
		t.Errorf("xml prefix resolved to %q", uri)
	}
	if _, ok := a.LookupNamespace("q"); ok {
		t.Error("undeclared prefix q resolved")
	}
}

func TestParseXMLBytesEncoding(t *testing.T) {
	data := append([]byte(`<?xml version="1.0" encoding="ISO-8859-1"?><r>caf`), 0xe9, '<', '/', 'r', '>')
	doc, err := ParseXMLBytes(data)
	if err != nil {
		t.Fatalf("ParseXMLBytes: %v", err)
	}
	if got := doc.StringValue(); got != "café" {
		t.Errorf("StringValue = %q, want café", got)
	}

	_, err = ParseXMLBytes([]byte(`<?xml version="1.0" encoding="x-unknown"?><r/>`))
	if err == nil {
		t.Error("unknown encoding accepted")
	}
}

func TestParseXMLEntities(t *testing.T) {
	doc := mustParse(t, `<r>a&amp;b&nbsp;&#65;</r>`)
	if got := doc.StringValue(); got != "a&b\u00a0A" {
		t.Errorf("StringValue = %q", got)
	}
}

func TestSerialize(t *testing.T) {
	src := `<r xmlns:p="urn:p"><p:a k="v &amp; w">x &lt; y</p:a><!--c--><?pi data?></r>`
	doc := mustParse(t, src)
	if got := Serialize(doc.Children[0]); got != src {
		t.Errorf("Serialize = %q, want %q", got, src)
	}
	a := doc.Children[0].Children[0]
	if got, want := Pretty(a), `<p:a xmlns:p="urn:p" k="v &amp; w">x &lt; y</p:a>`; got != want {
		t.Errorf("Pretty = %q, want %q", got, want)
	}
}

func TestPrettyDocument(t *testing.T) {
	doc := mustParse(t, "<!--head--><r><a/></r>")
	if got, want := Pretty(doc), "<!--head-->\n<r>\n  <a/>\n</r>"; got != want {
		t.Errorf("Pretty = %q, want %q", got, want)
	}
}

func TestPrettyKeepsMixedContent(t *testing.T) {
	doc := mustParse(t, "<r>\n  <a>1</a>\n</r>")
	if got, want := Pretty(doc.Children[0]), "<r>\n  <a>1</a>\n</r>"; got != want {
		t.Errorf("Pretty = %q, want %q", got, want)
	}
}
