package xquery

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"golang.org/x/text/encoding/ianaindex"
)

const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

// documents numbers parsed documents so nodes of different documents have a
// stable relative order.
var documents atomic.Int64

// Node is one node of a parsed document. Documents are never mutated after
// ParseXML returns.
type Node struct {
	Kind       string
	Name       string
	Prefix     string
	Space      string
	Value      string
	Children   []*Node
	Attrs      []*Node
	Namespaces map[string]string
	NSOrder    []string
	Parent     *Node

	order int
	rank  int64
}

func (n *Node) QName() string {
	if n.Prefix == "" {
		return n.Name
	}
	return n.Prefix + ":" + n.Name
}

func (n *Node) Attr(qname string) (string, bool) {
	for _, a := range n.Attrs {
		if a.QName() == qname {
			return a.Value, true
		}
	}
	return "", false
}

func (n *Node) StringValue() string {
	switch n.Kind {
	case "text", "attribute", "comment", "pi":
		return n.Value
	case "element", "document":
		var sb strings.Builder
		n.writeText(&sb)
		return sb.String()
	default:
		return ""
	}
}

func (n *Node) writeText(sb *strings.Builder) {
	for _, c := range n.Children {
		switch c.Kind {
		case "text":
			sb.WriteString(c.Value)
		case "element":
			c.writeText(sb)
		}
	}
}

func (n *Node) Root() *Node {
	cur := n
	for cur.Parent != nil {
		cur = cur.Parent
	}
	return cur
}

// LookupNamespace resolves prefix against the declarations in scope at n.
func (n *Node) LookupNamespace(prefix string) (string, bool) {
	if prefix == "xml" {
		return xmlNamespace, true
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if uri, ok := cur.Namespaces[prefix]; ok {
			return uri, true
		}
	}
	if prefix == "" {
		return "", true
	}
	return "", false
}

// ParseXML parses a document held in a Go string. The text is already
// decoded, so any encoding named in the XML declaration is ignored.
func ParseXML(text string) (*Node, error) {
	return parseXML(strings.NewReader(text), func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	})
}

// ParseXMLBytes parses raw file content, decoding it according to the
// encoding named in the XML declaration.
func ParseXMLBytes(data []byte) (*Node, error) {
	return parseXML(bytes.NewReader(data), charsetReader)
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported encoding %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}

func parseXML(r io.Reader, charset func(string, io.Reader) (io.Reader, error)) (*Node, error) {
	decoder := xml.NewDecoder(r)
	decoder.Entity = xml.HTMLEntity
	decoder.CharsetReader = charset

	fail := func(err error) (*Node, error) {
		line, col := decoder.InputPos()
		var syn *xml.SyntaxError
		if errors.As(err, &syn) {
			err = errors.New(syn.Msg)
		}
		return nil, &XMLParseError{Line: line, Column: col, Err: err}
	}

	order := 0
	doc := &Node{Kind: "document", rank: documents.Add(1)}
	var stack []*Node
	parentOf := func() *Node {
		if len(stack) == 0 {
			return doc
		}
		return stack[len(stack)-1]
	}
	appendChild := func(n *Node) {
		order++
		n.order = order
		parent := parentOf()
		n.Parent = parent
		parent.Children = append(parent.Children, n)
	}

	sawRoot := false
	for {
		tok, err := decoder.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 {
				if sawRoot {
					return fail(errors.New("extra content after the document element"))
				}
				sawRoot = true
			}
			n := &Node{Kind: "element", Name: t.Name.Local, Prefix: t.Name.Space}
			appendChild(n)
			var attrs []xml.Attr
			for _, a := range t.Attr {
				switch {
				case a.Name.Space == "" && a.Name.Local == "xmlns":
					n.declare("", a.Value)
				case a.Name.Space == "xmlns":
					n.declare(a.Name.Local, a.Value)
				default:
					attrs = append(attrs, a)
				}
			}
			uri, ok := n.LookupNamespace(n.Prefix)
			if !ok {
				return fail(fmt.Errorf("undeclared namespace prefix %q", n.Prefix))
			}
			n.Space = uri
			for _, a := range attrs {
				attr := &Node{Kind: "attribute", Name: a.Name.Local, Prefix: a.Name.Space, Value: a.Value, Parent: n}
				if attr.Prefix != "" {
					uri, ok := n.LookupNamespace(attr.Prefix)
					if !ok {
						return fail(fmt.Errorf("undeclared namespace prefix %q", attr.Prefix))
					}
					attr.Space = uri
				}
				order++
				attr.order = order
				n.Attrs = append(n.Attrs, attr)
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) == 0 {
				return fail(fmt.Errorf("unexpected end element </%s>", rawName(t.Name)))
			}
			top := stack[len(stack)-1]
			if top.QName() != rawName(t.Name) {
				return fail(fmt.Errorf("element <%s> closed by </%s>", top.QName(), rawName(t.Name)))
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 0 {
				if strings.TrimSpace(string(t)) != "" {
					return fail(errors.New("character data outside the document element"))
				}
				continue
			}
			parent := stack[len(stack)-1]
			if k := len(parent.Children); k > 0 && parent.Children[k-1].Kind == "text" {
				parent.Children[k-1].Value += string(t)
				continue
			}
			appendChild(&Node{Kind: "text", Value: string(t)})
		case xml.Comment:
			appendChild(&Node{Kind: "comment", Value: string(t)})
		case xml.ProcInst:
			if t.Target == "xml" {
				continue
			}
			appendChild(&Node{Kind: "pi", Name: t.Target, Value: string(t.Inst)})
		}
	}
	if len(stack) > 0 {
		return fail(fmt.Errorf("unexpected end of input: <%s> is not closed", stack[len(stack)-1].QName()))
	}
	if !sawRoot {
		return fail(errors.New("no document element"))
	}
	return doc, nil
}

func (n *Node) declare(prefix, uri string) {
	if n.Namespaces == nil {
		n.Namespaces = map[string]string{}
	}
	if _, ok := n.Namespaces[prefix]; !ok {
		n.NSOrder = append(n.NSOrder, prefix)
	}
	n.Namespaces[prefix] = uri
}

func rawName(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return name.Space + ":" + name.Local
}

// Serialize writes the node exactly as it sits in its document.
func Serialize(item *Node) string {
	var sb strings.Builder
	writeNode(&sb, item, 0, false, true)
	return sb.String()
}

// Pretty serializes the node, indenting elements whose content is made of
// elements only. Elements carrying text, including whitespace already laid
// out by the document, keep their content untouched.
func Pretty(item *Node) string {
	var sb strings.Builder
	if item.Kind == "document" {
		for i, c := range item.Children {
			if i > 0 {
				sb.WriteByte('\n')
			}
			writeNode(&sb, c, 0, true, true)
		}
		return sb.String()
	}
	writeNode(&sb, item, 0, true, true)
	return sb.String()
}

func writeNode(sb *strings.Builder, item *Node, depth int, format, top bool) {
	switch item.Kind {
	case "document":
		for _, c := range item.Children {
			writeNode(sb, c, depth, format, true)
		}
	case "text":
		sb.WriteString(escapeText(item.Value))
	case "attribute":
		sb.WriteString(escapeAttr(item.Value))
	case "comment":
		sb.WriteString("<!--" + item.Value + "-->")
	case "pi":
		sb.WriteString("<?" + item.Name)
		if item.Value != "" {
			sb.WriteString(" " + item.Value)
		}
		sb.WriteString("?>")
	case "element":
		sb.WriteString("<" + item.QName())
		for _, prefix := range item.NSOrder {
			writeNamespace(sb, prefix, item.Namespaces[prefix])
		}
		if top {
			for _, prefix := range inheritedPrefixes(item) {
				uri, _ := item.Parent.LookupNamespace(prefix)
				writeNamespace(sb, prefix, uri)
			}
		}
		for _, a := range item.Attrs {
			sb.WriteString(" " + a.QName() + "=\"" + escapeAttr(a.Value) + "\"")
		}
		if len(item.Children) == 0 {
			sb.WriteString("/>")
			return
		}
		sb.WriteByte('>')
		if format && !hasText(item) {
			for _, c := range item.Children {
				sb.WriteByte('\n')
				sb.WriteString(strings.Repeat("  ", depth+1))
				writeNode(sb, c, depth+1, true, false)
			}
			sb.WriteByte('\n')
			sb.WriteString(strings.Repeat("  ", depth))
		} else {
			for _, c := range item.Children {
				writeNode(sb, c, depth+1, false, false)
			}
		}
		sb.WriteString("</" + item.QName() + ">")
	}
}

func writeNamespace(sb *strings.Builder, prefix, uri string) {
	if prefix == "" {
		sb.WriteString(" xmlns=\"" + escapeAttr(uri) + "\"")
		return
	}
	sb.WriteString(" xmlns:" + prefix + "=\"" + escapeAttr(uri) + "\"")
}

func hasText(n *Node) bool {
	for _, c := range n.Children {
		if c.Kind == "text" {
			return true
		}
	}
	return false
}

// inheritedPrefixes lists prefixes used inside the subtree of n that are
// declared on an ancestor rather than within the subtree.
func inheritedPrefixes(n *Node) []string {
	if n.Parent == nil || n.Parent.Kind == "document" {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	var walk func(cur *Node, local map[string]bool)
	walk = func(cur *Node, local map[string]bool) {
		if cur.Kind != "element" {
			return
		}
		scope := local
		if len(cur.Namespaces) > 0 {
			scope = map[string]bool{}
			for k := range local {
				scope[k] = true
			}
			for k := range cur.Namespaces {
				scope[k] = true
			}
		}
		use := func(prefix string) {
			if prefix == "xml" || scope[prefix] || seen[prefix] {
				return
			}
			if uri, ok := n.Parent.LookupNamespace(prefix); ok && !(prefix == "" && uri == "") {
				seen[prefix] = true
				out = append(out, prefix)
			}
		}
		use(cur.Prefix)
		for _, a := range cur.Attrs {
			if a.Prefix != "" {
				use(a.Prefix)
			}
		}
		for _, c := range cur.Children {
			walk(c, scope)
		}
	}
	walk(n, map[string]bool{})
	return out
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\"", "&quot;")
)

func escapeText(text string) string {
	return textEscaper.Replace(text)
}

func escapeAttr(text string) string {
	return attrEscaper.Replace(text)
}
