package xquery

import "strings"

// ResultItem is one item of an evaluated expression, ready for formatting.
type ResultItem interface {
	resultItem()
}

// ElementNode is an element, document, comment or processing instruction.
type ElementNode struct{ Node *Node }

// TextValue is the string value of a text or attribute node.
type TextValue struct{ Text string }

// ScalarValue holds a string, float64 or bool.
type ScalarValue struct{ Value any }

func (ElementNode) resultItem() {}
func (TextValue) resultItem()   {}
func (ScalarValue) resultItem() {}

// ResultItems converts an evaluated sequence. A result made of a single
// empty string is treated as no result at all.
func ResultItems(seq []any) []ResultItem {
	if len(seq) == 1 {
		if s, ok := seq[0].(string); ok && s == "" {
			return nil
		}
	}
	out := make([]ResultItem, 0, len(seq))
	for _, item := range seq {
		switch v := item.(type) {
		case *Node:
			switch v.Kind {
			case "text", "attribute":
				out = append(out, TextValue{Text: v.Value})
			default:
				out = append(out, ElementNode{Node: v})
			}
		case untypedAtomic:
			out = append(out, ScalarValue{Value: string(v)})
		default:
			out = append(out, ScalarValue{Value: v})
		}
	}
	return out
}

// FormatItem renders one result item. Elements are pretty printed, text
// and attribute values are emitted raw, numbers use XPath formatting.
func FormatItem(item ResultItem) string {
	switch v := item.(type) {
	case ElementNode:
		return Pretty(v.Node)
	case TextValue:
		return v.Text
	case ScalarValue:
		return atomicString(v.Value)
	}
	return ""
}

func formatAll(items []ResultItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = FormatItem(item)
	}
	return out
}

func joinFormatted(items []ResultItem) string {
	return strings.Join(formatAll(items), "")
}
