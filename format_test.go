package xquery

import (
	"math"
	"reflect"
	"testing"
)

func TestResultItems(t *testing.T) {
	doc := mustParse(t, `<r a="1">text<!--c--><e/></r>`)
	root := doc.Children[0]

	got := ResultItems([]any{root, root.Attrs[0], root.Children[0], root.Children[1], untypedAtomic("u"), 2.0, true})
	want := []ResultItem{
		ElementNode{Node: root},
		TextValue{Text: "1"},
		TextValue{Text: "text"},
		ElementNode{Node: root.Children[1]},
		ScalarValue{Value: "u"},
		ScalarValue{Value: 2.0},
		ScalarValue{Value: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ResultItems = %#v, want %#v", got, want)
	}

	if items := ResultItems([]any{""}); len(items) != 0 {
		t.Errorf("single empty string should give no items, got %v", items)
	}
	if items := ResultItems([]any{"", ""}); len(items) != 2 {
		t.Errorf("two empty strings should be kept, got %v", items)
	}
}

func TestFormatItem(t *testing.T) {
	doc := mustParse(t, `<r><a><b>1</b></a><c/></r>`)
	tests := []struct {
		item ResultItem
		want string
	}{
		{ElementNode{Node: doc.Children[0]}, "<r>\n  <a>\n    <b>1</b>\n  </a>\n  <c/>\n</r>"},
		{TextValue{Text: "a < b"}, "a < b"},
		{ScalarValue{Value: 42.0}, "42"},
		{ScalarValue{Value: false}, "false"},
		{ScalarValue{Value: "s"}, "s"},
	}
	for _, tt := range tests {
		if got := FormatItem(tt.item); got != tt.want {
			t.Errorf("FormatItem(%#v) = %q, want %q", tt.item, got, tt.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{math.Copysign(0, -1), "0"},
		{3, "3"},
		{-2, "-2"},
		{0.5, "0.5"},
		{39.95, "39.95"},
		{1e14, "100000000000000"},
		{1e20, "1E+20"},
		{1e-7, "1E-07"},
		{math.NaN(), "NaN"},
		{math.Inf(1), "INF"},
		{math.Inf(-1), "-INF"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
