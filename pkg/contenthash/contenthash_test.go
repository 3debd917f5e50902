package contenthash

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/kataras/figma-slides/pkg/figma"
)

func TestFold32(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "0"},
		{"a", "2p"},
		{"ab", "2e9"},
		{"hello", "1n1e4y"},
		// Overflows the 32-bit accumulator and ends negative before abs.
		{"The quick brown fox jumps over the lazy dog", "a2u5rh"},
		// Non-BMP runes fold as two UTF-16 code units.
		{"😀", "11zz7"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Fold32(tt.in); got != tt.want {
				t.Errorf("Fold32(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

const titleStyle = `{"fontFamily": "Inter", "fontSize": 48, "fontWeight": 700, "paragraphSpacing": 0}`

const backdropFills = `[
	{
		"type": "GRADIENT_LINEAR",
		"gradientHandlePositions": [{"x": 0, "y": 0}, {"x": 1, "y": 1}, {"x": 0, "y": 1}],
		"gradientStops": [
			{"position": 0, "color": {"r": 1, "g": 0, "b": 0, "a": 1}},
			{"position": 1, "color": {"r": 0, "g": 0, "b": 1, "a": 1}}
		]
	},
	{
		"type": "IMAGE",
		"imageRef": "f1a2",
		"scaleMode": "FILL",
		"filters": {"exposure": 0.1},
		"imageTransform": [[1, 0, 0], [0, 1, 0]]
	}
]`

const frameJSON = `{
	"id": "1:2",
	"name": "Slide A",
	"type": "FRAME",
	"absoluteBoundingBox": {"x": 0, "y": 0, "width": 1920, "height": 1080},
	"fills": [{"type": "SOLID", "color": {"r": 1, "g": 1, "b": 1, "a": 1}}],
	"children": [
		{
			"id": "1:3",
			"name": "Title",
			"type": "TEXT",
			"characters": "Hello",
			"absoluteBoundingBox": {"x": 100, "y": 100, "width": 400.4, "height": 80},
			"style": ` + titleStyle + `,
			"fills": [{"type": "SOLID", "color": {"r": 0, "g": 0, "b": 0, "a": 1}}]
		},
		{
			"id": "1:4",
			"name": "Backdrop",
			"type": "RECTANGLE",
			"absoluteBoundingBox": {"x": 0, "y": 0, "width": 1920, "height": 1080},
			"fills": ` + backdropFills + `,
			"strokes": [{"type": "SOLID", "color": {"r": 0, "g": 0, "b": 0, "a": 1}}],
			"strokeWeight": 2,
			"strokeAlign": "INSIDE"
		}
	]
}`

// Same content, keys written in a different order.
const frameJSONReordered = `{
	"children": [
		{
			"fills": [{"color": {"a": 1, "b": 0, "g": 0, "r": 0}, "type": "SOLID"}],
			"style": {"paragraphSpacing": 0, "fontWeight": 700, "fontSize": 48, "fontFamily": "Inter"},
			"absoluteBoundingBox": {"height": 80, "width": 400.4, "y": 100, "x": 100},
			"characters": "Hello",
			"type": "TEXT",
			"name": "Title",
			"id": "1:3"
		},
		{
			"strokeAlign": "INSIDE",
			"strokeWeight": 2,
			"strokes": [{"color": {"a": 1, "b": 0, "g": 0, "r": 0}, "type": "SOLID"}],
			"fills": ` + backdropFills + `,
			"absoluteBoundingBox": {"height": 1080, "width": 1920, "y": 0, "x": 0},
			"type": "RECTANGLE",
			"name": "Backdrop",
			"id": "1:4"
		}
	],
	"fills": [{"color": {"a": 1, "b": 1, "g": 1, "r": 1}, "type": "SOLID"}],
	"absoluteBoundingBox": {"height": 1080, "width": 1920, "y": 0, "x": 0},
	"type": "FRAME",
	"name": "Slide A",
	"id": "1:2"
}`

func decodeNode(t *testing.T, s string) *figma.Node {
	t.Helper()
	var n figma.Node
	if err := json.Unmarshal([]byte(s), &n); err != nil {
		t.Fatalf("decode node: %v", err)
	}
	return &n
}

func replaceRaw(base, old, new string) json.RawMessage {
	if !strings.Contains(base, old) {
		panic(fmt.Sprintf("%q not found in %s", old, base))
	}
	return json.RawMessage(strings.Replace(base, old, new, 1))
}

func mustSum(t *testing.T, h *Hasher, n *figma.Node) string {
	t.Helper()
	sum, err := h.Sum(n)
	if err != nil {
		t.Fatalf("Sum() error = %v", err)
	}
	return sum
}

func TestSumDeterministic(t *testing.T) {
	h := &Hasher{}
	first := mustSum(t, h, decodeNode(t, frameJSON))
	for i := 0; i < 5; i++ {
		if got := mustSum(t, h, decodeNode(t, frameJSON)); got != first {
			t.Fatalf("run %d: Sum() = %q, want %q", i, got, first)
		}
	}
	if got := mustSum(t, h, decodeNode(t, frameJSONReordered)); got != first {
		t.Errorf("Sum() depends on key order: %q != %q", got, first)
	}
}

func TestSumValueKeyOrderIndependent(t *testing.T) {
	h := &Hasher{}
	a := map[string]any{}
	a["x"] = 1
	a["nested"] = map[string]any{"b": "2", "a": []any{map[string]any{"z": 1, "y": 2}}}
	b := map[string]any{
		"nested": map[string]any{"a": []any{map[string]any{"y": 2, "z": 1}}, "b": "2"},
		"x":      1,
	}

	sa, err := h.SumValue(a)
	if err != nil {
		t.Fatal(err)
	}
	sb, err := h.SumValue(b)
	if err != nil {
		t.Fatal(err)
	}
	if sa != sb {
		t.Errorf("SumValue() = %q and %q for equal values", sa, sb)
	}
}

func TestSumSensitivity(t *testing.T) {
	h := &Hasher{}
	base := mustSum(t, h, decodeNode(t, frameJSON))

	tests := []struct {
		name        string
		mutate      func(n *figma.Node)
		wantChanged bool
	}{
		{
			name: "leaf fill color",
			mutate: func(n *figma.Node) {
				n.Children[0].Fills = json.RawMessage(`[{"type": "SOLID", "color": {"r": 0.5, "g": 0, "b": 0, "a": 1}}]`)
			},
			wantChanged: true,
		},
		{
			name:        "text characters",
			mutate:      func(n *figma.Node) { n.Children[0].Characters = "Hello!" },
			wantChanged: true,
		},
		{
			name:        "text style",
			mutate:      func(n *figma.Node) { n.Children[0].Style = replaceRaw(titleStyle, `"fontSize": 48`, `"fontSize": 50`) },
			wantChanged: true,
		},
		{
			name:        "bounding box beyond rounding",
			mutate:      func(n *figma.Node) { n.Children[0].AbsoluteBoundingBox.Width = 402 },
			wantChanged: true,
		},
		{
			name: "opacity",
			mutate: func(n *figma.Node) {
				o := 0.5
				n.Children[0].Opacity = &o
			},
			wantChanged: true,
		},
		{
			name:        "blend mode",
			mutate:      func(n *figma.Node) { n.BlendMode = "MULTIPLY" },
			wantChanged: true,
		},
		{
			name:        "effect added",
			mutate:      func(n *figma.Node) { n.Effects = figma.Raw([]figma.Effect{{Type: "DROP_SHADOW", Visible: true, Radius: 4}}) },
			wantChanged: true,
		},
		{
			name: "gradient handle position",
			mutate: func(n *figma.Node) {
				n.Children[1].Fills = replaceRaw(backdropFills, `{"x": 1, "y": 1}`, `{"x": 1, "y": 0.5}`)
			},
			wantChanged: true,
		},
		{
			name: "image filter",
			mutate: func(n *figma.Node) {
				n.Children[1].Fills = replaceRaw(backdropFills, `"exposure": 0.1`, `"exposure": 0.4`)
			},
			wantChanged: true,
		},
		{
			name: "image transform",
			mutate: func(n *figma.Node) {
				n.Children[1].Fills = replaceRaw(backdropFills, `[1, 0, 0], [0, 1, 0]`, `[2, 0, 0], [0, 2, 0]`)
			},
			wantChanged: true,
		},
		{
			name: "stroke weight",
			mutate: func(n *figma.Node) {
				w := 4.0
				n.Children[1].StrokeWeight = &w
			},
			wantChanged: true,
		},
		{
			name:        "stroke align",
			mutate:      func(n *figma.Node) { n.Children[1].StrokeAlign = "OUTSIDE" },
			wantChanged: true,
		},
		{
			name: "paragraph spacing",
			mutate: func(n *figma.Node) {
				n.Children[0].Style = replaceRaw(titleStyle, `"paragraphSpacing": 0`, `"paragraphSpacing": 12`)
			},
			wantChanged: true,
		},
		{
			name: "stroke weight without strokes",
			mutate: func(n *figma.Node) {
				w := 4.0
				n.Children[0].StrokeWeight = &w
			},
			wantChanged: false,
		},
		{
			name:        "bounding box jitter within rounding",
			mutate:      func(n *figma.Node) { n.Children[0].AbsoluteBoundingBox.Width = 400.2 },
			wantChanged: false,
		},
		{
			name:        "node id only",
			mutate:      func(n *figma.Node) { n.ID = "9:9"; n.Children[0].ID = "9:10" },
			wantChanged: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := decodeNode(t, frameJSON)
			tt.mutate(n)
			got := mustSum(t, h, n)
			if changed := got != base; changed != tt.wantChanged {
				t.Errorf("changed = %v, want %v (base %q, got %q)", changed, tt.wantChanged, base, got)
			}
		})
	}
}

func TestSumIgnoresMetadataFields(t *testing.T) {
	withMeta := strings.Replace(frameJSON, `"id": "1:2",`,
		`"id": "1:2", "locked": true, "exportSettings": [{"format": "PNG"}], "pluginData": {"k": "v"},`, 1)

	h := &Hasher{}
	if a, b := mustSum(t, h, decodeNode(t, frameJSON)), mustSum(t, h, decodeNode(t, withMeta)); a != b {
		t.Errorf("metadata changed the fingerprint: %q != %q", a, b)
	}
}

func TestNewAlgorithms(t *testing.T) {
	if _, err := New("sha1024"); err == nil {
		t.Fatal("New() accepted an unknown algorithm")
	}

	fold, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	if fold.Algorithm() != AlgorithmFold32 {
		t.Errorf("default algorithm = %q", fold.Algorithm())
	}

	xx, err := New(AlgorithmXXHash)
	if err != nil {
		t.Fatal(err)
	}

	n := decodeNode(t, frameJSON)
	a, b := mustSum(t, fold, n), mustSum(t, xx, n)
	if a == b {
		t.Errorf("fold32 and xxhash produced the same fingerprint %q", a)
	}
	if again := mustSum(t, xx, decodeNode(t, frameJSONReordered)); again != b {
		t.Errorf("xxhash not key-order independent: %q != %q", again, b)
	}
}

func TestCanonicalRecordOmitsIdentifiers(t *testing.T) {
	rec, err := CanonicalRecord(decodeNode(t, frameJSON))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rec["id"]; ok {
		t.Errorf("record contains id")
	}
	bounds, ok := rec["bounds"].(map[string]any)
	if !ok {
		t.Fatalf("bounds missing: %v", rec)
	}
	if bounds["width"] != int64(1920) {
		t.Errorf("width = %v", bounds["width"])
	}
	children, ok := rec["children"].([]any)
	if !ok || len(children) != 2 {
		t.Fatalf("children = %v", rec["children"])
	}
	backdrop := children[1].(map[string]any)
	if backdrop["strokeWeight"] != 2.0 || backdrop["strokeAlign"] != "INSIDE" {
		t.Errorf("stroke geometry missing: %v", backdrop)
	}
	if _, ok := children[0].(map[string]any)["strokeWeight"]; ok {
		t.Errorf("stroke weight recorded for a node without strokes")
	}
}

func TestSumNilNode(t *testing.T) {
	if _, err := Sum(nil); err == nil {
		t.Error("Sum(nil) should fail")
	}
}
