// Package contenthash computes short deterministic fingerprints of the visual
// content of a Figma node subtree.
//
// The fingerprint is a change detector, not an integrity check: the default
// algorithm folds the canonical serialization into 32 bits, so two different
// subtrees may collide. Stored hashes stay comparable only as long as the
// algorithm and the canonical record do not change.
package contenthash

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"unicode/utf16"

	"github.com/cespare/xxhash/v2"

	"github.com/kataras/figma-slides/pkg/figma"
)

// Algorithm names accepted by New.
const (
	AlgorithmFold32 = "fold32"
	AlgorithmXXHash = "xxhash"
)

// Hasher fingerprints node subtrees. The zero value uses AlgorithmFold32.
type Hasher struct {
	algorithm string
}

// New returns a Hasher for the named algorithm. An empty name selects AlgorithmFold32.
func New(algorithm string) (*Hasher, error) {
	switch algorithm {
	case "", AlgorithmFold32:
		return &Hasher{algorithm: AlgorithmFold32}, nil
	case AlgorithmXXHash:
		return &Hasher{algorithm: AlgorithmXXHash}, nil
	default:
		return nil, fmt.Errorf("contenthash: unknown algorithm %q", algorithm)
	}
}

// Algorithm returns the configured algorithm name.
func (h *Hasher) Algorithm() string {
	if h == nil || h.algorithm == "" {
		return AlgorithmFold32
	}
	return h.algorithm
}

// Sum returns the fingerprint of node and its (already depth-limited) descendants.
func (h *Hasher) Sum(node *figma.Node) (string, error) {
	record, err := CanonicalRecord(node)
	if err != nil {
		return "", err
	}
	return h.SumValue(record)
}

// SumValue fingerprints an arbitrary JSON-compatible value. Mappings are
// serialized with sorted keys at every level, so construction order never matters.
func (h *Hasher) SumValue(v any) (string, error) {
	s, err := serialize(v)
	if err != nil {
		return "", err
	}

	if h.Algorithm() == AlgorithmXXHash {
		return strconv.FormatUint(xxhash.Sum64String(s), 36), nil
	}
	return Fold32(s), nil
}

// Sum fingerprints node with the default algorithm.
func Sum(node *figma.Node) (string, error) {
	return (&Hasher{}).Sum(node)
}

// Fold32 folds s into a signed 32-bit accumulator (h = h*31 + unit over UTF-16
// code units, wrapping) and renders its absolute value in base 36.
func Fold32(s string) string {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(unit)
	}
	return strconv.FormatInt(abs64(int64(h)), 36)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// CanonicalRecord extracts the visual properties of node and, recursively, of
// its children into a generic value. Identifiers, timestamps and other
// non-visual metadata are left out. Bounding boxes are rounded to whole pixels.
func CanonicalRecord(node *figma.Node) (map[string]any, error) {
	if node == nil {
		return nil, fmt.Errorf("contenthash: nil node")
	}

	record := map[string]any{
		"type": node.Type,
		"name": node.Name,
	}

	if bb := node.AbsoluteBoundingBox; bb != nil {
		record["bounds"] = map[string]any{
			"x":      roundPx(bb.X),
			"y":      roundPx(bb.Y),
			"width":  roundPx(bb.Width),
			"height": roundPx(bb.Height),
		}
	}

	styles := []struct {
		key string
		raw json.RawMessage
	}{
		{"fills", node.Fills},
		{"strokes", node.Strokes},
		{"effects", node.Effects},
		{"background", node.Background},
		{"backgroundColor", node.BackgroundColor},
		{"style", node.Style},
	}
	for _, st := range styles {
		v, ok, err := decodeRaw(st.raw)
		if err != nil {
			return nil, fmt.Errorf("contenthash: %s of node %s: %w", st.key, node.ID, err)
		}
		if ok {
			record[st.key] = v
		}
	}

	// Stroke geometry is only visible when the node has strokes.
	if strokes, ok := record["strokes"].([]any); ok && len(strokes) > 0 {
		if node.StrokeWeight != nil {
			record["strokeWeight"] = *node.StrokeWeight
		}
		if node.StrokeAlign != "" {
			record["strokeAlign"] = node.StrokeAlign
		}
		dashes, ok, err := decodeRaw(node.StrokeDashes)
		if err != nil {
			return nil, fmt.Errorf("contenthash: strokeDashes of node %s: %w", node.ID, err)
		}
		if ok {
			record["strokeDashes"] = dashes
		}
	}

	if node.Opacity != nil {
		record["opacity"] = *node.Opacity
	}
	if node.BlendMode != "" {
		record["blendMode"] = node.BlendMode
	}
	if node.Characters != "" {
		record["characters"] = node.Characters
	}

	if len(node.Children) > 0 {
		children := make([]any, 0, len(node.Children))
		for i := range node.Children {
			child, err := CanonicalRecord(&node.Children[i])
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		record["children"] = children
	}

	return record, nil
}

// roundPx rounds half away from zero, so jitter like 99.9999 and 100.0001 both become 100.
func roundPx(v float64) int64 {
	return int64(math.Round(v))
}

// decodeRaw turns a raw style property into maps and slices so that it is
// serialized with sorted keys like the rest of the record. Empty and null
// values report ok == false.
func decodeRaw(raw json.RawMessage) (v any, ok bool, err error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, err
	}
	return v, v != nil, nil
}

// serialize renders v deterministically. encoding/json writes map keys in
// sorted order at every nesting level.
func serialize(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("contenthash: serialize: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
