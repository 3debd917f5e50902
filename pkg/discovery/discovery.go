// Package discovery enumerates the frames of a Figma document that are treated as slides.
package discovery

import (
	"errors"

	"github.com/kataras/figma-slides/pkg/figma"
)

// ErrInvalidDocumentStructure is returned when the document lacks its page list.
var ErrInvalidDocumentStructure = errors.New("discovery: invalid document structure")

// Frame is a slide candidate found in the document tree.
type Frame struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// MinSize rejects candidates smaller than Width x Height.
type MinSize struct {
	Width  float64
	Height float64
}

// SlideSize is the minimum size of a frame detected as a new slide.
// It keeps icons and other small components out.
var SlideSize = MinSize{Width: 1920, Height: 1080}

// Accepts reports whether both dimensions of f meet the minimum.
func (m MinSize) Accepts(f Frame) bool {
	return f.Width >= m.Width && f.Height >= m.Height
}

// Discover walks every page of doc depth-first and returns the FRAME and
// COMPONENT nodes it meets, in traversal order. The walk does not descend into
// a recorded node. A nil filter accepts every candidate; otherwise candidates
// without a bounding box are rejected.
func Discover(doc *figma.Node, filter *MinSize) ([]Frame, error) {
	if doc == nil || doc.Children == nil {
		return nil, ErrInvalidDocumentStructure
	}

	frames := make([]Frame, 0)
	for i := range doc.Children {
		page := &doc.Children[i]
		for j := range page.Children {
			collectFrames(&page.Children[j], filter, &frames)
		}
	}
	return frames, nil
}

func collectFrames(node *figma.Node, filter *MinSize, frames *[]Frame) {
	if isSlideNode(node) {
		f := Frame{ID: node.ID, Name: node.Name}
		if bb := node.AbsoluteBoundingBox; bb != nil {
			f.Width, f.Height = bb.Width, bb.Height
		}
		if filter == nil || (node.AbsoluteBoundingBox != nil && filter.Accepts(f)) {
			*frames = append(*frames, f)
		}
		return
	}

	for i := range node.Children {
		collectFrames(&node.Children[i], filter, frames)
	}
}

func isSlideNode(node *figma.Node) bool {
	return node.Type == figma.NodeTypeFrame || node.Type == figma.NodeTypeComponent
}

// IDs returns the node IDs of frames, preserving order.
func IDs(frames []Frame) []string {
	ids := make([]string, len(frames))
	for i, f := range frames {
		ids[i] = f.ID
	}
	return ids
}
