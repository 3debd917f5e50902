package figma

import (
	"encoding/json"
	"fmt"
)

// FileResponse represents the response from the Figma file API endpoint.
// It contains the file metadata and the document tree.
type FileResponse struct {
	Name          string               `json:"name"`
	LastModified  string               `json:"lastModified"`
	ThumbnailURL  string               `json:"thumbnailUrl"`
	Version       string               `json:"version"`
	Document      *Node                `json:"document"`
	Components    map[string]Component `json:"components,omitempty"`
	Styles        map[string]Style     `json:"styles,omitempty"`
	SchemaVersion int                  `json:"schemaVersion"`
}

// NodesResponse represents the response from the Figma nodes API endpoint when fetching specific nodes.
// A nil entry in Nodes means the requested node does not exist in the file.
type NodesResponse struct {
	Name         string               `json:"name"`
	LastModified string               `json:"lastModified"`
	Version      string               `json:"version"`
	Nodes        map[string]*NodeData `json:"nodes"`
}

// NodeData wraps a node with its document structure and optional component/style information.
type NodeData struct {
	Document   Node                 `json:"document"`
	Components map[string]Component `json:"components,omitempty"`
	Styles     map[string]Style     `json:"styles,omitempty"`
}

// ImagesResponse is the response of the image render endpoint.
// Images maps node IDs to temporary download URLs; a null URL means the render failed.
type ImagesResponse struct {
	Err    *string           `json:"err"`
	Images map[string]string `json:"images"`
}

// Component represents a Figma component definition with its metadata.
type Component struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Style represents a published Figma style with its basic properties.
type Style struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	StyleType   string `json:"styleType"`
}

// Node represents a single element in the Figma document tree hierarchy.
// Structural properties are decoded; visual style properties are kept as raw
// JSON so that every field Figma sends takes part in content hashing. Paint,
// Effect and TypeStyle are typed views of those raw values.
type Node struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Type                string          `json:"type"`
	Children            []Node          `json:"children,omitempty"`
	Background          json.RawMessage `json:"background,omitempty"`
	BackgroundColor     json.RawMessage `json:"backgroundColor,omitempty"`
	Fills               json.RawMessage `json:"fills,omitempty"`
	Strokes             json.RawMessage `json:"strokes,omitempty"`
	StrokeWeight        *float64        `json:"strokeWeight,omitempty"`
	StrokeAlign         string          `json:"strokeAlign,omitempty"`
	StrokeDashes        json.RawMessage `json:"strokeDashes,omitempty"`
	CornerRadius        float64         `json:"cornerRadius,omitempty"`
	Effects             json.RawMessage `json:"effects,omitempty"`
	Opacity             *float64        `json:"opacity,omitempty"`
	BlendMode           string          `json:"blendMode,omitempty"`
	Visible             *bool           `json:"visible,omitempty"`
	Characters          string          `json:"characters,omitempty"`
	Style               json.RawMessage `json:"style,omitempty"`
	AbsoluteBoundingBox *Rectangle      `json:"absoluteBoundingBox,omitempty"`
}

// Raw encodes v for one of the raw style properties of a Node, e.g.
// Fills: figma.Raw([]figma.Paint{...}). It panics if v cannot be encoded.
func Raw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("figma: raw value: %v", err))
	}
	return b
}

// Color represents an RGBA color with float values ranging from 0 to 1.
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a"`
}

// Paint represents a fill or stroke applied to a Figma node.
type Paint struct {
	Type                    string        `json:"type"`
	Visible                 *bool         `json:"visible,omitempty"`
	Opacity                 *float64      `json:"opacity,omitempty"`
	Color                   *Color        `json:"color,omitempty"`
	BlendMode               string        `json:"blendMode,omitempty"`
	GradientStops           []ColorStop   `json:"gradientStops,omitempty"`
	GradientHandlePositions []Vector      `json:"gradientHandlePositions,omitempty"`
	ImageRef                string        `json:"imageRef,omitempty"`
	ScaleMode               string        `json:"scaleMode,omitempty"`
	ImageTransform          [][]float64   `json:"imageTransform,omitempty"`
	Filters                 *ImageFilters `json:"filters,omitempty"`
}

// ImageFilters are the adjustments applied to an image paint.
type ImageFilters struct {
	Exposure    float64 `json:"exposure,omitempty"`
	Contrast    float64 `json:"contrast,omitempty"`
	Saturation  float64 `json:"saturation,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Tint        float64 `json:"tint,omitempty"`
	Highlights  float64 `json:"highlights,omitempty"`
	Shadows     float64 `json:"shadows,omitempty"`
}

// ColorStop is a position/color pair of a gradient paint.
type ColorStop struct {
	Position float64 `json:"position"`
	Color    Color   `json:"color"`
}

// Effect represents a visual effect applied to a Figma node such as drop shadows, inner shadows, or blur effects.
type Effect struct {
	Type      string  `json:"type"`
	Visible   bool    `json:"visible"`
	Radius    float64 `json:"radius,omitempty"`
	Color     *Color  `json:"color,omitempty"`
	Offset    *Vector `json:"offset,omitempty"`
	Spread    float64 `json:"spread,omitempty"`
	BlendMode string  `json:"blendMode,omitempty"`
}

// Vector represents a 2D coordinate or offset with X and Y values.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TypeStyle represents text styling properties from Figma.
type TypeStyle struct {
	FontFamily          string  `json:"fontFamily,omitempty"`
	FontPostScriptName  string  `json:"fontPostScriptName,omitempty"`
	FontWeight          float64 `json:"fontWeight,omitempty"`
	FontSize            float64 `json:"fontSize,omitempty"`
	Italic              bool    `json:"italic,omitempty"`
	LineHeightPx        float64 `json:"lineHeightPx,omitempty"`
	LineHeightPercent   float64 `json:"lineHeightPercent,omitempty"`
	LetterSpacing       float64 `json:"letterSpacing,omitempty"`
	TextCase            string  `json:"textCase,omitempty"`
	TextDecoration      string  `json:"textDecoration,omitempty"`
	TextAlignHorizontal string  `json:"textAlignHorizontal,omitempty"`
	TextAlignVertical   string  `json:"textAlignVertical,omitempty"`
	ParagraphSpacing    float64 `json:"paragraphSpacing,omitempty"`
	ParagraphIndent     float64 `json:"paragraphIndent,omitempty"`
}

// Rectangle represents a bounding box with position (X, Y) and dimensions (Width, Height).
type Rectangle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Node types treated as slides.
const (
	NodeTypeDocument  = "DOCUMENT"
	NodeTypeCanvas    = "CANVAS"
	NodeTypeFrame     = "FRAME"
	NodeTypeComponent = "COMPONENT"
	NodeTypeText      = "TEXT"
)
