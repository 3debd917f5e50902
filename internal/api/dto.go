package api

import (
	"github.com/kataras/figma-slides/internal/store"
	"github.com/kataras/figma-slides/pkg/discovery"
)

// ImportRequest is the request body of POST /api/figma/import.
type ImportRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// UploadRequest holds the form fields of a manual upload.
type UploadRequest struct {
	Name string `validate:"max=200"`
}

// UploadDataURIRequest is the JSON form of a manual upload.
type UploadDataURIRequest struct {
	Name    string `json:"name" validate:"max=200"`
	DataURI string `json:"data_uri" validate:"required,startswith=data:"`
}

// FileKeyResponse is returned by GET /api/figma/file-key.
type FileKeyResponse struct {
	FileKey string `json:"file_key"`
}

// SyncResponse is returned by the import and file sync endpoints.
type SyncResponse struct {
	FileKey string         `json:"file_key"`
	Frames  int            `json:"frames"`
	Slides  []*store.Slide `json:"slides"`
}

// SlideListResponse wraps slide listings.
type SlideListResponse struct {
	Slides []*store.Slide `json:"slides"`
	Total  int            `json:"total"`
}

// NewFramesResponse lists frames that have no slide yet.
type NewFramesResponse struct {
	FileKey string            `json:"file_key"`
	Frames  []discovery.Frame `json:"frames"`
}
