package syncer

import (
	"errors"

	"github.com/kataras/figma-slides/pkg/figma"
)

var (
	// ErrMissingToken is returned when no access token is available.
	ErrMissingToken = errors.New("syncer: missing Figma access token")
	// ErrFileUnavailable wraps API, transport and document structure failures
	// while loading a file.
	ErrFileUnavailable = errors.New("syncer: Figma file unavailable")
	// ErrNoFramesFound is returned when a file has no frame or component to import.
	ErrNoFramesFound = errors.New("syncer: no frames found")
	// ErrFrameNotFound is returned when a requested frame is absent from the file.
	ErrFrameNotFound = errors.New("syncer: frame not found")
)

// IsTransient reports whether err comes from a timeout or an unreachable
// network. Such failures mean "unknown", never "no changes".
func IsTransient(err error) bool {
	return figma.IsTransient(err)
}
