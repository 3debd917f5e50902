// Package syncer reconciles locally stored slides with the frames of a Figma file.
//
// An Engine never writes storage. It returns SlideDescriptors (full and
// single-slide sync), a CheckResult (modification check) or the frames that
// are not imported yet, and leaves persistence to the caller.
package syncer

import (
	"context"
	"time"

	"github.com/kataras/figma-slides/pkg/contenthash"
	"github.com/kataras/figma-slides/pkg/discovery"
	"github.com/kataras/figma-slides/pkg/figma"
)

// Defaults used by New.
const (
	DefaultNodeDepth   = 5
	DefaultBatchSize   = 10
	DefaultImageFormat = "png"
	DefaultImageScale  = 1.0
)

// Logger provides structured logging for the engine.
// The args follow slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger is a Logger that discards all output.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}

// TokenProvider returns the Figma access token to use for one operation.
// An empty token means none is available.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken is a TokenProvider that always returns itself.
type StaticToken string

// Token returns the token.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// State is a step of the per-invocation sync state machine.
type State string

const (
	StateIdle              State = "idle"
	StateConnecting        State = "connecting"
	StateLoadingFile       State = "loading-file"
	StateDiscoveringFrames State = "discovering-frames"
	StateDownloading       State = "downloading"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// StateHook observes state transitions. fileKey is empty for operations that
// span several files.
type StateHook func(operation, fileKey string, state State)

// ProgressFunc is invoked once per discovered frame during a full sync, in
// discovery order. index is 1-based. slide is nil when the frame was skipped.
type ProgressFunc func(index, total int, frameName string, slide *SlideDescriptor)

// SlideRecord is the part of a stored slide the engine needs to check it.
type SlideRecord struct {
	ID            string    `json:"id"`
	RemoteFrameID string    `json:"remote_frame_id,omitempty"`
	RemoteFileID  string    `json:"remote_file_id,omitempty"`
	RemoteFileURL string    `json:"remote_file_url,omitempty"`
	Name          string    `json:"name"`
	ContentHash   string    `json:"content_hash,omitempty"`
	LastSyncedAt  time.Time `json:"last_synced_at,omitzero"`
}

// Linked reports whether the record points at a remote frame.
func (r SlideRecord) Linked() bool {
	return r.RemoteFrameID != "" && r.RemoteFileID != ""
}

// SlideDescriptor is the synchronized state of one frame, ready to be persisted.
type SlideDescriptor struct {
	FrameID          string    `json:"frame_id"`
	FileKey          string    `json:"file_key"`
	FileURL          string    `json:"file_url,omitempty"`
	Name             string    `json:"name"`
	ImageDataURI     string    `json:"image_data_uri"`
	Image            []byte    `json:"-"`
	ContentType      string    `json:"content_type"`
	FileLastModified time.Time `json:"file_last_modified"`
	ContentHash      string    `json:"content_hash"`
}

// CheckResult is the outcome of a modification check. Every list follows the
// order of the input records.
type CheckResult struct {
	// Modified slides whose remote content hash differs from the stored one.
	Modified []SlideRecord `json:"modified"`
	// Unverifiable linked slides that carry no content hash yet.
	Unverifiable []SlideRecord `json:"unverifiable"`
	// Unchecked slides whose batch could not be fetched.
	Unchecked []SlideRecord `json:"unchecked"`
	// Missing slides whose frame no longer exists in the file.
	Missing []SlideRecord `json:"missing"`
	// Checked counts the slides compared against the remote file.
	Checked int `json:"checked"`
}

// ModifiedFrameIDs returns the remote frame IDs of the modified slides.
func (r *CheckResult) ModifiedFrameIDs() []string {
	ids := make([]string, len(r.Modified))
	for i, rec := range r.Modified {
		ids[i] = rec.RemoteFrameID
	}
	return ids
}

// Engine runs sync operations against the Figma API.
type Engine struct {
	client      *figma.Client
	tokens      TokenProvider
	logger      Logger
	hasher      *contenthash.Hasher
	nodeDepth   int
	batchSize   int
	minSize     discovery.MinSize
	imageFormat string
	imageScale  float64
	stateHook   StateHook
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. *slog.Logger satisfies Logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithHasher sets the content hasher.
func WithHasher(h *contenthash.Hasher) Option {
	return func(e *Engine) {
		if h != nil {
			e.hasher = h
		}
	}
}

// WithNodeDepth sets the traversal depth of node fetches used for hashing.
// Sync and check must use the same depth for their hashes to be comparable.
func WithNodeDepth(depth int) Option {
	return func(e *Engine) {
		if depth > 0 {
			e.nodeDepth = depth
		}
	}
}

// WithBatchSize sets how many frames a single check request covers.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithMinSlideSize sets the size filter applied by DetectNewSlidesInFigma.
func WithMinSlideSize(m discovery.MinSize) Option {
	return func(e *Engine) { e.minSize = m }
}

// WithImageFormat sets the render format ("png", "jpg", "svg", "pdf").
func WithImageFormat(format string) Option {
	return func(e *Engine) {
		if format != "" {
			e.imageFormat = format
		}
	}
}

// WithImageScale sets the render scale.
func WithImageScale(scale float64) Option {
	return func(e *Engine) {
		if scale > 0 {
			e.imageScale = scale
		}
	}
}

// WithStateHook registers a state transition observer.
func WithStateHook(hook StateHook) Option {
	return func(e *Engine) { e.stateHook = hook }
}

// New returns an Engine. client carries transport settings; the token of each
// operation comes from tokens.
func New(client *figma.Client, tokens TokenProvider, opts ...Option) *Engine {
	e := &Engine{
		client:      client,
		tokens:      tokens,
		logger:      NopLogger{},
		hasher:      &contenthash.Hasher{},
		nodeDepth:   DefaultNodeDepth,
		batchSize:   DefaultBatchSize,
		minSize:     discovery.SlideSize,
		imageFormat: DefaultImageFormat,
		imageScale:  DefaultImageScale,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tokens == nil {
		e.tokens = StaticToken("")
	}
	return e
}
