package figmaslides

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kataras/figma-slides/pkg/contenthash"
	"github.com/kataras/figma-slides/pkg/discovery"
	"github.com/kataras/figma-slides/pkg/figma"
	"github.com/kataras/figma-slides/pkg/formatter"
	"github.com/kataras/figma-slides/pkg/imager"
	"github.com/kataras/figma-slides/pkg/syncer"
)

// ManifestFileName is the name of the manifest written next to exported slides.
const ManifestFileName = "manifest.json"

// Options configures the export.
type Options struct {
	AccessToken   string
	FileURL       string   // Figma file URL
	NodeIDs       []string // empty = every top-level frame
	OutputDir     string
	ImageFormat   string // "png", "jpg", "svg", "pdf"
	ImageScale    float64
	Numbered      bool   // prefix file names with the slide position
	HashAlgorithm string // "fold32" (default) or "xxhash"
	BaseURL       string // Figma API root, empty = api.figma.com
	Logger        Logger // nil = no logging
}

// Logger receives progress messages. A nil Logger means silent operation.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Result contains the export output.
type Result struct {
	FileKey  string
	Slides   []syncer.SlideDescriptor
	Assets   []imager.ExportedAsset
	Manifest *Manifest
	Markdown string // formatted markdown report
}

// Manifest records what was exported so that a later Check can compare it
// with the live file.
type Manifest struct {
	FileKey       string          `json:"file_key"`
	FileURL       string          `json:"file_url"`
	HashAlgorithm string          `json:"hash_algorithm"`
	ExportedAt    time.Time       `json:"exported_at"`
	Slides        []ManifestSlide `json:"slides"`
}

// ManifestSlide is one exported slide.
type ManifestSlide struct {
	syncer.SlideRecord
	FileName string `json:"file_name"`
}

// Records returns the slides as engine records.
func (m *Manifest) Records() []syncer.SlideRecord {
	records := make([]syncer.SlideRecord, len(m.Slides))
	for i, s := range m.Slides {
		records[i] = s.SlideRecord
	}
	return records
}

func (o *Options) logInfo(f string, a ...any) {
	if o.Logger != nil {
		o.Logger.Infof(f, a...)
	}
}

func (o *Options) logWarn(f string, a ...any) {
	if o.Logger != nil {
		o.Logger.Warnf(f, a...)
	}
}

// Run executes the export pipeline: sync the frames of the file, write their
// images into OutputDir together with the manifest, and render a report.
func Run(ctx context.Context, opts Options) (*Result, error) {
	// Apply defaults.
	if opts.ImageFormat == "" {
		opts.ImageFormat = syncer.DefaultImageFormat
	}
	if opts.ImageScale == 0 {
		opts.ImageScale = syncer.DefaultImageScale
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "slides"
	}

	validFormats := map[string]bool{"png": true, "svg": true, "jpg": true, "pdf": true}
	if !validFormats[opts.ImageFormat] {
		return nil, fmt.Errorf("invalid image format %q (must be png, svg, jpg, or pdf)", opts.ImageFormat)
	}
	if opts.ImageScale < 0.01 || opts.ImageScale > 4 {
		return nil, fmt.Errorf("image scale must be between 0.01 and 4, got %g", opts.ImageScale)
	}

	opts.logInfo("Extracting file key from URL...")
	fileKey, err := figma.ExtractFileKey(opts.FileURL)
	if err != nil {
		return nil, fmt.Errorf("extract file key: %w", err)
	}
	opts.logInfo("File key: %s", fileKey)

	targetNodeIDs := opts.NodeIDs
	if len(targetNodeIDs) == 0 {
		urlNodeIDs, err := figma.ExtractNodeIDs(opts.FileURL)
		if err != nil {
			return nil, fmt.Errorf("extract node IDs from URL: %w", err)
		}
		targetNodeIDs = urlNodeIDs
	}

	engine, hasher, err := newEngine(opts.AccessToken, opts.BaseURL, opts.HashAlgorithm, opts.Logger,
		syncer.WithImageFormat(opts.ImageFormat),
		syncer.WithImageScale(opts.ImageScale),
	)
	if err != nil {
		return nil, err
	}

	var slides []syncer.SlideDescriptor
	if len(targetNodeIDs) > 0 {
		opts.logInfo("Syncing %d specific frame(s)...", len(targetNodeIDs))
		for _, id := range targetNodeIDs {
			slide, err := engine.SyncSingleSlide(ctx, fileKey, opts.FileURL, id)
			if errors.Is(err, syncer.ErrFrameNotFound) {
				opts.logWarn("Frame %s not found, skipping", id)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("sync frame %s: %w", id, err)
			}
			opts.logInfo("[%d/%d] %s", len(slides)+1, len(targetNodeIDs), slide.Name)
			slides = append(slides, *slide)
		}
	} else {
		opts.logInfo("Syncing every frame of the file...")
		slides, err = engine.SyncSlidesFromFigma(ctx, fileKey, opts.FileURL, func(index, total int, name string, slide *syncer.SlideDescriptor) {
			if slide == nil {
				opts.logWarn("[%d/%d] %s skipped", index, total, name)
				return
			}
			opts.logInfo("[%d/%d] %s", index, total, name)
		})
		if err != nil {
			return nil, fmt.Errorf("sync file: %w", err)
		}
	}
	if len(slides) == 0 {
		return nil, fmt.Errorf("no slides exported from %s", fileKey)
	}

	images := make([]imager.Image, len(slides))
	for i, s := range slides {
		images[i] = imager.Image{FrameID: s.FrameID, Name: s.Name, Data: s.Image, ContentType: s.ContentType}
	}

	opts.logInfo("Writing %d slide(s) to %s...", len(images), opts.OutputDir)
	written, err := imager.WriteSlides(images, imager.ExportConfig{OutputDir: opts.OutputDir, Numbered: opts.Numbered})
	if err != nil {
		return nil, fmt.Errorf("write slides: %w", err)
	}
	for _, wErr := range written.Errors {
		opts.logWarn("%v", wErr)
	}

	manifest := &Manifest{
		FileKey:       fileKey,
		FileURL:       opts.FileURL,
		HashAlgorithm: hasher.Algorithm(),
		ExportedAt:    time.Now().UTC(),
	}
	byFrame := make(map[string]syncer.SlideDescriptor, len(slides))
	for _, s := range slides {
		byFrame[s.FrameID] = s
	}
	for _, asset := range written.Assets {
		s := byFrame[asset.FrameID]
		manifest.Slides = append(manifest.Slides, ManifestSlide{
			SlideRecord: syncer.SlideRecord{
				ID:            strings.TrimSuffix(asset.FileName, filepath.Ext(asset.FileName)),
				RemoteFrameID: s.FrameID,
				RemoteFileID:  s.FileKey,
				RemoteFileURL: s.FileURL,
				Name:          s.Name,
				ContentHash:   s.ContentHash,
				LastSyncedAt:  s.FileLastModified,
			},
			FileName: asset.FileName,
		})
	}

	manifestPath := filepath.Join(opts.OutputDir, ManifestFileName)
	if err := WriteManifest(manifestPath, manifest); err != nil {
		return nil, err
	}
	opts.logInfo("Manifest written to %s", manifestPath)

	opts.logInfo("Generating markdown report...")
	markdown := formatter.ToMarkdown(&formatter.Report{
		FileKey:     fileKey,
		FileURL:     opts.FileURL,
		GeneratedAt: manifest.ExportedAt,
		Slides:      manifest.Records(),
	})

	return &Result{
		FileKey:  fileKey,
		Slides:   slides,
		Assets:   written.Assets,
		Manifest: manifest,
		Markdown: markdown,
	}, nil
}

// CheckOptions configures Check.
type CheckOptions struct {
	AccessToken  string
	ManifestPath string
	DetectNew    bool   // also list slide-sized frames missing from the manifest
	BaseURL      string // Figma API root, empty = api.figma.com
	Logger       Logger
}

// CheckResult is the outcome of Check.
type CheckResult struct {
	Manifest  *Manifest
	Check     *syncer.CheckResult
	NewFrames []discovery.Frame
	Markdown  string
}

// Check compares a previously exported manifest with the live Figma file
// without downloading any image.
func Check(ctx context.Context, opts CheckOptions) (*CheckResult, error) {
	manifest, err := ReadManifest(opts.ManifestPath)
	if err != nil {
		return nil, err
	}

	engine, _, err := newEngine(opts.AccessToken, opts.BaseURL, manifest.HashAlgorithm, opts.Logger)
	if err != nil {
		return nil, err
	}

	records := manifest.Records()
	check, err := engine.CheckIndividualSlideUpdates(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("check slides: %w", err)
	}

	var newFrames []discovery.Frame
	if opts.DetectNew {
		newFrames, err = engine.DetectNewSlidesInFigma(ctx, manifest.FileKey, records)
		if err != nil {
			return nil, fmt.Errorf("detect new slides: %w", err)
		}
	}

	return &CheckResult{
		Manifest:  manifest,
		Check:     check,
		NewFrames: newFrames,
		Markdown: formatter.ToMarkdown(&formatter.Report{
			FileKey:     manifest.FileKey,
			FileURL:     manifest.FileURL,
			GeneratedAt: time.Now().UTC(),
			Slides:      records,
			Check:       check,
			NewFrames:   newFrames,
		}),
	}, nil
}

// WriteManifest stores m as indented JSON at path.
func WriteManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by Run.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.FileKey == "" {
		return nil, fmt.Errorf("parse manifest %s: missing file_key", path)
	}
	return &m, nil
}

// ParseNodeIDs parses a comma-separated string of node IDs and returns a slice.
// Dashes are accepted in place of colons, as in Figma URLs.
func ParseNodeIDs(nodeIDsStr string) []string {
	parts := strings.Split(nodeIDsStr, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, strings.ReplaceAll(trimmed, "-", ":"))
		}
	}

	return result
}

func newEngine(token, baseURL, algorithm string, logger Logger, opts ...syncer.Option) (*syncer.Engine, *contenthash.Hasher, error) {
	hasher, err := contenthash.New(algorithm)
	if err != nil {
		return nil, nil, err
	}

	var clientOpts []figma.Option
	if baseURL != "" {
		clientOpts = append(clientOpts, figma.WithBaseURL(baseURL))
	}
	client := figma.NewClient(token, clientOpts...)

	opts = append([]syncer.Option{
		syncer.WithHasher(hasher),
		syncer.WithLogger(printfLogger{logger}),
	}, opts...)
	return syncer.New(client, syncer.StaticToken(token), opts...), hasher, nil
}

// printfLogger adapts a Logger to the engine's structured logger. Debug
// messages are dropped.
type printfLogger struct {
	l Logger
}

func (p printfLogger) Debug(string, ...any) {}

func (p printfLogger) Info(msg string, args ...any) {
	if p.l != nil {
		p.l.Infof("%s%s", msg, formatArgs(args))
	}
}

func (p printfLogger) Warn(msg string, args ...any) {
	if p.l != nil {
		p.l.Warnf("%s%s", msg, formatArgs(args))
	}
}

func (p printfLogger) Error(msg string, args ...any) {
	if p.l != nil {
		p.l.Errorf("%s%s", msg, formatArgs(args))
	}
}

func formatArgs(args []any) string {
	var sb strings.Builder
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", args[i], args[i+1])
	}
	return sb.String()
}
