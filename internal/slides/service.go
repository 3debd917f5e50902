// Package slides applies sync engine results to the slide store and the image
// bucket. It is the only writer of slides.
package slides

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kataras/figma-slides/internal/apperr"
	"github.com/kataras/figma-slides/internal/blob"
	"github.com/kataras/figma-slides/internal/clock"
	"github.com/kataras/figma-slides/internal/store"
	"github.com/kataras/figma-slides/pkg/discovery"
	"github.com/kataras/figma-slides/pkg/figma"
	"github.com/kataras/figma-slides/pkg/formatter"
	"github.com/kataras/figma-slides/pkg/imager"
	"github.com/kataras/figma-slides/pkg/syncer"
)

// MaxUploadSize bounds manually uploaded images.
const MaxUploadSize = 20 << 20

// Engine is the part of *syncer.Engine the service drives.
type Engine interface {
	SyncSlidesFromFigma(ctx context.Context, fileKey, fileURL string, progress syncer.ProgressFunc) ([]syncer.SlideDescriptor, error)
	SyncSingleSlide(ctx context.Context, fileKey, fileURL, frameID string) (*syncer.SlideDescriptor, error)
	CheckIndividualSlideUpdates(ctx context.Context, records []syncer.SlideRecord) (*syncer.CheckResult, error)
	DetectNewSlidesInFigma(ctx context.Context, fileKey string, existing []syncer.SlideRecord) ([]discovery.Frame, error)
}

// Service manages slides.
type Service struct {
	engine Engine
	store  *store.Store
	bucket blob.Bucket
	clock  clock.Clock
	ids    clock.IDGenerator
	logger syncer.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for creation and update times.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDGenerator sets the slide ID generator.
func WithIDGenerator(g clock.IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l syncer.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a slide service.
func NewService(engine Engine, st *store.Store, bucket blob.Bucket, opts ...Option) *Service {
	s := &Service{
		engine: engine,
		store:  st,
		bucket: bucket,
		clock:  clock.RealClock{},
		ids:    clock.UUIDGenerator{},
		logger: syncer.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks that the slide store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ImportResult is the outcome of a full sync of one file.
type ImportResult struct {
	FileKey string         `json:"file_key"`
	Slides  []*store.Slide `json:"slides"`
	// Frames counts the frames discovered in the file; Frames - len(Slides) were skipped.
	Frames int `json:"frames"`
}

// Import synchronizes every frame of the Figma file at fileURL and persists
// the result. Frames already linked are updated in place.
func (s *Service) Import(ctx context.Context, fileURL string, progress syncer.ProgressFunc) (*ImportResult, error) {
	fileKey, err := figma.ExtractFileKey(fileURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}
	return s.syncFile(ctx, fileKey, fileURL, progress)
}

// SyncFile re-synchronizes a file that already has linked slides.
func (s *Service) SyncFile(ctx context.Context, fileKey string, progress syncer.ProgressFunc) (*ImportResult, error) {
	existing, err := s.store.ListByFile(ctx, fileKey)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, fmt.Errorf("file %s has no linked slides: %w", fileKey, apperr.ErrNotFound)
	}
	return s.syncFile(ctx, fileKey, existing[0].RemoteFileURL, progress)
}

func (s *Service) syncFile(ctx context.Context, fileKey, fileURL string, progress syncer.ProgressFunc) (*ImportResult, error) {
	frames := 0
	descs, err := s.engine.SyncSlidesFromFigma(ctx, fileKey, fileURL, func(index, total int, name string, slide *syncer.SlideDescriptor) {
		frames = total
		if progress != nil {
			progress(index, total, name, slide)
		}
	})
	if err != nil {
		return nil, err
	}

	saved, err := s.persist(ctx, descs)
	if err != nil {
		return nil, err
	}

	s.logger.Info("file synchronized", "file", fileKey, "frames", frames, "slides", len(saved))
	return &ImportResult{FileKey: fileKey, Slides: saved, Frames: frames}, nil
}

// SyncSlide refreshes one linked slide from its frame.
func (s *Service) SyncSlide(ctx context.Context, id string) (*store.Slide, error) {
	slide, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !slide.Linked() {
		return nil, fmt.Errorf("%w: slide %s is not linked to a Figma frame", apperr.ErrInvalidInput, id)
	}

	desc, err := s.engine.SyncSingleSlide(ctx, slide.RemoteFileID, slide.RemoteFileURL, slide.RemoteFrameID)
	if err != nil {
		return nil, err
	}

	saved, err := s.persist(ctx, []syncer.SlideDescriptor{*desc})
	if err != nil {
		return nil, err
	}
	return saved[0], nil
}

// persist uploads the images and upserts the slides in one transaction.
// Images replaced under a different key are removed afterwards. When the
// upsert fails, images uploaded under keys no stored slide refers to are removed.
func (s *Service) persist(ctx context.Context, descs []syncer.SlideDescriptor) (_ []*store.Slide, err error) {
	now := s.clock.Now().UTC()
	slides := make([]*store.Slide, 0, len(descs))
	var stale, added []string

	defer func() {
		if err == nil {
			return
		}
		for _, key := range added {
			if derr := s.bucket.Delete(ctx, key); derr != nil {
				s.logger.Warn("failed to delete orphaned image", "key", key, "error", derr)
			}
		}
	}()

	for _, d := range descs {
		id := ""
		previousKey := ""
		existing, err := s.store.FindByFrame(ctx, d.FileKey, d.FrameID)
		switch {
		case err == nil:
			id = existing.ID
			previousKey = existing.ImageKey
		case errors.Is(err, apperr.ErrNotFound):
			id = s.ids.New()
		default:
			return nil, err
		}

		key := imageKey(id, d.ContentType)
		if err := s.bucket.Put(ctx, key, d.Image, d.ContentType); err != nil {
			return nil, fmt.Errorf("store image of frame %s: %w", d.FrameID, err)
		}
		if key != previousKey {
			added = append(added, key)
			if previousKey != "" {
				stale = append(stale, previousKey)
			}
		}

		synced := d.FileLastModified
		if synced.IsZero() {
			synced = now
		}

		slides = append(slides, &store.Slide{
			ID:            id,
			Name:          d.Name,
			RemoteFileID:  d.FileKey,
			RemoteFrameID: d.FrameID,
			RemoteFileURL: d.FileURL,
			ContentHash:   d.ContentHash,
			LastSyncedAt:  synced,
			ImageKey:      key,
			ContentType:   d.ContentType,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	if err := s.store.UpsertRemote(ctx, slides); err != nil {
		return nil, err
	}

	for _, key := range stale {
		if err := s.bucket.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to delete replaced image", "key", key, "error", err)
		}
	}
	return slides, nil
}

// Check compares the linked slides of fileKey with the live file.
func (s *Service) Check(ctx context.Context, fileKey string) (*syncer.CheckResult, error) {
	slides, err := s.store.ListByFile(ctx, fileKey)
	if err != nil {
		return nil, err
	}
	return s.engine.CheckIndividualSlideUpdates(ctx, store.Records(slides))
}

// DetectNew lists the slide-sized frames of fileKey that are not imported yet.
func (s *Service) DetectNew(ctx context.Context, fileKey string) ([]discovery.Frame, error) {
	slides, err := s.store.ListByFile(ctx, fileKey)
	if err != nil {
		return nil, err
	}
	return s.engine.DetectNewSlidesInFigma(ctx, fileKey, store.Records(slides))
}

// Report builds the sync report of fileKey. The check and the new-frame
// detection are best effort: when Figma is unreachable the report lists the
// stored state only.
func (s *Service) Report(ctx context.Context, fileKey string) (*formatter.Report, error) {
	slides, err := s.store.ListByFile(ctx, fileKey)
	if err != nil {
		return nil, err
	}
	if len(slides) == 0 {
		return nil, fmt.Errorf("file %s has no linked slides: %w", fileKey, apperr.ErrNotFound)
	}

	records := store.Records(slides)
	report := &formatter.Report{
		FileKey:     fileKey,
		FileURL:     slides[0].RemoteFileURL,
		GeneratedAt: s.clock.Now(),
		Slides:      records,
	}

	check, err := s.engine.CheckIndividualSlideUpdates(ctx, records)
	if err != nil {
		s.logger.Debug("report without modification check", "file", fileKey, "error", err)
	} else {
		report.Check = check
	}

	frames, err := s.engine.DetectNewSlidesInFigma(ctx, fileKey, records)
	if err != nil {
		s.logger.Debug("report without new frames", "file", fileKey, "error", err)
	} else {
		report.NewFrames = frames
	}
	return report, nil
}

// Upload stores a manually uploaded image as a new unlinked slide.
func (s *Service) Upload(ctx context.Context, name string, data []byte) (*store.Slide, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", apperr.ErrInvalidInput)
	}
	if len(data) > MaxUploadSize {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", apperr.ErrInvalidInput, MaxUploadSize)
	}
	info, err := imager.Sniff(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}

	pos, err := s.store.NextPosition(ctx)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Slide %d", pos)
	}

	now := s.clock.Now().UTC()
	id := s.ids.New()
	slide := &store.Slide{
		ID:          id,
		Name:        name,
		Position:    pos,
		ImageKey:    imageKey(id, info.ContentType),
		ContentType: info.ContentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.bucket.Put(ctx, slide.ImageKey, data, info.ContentType); err != nil {
		return nil, fmt.Errorf("store uploaded image: %w", err)
	}
	if err := s.store.Create(ctx, slide); err != nil {
		_ = s.bucket.Delete(ctx, slide.ImageKey)
		return nil, err
	}

	s.logger.Info("slide uploaded", "id", id, "format", info.Format, "width", info.Width, "height", info.Height)
	return slide, nil
}

// Delete removes a slide and its image.
func (s *Service) Delete(ctx context.Context, id string) error {
	slide, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if slide.ImageKey != "" {
		if err := s.bucket.Delete(ctx, slide.ImageKey); err != nil {
			s.logger.Warn("failed to delete slide image", "id", id, "key", slide.ImageKey, "error", err)
		}
	}
	return nil
}

// List returns every slide in presentation order.
func (s *Service) List(ctx context.Context) ([]*store.Slide, error) {
	return s.store.List(ctx)
}

// ListByFile returns the slides linked to fileKey.
func (s *Service) ListByFile(ctx context.Context, fileKey string) ([]*store.Slide, error) {
	return s.store.ListByFile(ctx, fileKey)
}

// LinkedFiles returns the file keys with linked slides.
func (s *Service) LinkedFiles(ctx context.Context) ([]string, error) {
	return s.store.LinkedFiles(ctx)
}

// Get returns one slide.
func (s *Service) Get(ctx context.Context, id string) (*store.Slide, error) {
	return s.store.Get(ctx, id)
}

// Image opens the image of a slide.
func (s *Service) Image(ctx context.Context, id string) (io.ReadCloser, string, error) {
	slide, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	rc, contentType, err := s.bucket.Get(ctx, slide.ImageKey)
	if err != nil {
		return nil, "", err
	}
	if contentType == "" {
		contentType = slide.ContentType
	}
	return rc, contentType, nil
}

// ImageURL returns a signed direct link to the image of a slide, or
// blob.ErrSigningUnsupported when the bucket cannot sign.
func (s *Service) ImageURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	slide, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return s.bucket.SignedURL(ctx, slide.ImageKey, ttl)
}

func imageKey(id, contentType string) string {
	return "slides/" + id + "." + imager.ExtensionFor(contentType)
}
