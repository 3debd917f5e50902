package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kataras/figma-slides/pkg/discovery"
	"github.com/kataras/figma-slides/pkg/figma"
	"github.com/kataras/figma-slides/pkg/imager"
)

// SyncSlidesFromFigma imports every top-level frame and component of the file.
//
// Frames are processed one after the other in discovery order so that progress
// is reported incrementally; progress fires exactly once per frame. A frame that
// fails to render, fetch, hash or download is logged and skipped. The returned
// descriptors all carry the file's lastModified timestamp.
func (e *Engine) SyncSlidesFromFigma(ctx context.Context, fileKey, fileURL string, progress ProgressFunc) (_ []SlideDescriptor, err error) {
	r := e.begin(OpFullSync, fileKey)
	defer func() { err = r.finish(err) }()

	r.enter(StateConnecting)
	client, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}

	r.enter(StateLoadingFile)
	file, err := client.GetFile(ctx, fileKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileUnavailable, err)
	}

	r.enter(StateDiscoveringFrames)
	frames, err := discovery.Discover(file.Document, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileUnavailable, err)
	}
	if len(frames) == 0 {
		return nil, ErrNoFramesFound
	}

	lastModified := e.lastModified(fileKey, file.LastModified)

	r.enter(StateDownloading)
	slides := make([]SlideDescriptor, 0, len(frames))
	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		slide, err := e.syncFrame(ctx, client, fileKey, fileURL, frame.ID, lastModified)
		if err != nil {
			framesTotal.WithLabelValues("skipped").Inc()
			e.logger.Warn("skipping frame", "file", fileKey, "frame", frame.ID, "name", frame.Name, "error", err)
			if progress != nil {
				progress(i+1, len(frames), frame.Name, nil)
			}
			continue
		}

		framesTotal.WithLabelValues("synced").Inc()
		slides = append(slides, *slide)
		if progress != nil {
			progress(i+1, len(frames), frame.Name, slide)
		}
	}

	e.logger.Info("full sync finished", "file", fileKey, "frames", len(frames), "synced", len(slides))
	return slides, nil
}

// SyncSingleSlide refreshes one frame. File metadata and the frame itself
// (subtree, render and download) are fetched concurrently.
func (e *Engine) SyncSingleSlide(ctx context.Context, fileKey, fileURL, frameID string) (_ *SlideDescriptor, err error) {
	r := e.begin(OpSingleSync, fileKey)
	defer func() { err = r.finish(err) }()

	r.enter(StateConnecting)
	client, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}

	r.enter(StateLoadingFile)
	g, gctx := errgroup.WithContext(ctx)

	var meta *figma.FileResponse
	g.Go(func() error {
		m, err := client.GetFileMeta(gctx, fileKey)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrFileUnavailable, err)
		}
		meta = m
		return nil
	})

	var (
		node        *figma.Node
		image       []byte
		contentType string
	)
	g.Go(func() error {
		n, err := e.fetchNode(gctx, client, fileKey, frameID)
		if err != nil {
			return err
		}
		image, contentType, err = e.renderAndDownload(gctx, client, fileKey, frameID)
		if err != nil {
			return err
		}
		node = n
		return nil
	})

	if err := g.Wait(); err != nil {
		framesTotal.WithLabelValues("skipped").Inc()
		return nil, err
	}

	r.enter(StateDownloading)
	hash, err := e.hasher.Sum(node)
	if err != nil {
		return nil, err
	}

	framesTotal.WithLabelValues("synced").Inc()
	return &SlideDescriptor{
		FrameID:          frameID,
		FileKey:          fileKey,
		FileURL:          fileURL,
		Name:             node.Name,
		ImageDataURI:     imager.DataURI(image, contentType),
		Image:            image,
		ContentType:      contentType,
		FileLastModified: e.lastModified(fileKey, meta.LastModified),
		ContentHash:      hash,
	}, nil
}

// syncFrame renders, fetches, hashes and downloads one frame.
func (e *Engine) syncFrame(ctx context.Context, client *figma.Client, fileKey, fileURL, frameID string, lastModified time.Time) (*SlideDescriptor, error) {
	imageURL, err := e.render(ctx, client, fileKey, frameID)
	if err != nil {
		return nil, err
	}

	node, err := e.fetchNode(ctx, client, fileKey, frameID)
	if err != nil {
		return nil, err
	}

	hash, err := e.hasher.Sum(node)
	if err != nil {
		return nil, err
	}

	image, contentType, err := client.DownloadImage(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	return &SlideDescriptor{
		FrameID:          frameID,
		FileKey:          fileKey,
		FileURL:          fileURL,
		Name:             node.Name,
		ImageDataURI:     imager.DataURI(image, contentType),
		Image:            image,
		ContentType:      contentType,
		FileLastModified: lastModified,
		ContentHash:      hash,
	}, nil
}

// fetchNode fetches the depth-limited subtree of frameID.
func (e *Engine) fetchNode(ctx context.Context, client *figma.Client, fileKey, frameID string) (*figma.Node, error) {
	resp, err := client.GetFileNodes(ctx, fileKey, []string{frameID}, e.nodeDepth)
	if err != nil {
		var apiErr *figma.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %w", ErrFileUnavailable, err)
		}
		return nil, fmt.Errorf("nodes: %w", err)
	}
	data := resp.Nodes[frameID]
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrFrameNotFound, frameID)
	}
	return &data.Document, nil
}

// render asks Figma to render frameID and returns the temporary image URL.
func (e *Engine) render(ctx context.Context, client *figma.Client, fileKey, frameID string) (string, error) {
	imgs, err := client.GetImages(ctx, fileKey, []string{frameID}, e.imageFormat, e.imageScale)
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	imageURL := imgs.Images[frameID]
	if imageURL == "" {
		return "", fmt.Errorf("render: no image URL returned for frame %s", frameID)
	}
	return imageURL, nil
}

func (e *Engine) renderAndDownload(ctx context.Context, client *figma.Client, fileKey, frameID string) ([]byte, string, error) {
	imageURL, err := e.render(ctx, client, fileKey, frameID)
	if err != nil {
		return nil, "", err
	}
	image, contentType, err := client.DownloadImage(ctx, imageURL)
	if err != nil {
		return nil, "", fmt.Errorf("download: %w", err)
	}
	return image, contentType, nil
}

func (e *Engine) lastModified(fileKey, raw string) time.Time {
	t, err := parseLastModified(raw)
	if err != nil {
		e.logger.Warn("unparseable lastModified", "file", fileKey, "value", raw, "error", err)
		return time.Time{}
	}
	return t
}
