package imager

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedImage is returned by Sniff for data that no registered decoder understands.
var ErrUnsupportedImage = errors.New("imager: unsupported image format")

// ErrInvalidDataURI is returned by ParseDataURI for malformed input.
var ErrInvalidDataURI = errors.New("imager: invalid data URI")

// Info describes a decoded image header.
type Info struct {
	ContentType string
	Format      string
	Width       int
	Height      int
}

// ExportConfig holds configuration for writing slide images to disk.
type ExportConfig struct {
	OutputDir string // local directory, default "slides"
	// Numbered prefixes file names with the 1-based slide position ("03-intro.png").
	Numbered bool
}

// Image is one slide image to write.
type Image struct {
	FrameID     string
	Name        string
	Data        []byte
	ContentType string
}

// ExportedAsset represents a single written image file.
type ExportedAsset struct {
	FrameID     string
	Name        string
	FileName    string
	ContentType string
	Size        int
}

// ExportResult holds the results of an image export operation.
type ExportResult struct {
	Assets []ExportedAsset
	Errors []error // non-fatal per-image write failures
}

const maxParallelWrites = 5

// DataURI encodes data as a base64 data URI. An empty contentType is sniffed.
func DataURI(data []byte, contentType string) string {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURI decodes a base64 data URI produced by DataURI and returns the
// payload with its media type.
func ParseDataURI(uri string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, "", ErrInvalidDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", ErrInvalidDataURI
	}
	contentType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, "", fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURI)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	if contentType == "" {
		contentType = "text/plain;charset=US-ASCII"
	}
	return data, contentType, nil
}

// Sniff decodes the image header of data. It recognizes PNG, JPEG, GIF, WebP and BMP.
func Sniff(data []byte) (Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return Info{
		ContentType: "image/" + format,
		Format:      format,
		Width:       cfg.Width,
		Height:      cfg.Height,
	}, nil
}

// ExtensionFor returns the file extension (without dot) for an image content type.
func ExtensionFor(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(strings.ToLower(mediaType)) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/svg+xml":
		return "svg"
	case "application/pdf":
		return "pdf"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/bmp":
		return "bmp"
	default:
		return "png"
	}
}

// WriteSlides writes images into config.OutputDir concurrently. Per-image
// failures are collected in the result; only a missing output directory is fatal.
// Assets keep the input order.
func WriteSlides(images []Image, config ExportConfig) (*ExportResult, error) {
	if config.OutputDir == "" {
		config.OutputDir = "slides"
	}
	if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %q: %w", config.OutputDir, err)
	}

	// Names are resolved up front so that collisions are numbered deterministically.
	usedNames := make(map[string]int)
	fileNames := make([]string, len(images))
	for i, img := range images {
		position := 0
		if config.Numbered {
			position = i + 1
		}
		fileName := buildFileName(img.Name, img.FrameID, position, ExtensionFor(img.ContentType))
		if count, exists := usedNames[fileName]; exists {
			ext := filepath.Ext(fileName)
			base := strings.TrimSuffix(fileName, ext)
			usedNames[fileName] = count + 1
			fileName = fmt.Sprintf("%s-%d%s", base, count+1, ext)
		} else {
			usedNames[fileName] = 1
		}
		fileNames[i] = fileName
	}

	written := make([]*ExportedAsset, len(images))
	errs := make([]error, len(images))

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxParallelWrites)
	for i, img := range images {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			destPath := filepath.Join(config.OutputDir, fileNames[i])
			if err := os.WriteFile(destPath, img.Data, 0644); err != nil {
				errs[i] = fmt.Errorf("failed to write %s: %w", img.Name, err)
				return
			}
			written[i] = &ExportedAsset{
				FrameID:     img.FrameID,
				Name:        img.Name,
				FileName:    fileNames[i],
				ContentType: img.ContentType,
				Size:        len(img.Data),
			}
		}()
	}
	wg.Wait()

	result := &ExportResult{}
	for i := range images {
		if errs[i] != nil {
			result.Errors = append(result.Errors, errs[i])
			continue
		}
		result.Assets = append(result.Assets, *written[i])
	}
	return result, nil
}

// buildFileName creates a sanitized filename from a slide name.
// Uses kebab-case, prefixes a zero-padded position when position > 0,
// falls back to the sanitized frame ID if the name is empty.
func buildFileName(name, frameID string, position int, ext string) string {
	if name == "" {
		name = frameID
	}

	name = toKebabCase(name)
	if name == "" {
		name = toKebabCase(frameID)
	}
	if name == "" {
		name = "slide"
	}

	if position > 0 {
		name = fmt.Sprintf("%02d-%s", position, name)
	}
	return fmt.Sprintf("%s.%s", name, ext)
}

// toKebabCase converts a string to kebab-case format (lowercase with hyphens).
func toKebabCase(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, ":", "-")

	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}

	return result.String()
}
