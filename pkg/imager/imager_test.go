package imager

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{B: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDataURIRoundTrip(t *testing.T) {
	data := encodePNG(t, 4, 3)

	uri := DataURI(data, "image/png")
	if uri[:22] != "data:image/png;base64," {
		t.Fatalf("DataURI() prefix = %q", uri[:22])
	}

	got, contentType, err := ParseDataURI(uri)
	if err != nil {
		t.Fatalf("ParseDataURI() error = %v", err)
	}
	if contentType != "image/png" {
		t.Errorf("content type = %q, want image/png", contentType)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("payload differs after round trip")
	}
}

func TestDataURISniffsMissingContentType(t *testing.T) {
	_, contentType, err := ParseDataURI(DataURI(encodePNG(t, 1, 1), ""))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "image/png" {
		t.Errorf("content type = %q, want image/png", contentType)
	}
}

func TestParseDataURIInvalid(t *testing.T) {
	tests := []struct {
		name string
		uri  string
	}{
		{"missing scheme", "image/png;base64,AAAA"},
		{"missing comma", "data:image/png;base64"},
		{"not base64", "data:text/plain,hello"},
		{"corrupt payload", "data:image/png;base64,@@@"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseDataURI(tt.uri); !errors.Is(err, ErrInvalidDataURI) {
				t.Errorf("ParseDataURI(%q) error = %v, want ErrInvalidDataURI", tt.uri, err)
			}
		})
	}
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		wantType   string
		wantWidth  int
		wantHeight int
	}{
		{"png", encodePNG(t, 19, 10), "image/png", 19, 10},
		{"jpeg", encodeJPEG(t, 8, 16), "image/jpeg", 8, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := Sniff(tt.data)
			if err != nil {
				t.Fatalf("Sniff() error = %v", err)
			}
			if info.ContentType != tt.wantType || info.Width != tt.wantWidth || info.Height != tt.wantHeight {
				t.Errorf("Sniff() = %+v, want %s %dx%d", info, tt.wantType, tt.wantWidth, tt.wantHeight)
			}
		})
	}

	if _, err := Sniff([]byte("definitely not an image")); !errors.Is(err, ErrUnsupportedImage) {
		t.Errorf("Sniff(text) error = %v, want ErrUnsupportedImage", err)
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"image/png", "png"},
		{"image/jpeg", "jpg"},
		{"IMAGE/JPEG; charset=binary", "jpg"},
		{"image/svg+xml", "svg"},
		{"application/pdf", "pdf"},
		{"image/webp", "webp"},
		{"", "png"},
		{"application/octet-stream", "png"},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			if got := ExtensionFor(tt.contentType); got != tt.want {
				t.Errorf("ExtensionFor(%q) = %q, want %q", tt.contentType, got, tt.want)
			}
		})
	}
}

func TestBuildFileName(t *testing.T) {
	tests := []struct {
		name     string
		slide    string
		frameID  string
		position int
		ext      string
		want     string
	}{
		{"plain name", "Intro Slide", "1:2", 0, "png", "intro-slide.png"},
		{"numbered", "Intro Slide", "1:2", 3, "png", "03-intro-slide.png"},
		{"underscores and symbols", "Q3_Results (final)!", "1:2", 0, "jpg", "q3-results-final.jpg"},
		{"empty name falls back to frame id", "", "12:34", 0, "png", "12-34.png"},
		{"unicode only name falls back to frame id", "日本語", "5:6", 0, "png", "5-6.png"},
		{"nothing usable", "", "", 1, "png", "01-slide.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildFileName(tt.slide, tt.frameID, tt.position, tt.ext); got != tt.want {
				t.Errorf("buildFileName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteSlides(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	data := encodePNG(t, 2, 2)

	images := []Image{
		{FrameID: "1:1", Name: "Cover", Data: data, ContentType: "image/png"},
		{FrameID: "1:2", Name: "Agenda", Data: data, ContentType: "image/png"},
		{FrameID: "1:3", Name: "Cover", Data: data, ContentType: "image/png"},
	}

	result, err := WriteSlides(images, ExportConfig{OutputDir: dir})
	if err != nil {
		t.Fatalf("WriteSlides() error = %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("WriteSlides() errors = %v", result.Errors)
	}

	want := []string{"cover.png", "agenda.png", "cover-2.png"}
	if len(result.Assets) != len(want) {
		t.Fatalf("got %d assets, want %d", len(result.Assets), len(want))
	}
	for i, asset := range result.Assets {
		if asset.FileName != want[i] {
			t.Errorf("asset[%d].FileName = %q, want %q", i, asset.FileName, want[i])
		}
		written, err := os.ReadFile(filepath.Join(dir, asset.FileName))
		if err != nil {
			t.Fatalf("read %s: %v", asset.FileName, err)
		}
		if !bytes.Equal(written, data) {
			t.Errorf("%s content differs", asset.FileName)
		}
	}
}

func TestWriteSlidesNumbered(t *testing.T) {
	dir := t.TempDir()
	images := []Image{
		{FrameID: "1:1", Name: "Cover", Data: []byte("x"), ContentType: "image/jpeg"},
		{FrameID: "1:2", Name: "End", Data: []byte("y"), ContentType: "image/png"},
	}

	result, err := WriteSlides(images, ExportConfig{OutputDir: dir, Numbered: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.Assets[0].FileName != "01-cover.jpg" || result.Assets[1].FileName != "02-end.png" {
		t.Errorf("file names = %q, %q", result.Assets[0].FileName, result.Assets[1].FileName)
	}
}
