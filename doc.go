// Package figmaslides turns the frames of a Figma file into presentation
// slides and keeps them in sync with the design.
//
// The CLI lives in cmd/figma-slides; this root package exposes the export
// pipeline as a Go API so that callers can embed it in their own tools
// without shelling out. The long-running service (HTTP API, slide store,
// background polling) is assembled in internal/app.
//
// # Import
//
// The module path contains a hyphen but Go package names cannot, so the
// package is named figmaslides:
//
//	import "github.com/kataras/figma-slides" // package figmaslides
//
// # Quick start
//
//	result, err := figmaslides.Run(ctx, figmaslides.Options{
//	    AccessToken: os.Getenv("FIGMA_TOKEN"),
//	    FileURL:     "https://www.figma.com/design/ABC123/Pitch-Deck",
//	    OutputDir:   "slides",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.WriteFile("slides/REPORT.md", []byte(result.Markdown), 0644)
//
// Every top-level frame and component of the file becomes one image in
// OutputDir. A manifest.json next to the images records the content hash of
// each slide, which [Check] later compares against the live file without
// downloading any image.
//
// # Logging
//
// Pass a [Logger] implementation in [Options.Logger] to receive progress
// messages. A nil Logger silences all output.
//
//	type myLogger struct{}
//	func (l *myLogger) Infof(f string, a ...any)  { log.Printf("[INFO]  "+f, a...) }
//	func (l *myLogger) Warnf(f string, a ...any)  { log.Printf("[WARN]  "+f, a...) }
//	func (l *myLogger) Errorf(f string, a ...any) { log.Printf("[ERROR] "+f, a...) }
//
// # Single frames
//
// To export specific frames rather than the entire file, populate
// [Options.NodeIDs] or include a node-id query parameter in the Figma URL.
package figmaslides
