package formatter

import (
	"bytes"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.Table, extension.Linkify),
)

// ToHTML renders the report as sanitized HTML.
func ToHTML(r *Report) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(ToMarkdown(r)), &buf); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}

	return bluemonday.UGCPolicy().Sanitize(buf.String()), nil
}
