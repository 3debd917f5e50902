package formatter

import (
	"fmt"
	"strings"
	"time"

	"github.com/kataras/figma-slides/pkg/discovery"
	"github.com/kataras/figma-slides/pkg/syncer"
)

// Slide statuses shown in the report.
const (
	StatusUpToDate     = "up to date"
	StatusModified     = "modified"
	StatusUnverifiable = "never synced"
	StatusUnchecked    = "not checked"
	StatusMissing      = "deleted in Figma"
)

// Report is the input of ToMarkdown and ToHTML: the slides linked to one file
// and, optionally, the results of a modification check and a new-slide detection.
type Report struct {
	FileKey     string
	FileName    string
	FileURL     string
	GeneratedAt time.Time
	Slides      []syncer.SlideRecord
	Check       *syncer.CheckResult
	NewFrames   []discovery.Frame
}

// ToMarkdown renders the sync state of a Figma file as a markdown document:
// a summary, one table row per linked slide and the frames not imported yet.
func ToMarkdown(r *Report) string {
	var sb strings.Builder

	title := r.FileName
	if title == "" {
		title = r.FileKey
	}
	sb.WriteString(fmt.Sprintf("# Slide Sync Report - %s\n\n", escapeInline(title)))

	if r.FileURL != "" {
		sb.WriteString(fmt.Sprintf("Source: <%s>\n\n", r.FileURL))
	}
	if !r.GeneratedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.UTC().Format(time.RFC3339)))
	}

	statuses := slideStatuses(r.Check)

	// Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString(fmt.Sprintf("- **Linked slides**: %d\n", len(r.Slides)))
	if r.Check != nil {
		sb.WriteString(fmt.Sprintf("- **Checked**: %d\n", r.Check.Checked))
		sb.WriteString(fmt.Sprintf("- **Modified**: %d\n", len(r.Check.Modified)))
		if n := len(r.Check.Unverifiable); n > 0 {
			sb.WriteString(fmt.Sprintf("- **Never synced**: %d\n", n))
		}
		if n := len(r.Check.Unchecked); n > 0 {
			sb.WriteString(fmt.Sprintf("- **Not checked** (Figma unreachable): %d\n", n))
		}
		if n := len(r.Check.Missing); n > 0 {
			sb.WriteString(fmt.Sprintf("- **Deleted in Figma**: %d\n", n))
		}
	}
	if r.NewFrames != nil {
		sb.WriteString(fmt.Sprintf("- **New frames**: %d\n", len(r.NewFrames)))
	}
	sb.WriteString("\n")

	// Slides
	if len(r.Slides) > 0 {
		sb.WriteString("## Slides\n\n")
		if r.Check != nil {
			sb.WriteString("| # | Slide | Frame | Hash | Last synced | Status |\n")
			sb.WriteString("|---|-------|-------|------|-------------|--------|\n")
		} else {
			sb.WriteString("| # | Slide | Frame | Hash | Last synced |\n")
			sb.WriteString("|---|-------|-------|------|-------------|\n")
		}
		for i, s := range r.Slides {
			hash := "-"
			if s.ContentHash != "" {
				hash = "`" + s.ContentHash + "`"
			}
			synced := "-"
			if !s.LastSyncedAt.IsZero() {
				synced = s.LastSyncedAt.UTC().Format(time.RFC3339)
			}
			row := fmt.Sprintf("| %d | %s | `%s` | %s | %s |", i+1, escapeInline(s.Name), s.RemoteFrameID, hash, synced)
			if r.Check != nil {
				status, ok := statuses[s.ID]
				if !ok {
					status = StatusUpToDate
				}
				row += fmt.Sprintf(" %s |", status)
			}
			sb.WriteString(row + "\n")
		}
		sb.WriteString("\n")
	}

	// New frames
	if len(r.NewFrames) > 0 {
		sb.WriteString("## New Frames\n\n")
		sb.WriteString("| Frame | Name | Size |\n")
		sb.WriteString("|-------|------|------|\n")
		for _, f := range r.NewFrames {
			sb.WriteString(fmt.Sprintf("| `%s` | %s | %.0fx%.0f |\n", f.ID, escapeInline(f.Name), f.Width, f.Height))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func slideStatuses(check *syncer.CheckResult) map[string]string {
	statuses := make(map[string]string)
	if check == nil {
		return statuses
	}
	for _, rec := range check.Modified {
		statuses[rec.ID] = StatusModified
	}
	for _, rec := range check.Unverifiable {
		statuses[rec.ID] = StatusUnverifiable
	}
	for _, rec := range check.Unchecked {
		statuses[rec.ID] = StatusUnchecked
	}
	for _, rec := range check.Missing {
		statuses[rec.ID] = StatusMissing
	}
	return statuses
}

// escapeInline keeps user-provided names from breaking table rows or markup.
func escapeInline(s string) string {
	r := strings.NewReplacer(
		"|", `\|`,
		"\n", " ",
		"*", `\*`,
		"_", `\_`,
		"`", "\\`",
		"<", "&lt;",
		">", "&gt;",
	)
	return r.Replace(s)
}
