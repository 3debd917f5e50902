package formatter

import (
	"strings"
	"testing"
	"time"

	"github.com/kataras/figma-slides/pkg/discovery"
	"github.com/kataras/figma-slides/pkg/syncer"
)

func testReport() *Report {
	synced := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	slides := []syncer.SlideRecord{
		{ID: "s1", RemoteFrameID: "1:1", RemoteFileID: "F", Name: "Intro", ContentHash: "abc", LastSyncedAt: synced},
		{ID: "s2", RemoteFrameID: "1:2", RemoteFileID: "F", Name: "Q3 | Results", ContentHash: "def", LastSyncedAt: synced},
		{ID: "s3", RemoteFrameID: "1:3", RemoteFileID: "F", Name: "Draft"},
	}
	return &Report{
		FileKey:     "F",
		FileName:    "Quarterly Deck",
		FileURL:     "https://www.figma.com/design/F/Quarterly-Deck",
		GeneratedAt: synced.Add(time.Hour),
		Slides:      slides,
		Check: &syncer.CheckResult{
			Modified:     []syncer.SlideRecord{slides[1]},
			Unverifiable: []syncer.SlideRecord{slides[2]},
			Checked:      2,
		},
		NewFrames: []discovery.Frame{{ID: "1:9", Name: "Appendix", Width: 1920, Height: 1080}},
	}
}

func TestToMarkdown(t *testing.T) {
	got := ToMarkdown(testReport())

	wants := []string{
		"# Slide Sync Report - Quarterly Deck",
		"Generated: 2024-05-01T11:00:00Z",
		"- **Linked slides**: 3",
		"- **Modified**: 1",
		"- **Never synced**: 1",
		"- **New frames**: 1",
		"| 1 | Intro | `1:1` | `abc` | 2024-05-01T10:00:00Z | up to date |",
		`| 2 | Q3 \| Results | ` + "`1:2` | `def` | 2024-05-01T10:00:00Z | modified |",
		"| 3 | Draft | `1:3` | - | - | never synced |",
		"| `1:9` | Appendix | 1920x1080 |",
	}
	for _, want := range wants {
		if !strings.Contains(got, want) {
			t.Errorf("ToMarkdown() missing %q\n%s", want, got)
		}
	}
	if strings.Contains(got, "Not checked") {
		t.Errorf("ToMarkdown() lists unchecked slides when there are none")
	}
}

func TestToMarkdownWithoutCheck(t *testing.T) {
	r := testReport()
	r.Check = nil
	r.NewFrames = nil

	got := ToMarkdown(r)
	if strings.Contains(got, "Status") || strings.Contains(got, "New Frames") {
		t.Errorf("ToMarkdown() rendered optional sections:\n%s", got)
	}
	if !strings.Contains(got, "| 1 | Intro | `1:1` | `abc` | 2024-05-01T10:00:00Z |\n") {
		t.Errorf("ToMarkdown() slide row missing:\n%s", got)
	}
}

func TestToHTMLSanitizes(t *testing.T) {
	r := testReport()
	r.Slides[0].Name = `<script>alert("x")</script>Intro`

	got, err := ToHTML(r)
	if err != nil {
		t.Fatalf("ToHTML() error = %v", err)
	}
	if strings.Contains(got, "<script>") {
		t.Errorf("ToHTML() kept a script tag:\n%s", got)
	}
	for _, want := range []string{"<h1>", "<table>", "<td>modified</td>"} {
		if !strings.Contains(got, want) {
			t.Errorf("ToHTML() missing %q:\n%s", want, got)
		}
	}
}
