package syncer

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kataras/figma-slides/pkg/discovery"
	"github.com/kataras/figma-slides/pkg/figma"
)

type verdict uint8

const (
	verdictUnchanged verdict = iota
	verdictModified
	verdictMissing
	verdictUnchecked
)

// batch is a set of records of one file checked with a single node request.
// indices point into the slice of checkable records.
type batch struct {
	fileKey string
	indices []int
}

// CheckIndividualSlideUpdates reports which stored slides changed remotely,
// without downloading images.
//
// Records without a remote frame are ignored. Linked records without a content
// hash are reported as Unverifiable. The rest are grouped by file and split into
// batches; each batch is one depth-limited node request and all batches run
// concurrently. A failing batch is logged and its slides are reported as
// Unchecked; it never fails the whole check. Only token failures are returned:
// ErrMissingToken, or a transient error when the token source is unreachable.
func (e *Engine) CheckIndividualSlideUpdates(ctx context.Context, records []SlideRecord) (_ *CheckResult, err error) {
	r := e.begin(OpCheck, "")
	defer func() { err = r.finish(err) }()

	result := &CheckResult{
		Modified:     []SlideRecord{},
		Unverifiable: []SlideRecord{},
		Unchecked:    []SlideRecord{},
		Missing:      []SlideRecord{},
	}

	var checkable []SlideRecord
	for _, rec := range records {
		if !rec.Linked() {
			continue
		}
		if rec.ContentHash == "" {
			result.Unverifiable = append(result.Unverifiable, rec)
			continue
		}
		checkable = append(checkable, rec)
	}
	if len(checkable) == 0 {
		return result, nil
	}

	r.enter(StateConnecting)
	client, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}

	r.enter(StateDownloading)
	verdicts := make([]verdict, len(checkable))
	var g errgroup.Group
	for _, b := range e.batches(checkable) {
		g.Go(func() error {
			e.checkBatch(ctx, client, b, checkable, verdicts)
			return nil
		})
	}
	_ = g.Wait()

	for i, rec := range checkable {
		switch verdicts[i] {
		case verdictModified:
			result.Modified = append(result.Modified, rec)
			result.Checked++
		case verdictMissing:
			result.Missing = append(result.Missing, rec)
			result.Checked++
		case verdictUnchecked:
			result.Unchecked = append(result.Unchecked, rec)
		default:
			result.Checked++
		}
	}

	modifiedSlidesTotal.Add(float64(len(result.Modified)))
	e.logger.Info("modification check finished",
		"slides", len(records),
		"checked", result.Checked,
		"modified", len(result.Modified),
		"unverifiable", len(result.Unverifiable),
		"unchecked", len(result.Unchecked),
		"missing", len(result.Missing))
	return result, nil
}

// batches groups records by file, in order of first appearance, and splits
// each group into chunks of at most batchSize.
func (e *Engine) batches(records []SlideRecord) []batch {
	var order []string
	groups := make(map[string][]int)
	for i, rec := range records {
		if _, ok := groups[rec.RemoteFileID]; !ok {
			order = append(order, rec.RemoteFileID)
		}
		groups[rec.RemoteFileID] = append(groups[rec.RemoteFileID], i)
	}

	var out []batch
	for _, fileKey := range order {
		indices := groups[fileKey]
		for start := 0; start < len(indices); start += e.batchSize {
			end := min(start+e.batchSize, len(indices))
			out = append(out, batch{fileKey: fileKey, indices: indices[start:end]})
		}
	}
	return out
}

// checkBatch fills verdicts at the batch's indices. Goroutines write disjoint indices.
func (e *Engine) checkBatch(ctx context.Context, client *figma.Client, b batch, records []SlideRecord, verdicts []verdict) {
	ids := make([]string, len(b.indices))
	for i, idx := range b.indices {
		ids[i] = records[idx].RemoteFrameID
	}

	resp, err := client.GetFileNodes(ctx, b.fileKey, ids, e.nodeDepth)
	if err != nil {
		checkBatchesTotal.WithLabelValues("failed").Inc()
		if IsTransient(err) {
			e.logger.Debug("check batch skipped", "file", b.fileKey, "frames", len(ids), "error", err)
		} else {
			e.logger.Warn("check batch skipped", "file", b.fileKey, "frames", len(ids), "error", err)
		}
		for _, idx := range b.indices {
			verdicts[idx] = verdictUnchecked
		}
		return
	}
	checkBatchesTotal.WithLabelValues("ok").Inc()

	for _, idx := range b.indices {
		rec := records[idx]
		data := resp.Nodes[rec.RemoteFrameID]
		if data == nil {
			verdicts[idx] = verdictMissing
			continue
		}

		hash, err := e.hasher.Sum(&data.Document)
		if err != nil {
			e.logger.Warn("hash failed", "file", b.fileKey, "frame", rec.RemoteFrameID, "error", err)
			verdicts[idx] = verdictUnchecked
			continue
		}
		if hash != rec.ContentHash {
			e.logger.Debug("slide modified", "file", b.fileKey, "frame", rec.RemoteFrameID, "stored", rec.ContentHash, "remote", hash)
			verdicts[idx] = verdictModified
		}
	}
}

// DetectNewSlidesInFigma discovers slide-sized frames of the file that are not
// linked to any of the existing records yet.
func (e *Engine) DetectNewSlidesInFigma(ctx context.Context, fileKey string, existing []SlideRecord) (_ []discovery.Frame, err error) {
	r := e.begin(OpDetect, fileKey)
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
	frames, err := discovery.Discover(file.Document, &e.minSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileUnavailable, err)
	}

	known := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		if rec.RemoteFileID == fileKey && rec.RemoteFrameID != "" {
			known[rec.RemoteFrameID] = struct{}{}
		}
	}

	fresh := make([]discovery.Frame, 0)
	for _, f := range frames {
		if _, ok := known[f.ID]; !ok {
			fresh = append(fresh, f)
		}
	}

	e.logger.Info("new slide detection finished", "file", fileKey, "candidates", len(frames), "new", len(fresh))
	return fresh, nil
}
