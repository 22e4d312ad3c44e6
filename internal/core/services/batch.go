package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ewilliams-labs/cadenza/internal/core/domain"
)

const (
	// resolveConcurrency bounds how many catalog+preview resolutions run at
	// once within a chunk.
	resolveConcurrency = 5
	// analysisChunkSize is the maximum number of URLs per outer analysis
	// batch submission.
	analysisChunkSize = 20
	// streamBuffer bounds the incremental feed to the caller. Backpressure
	// from a slow consumer propagates back to the network read.
	streamBuffer = 16
)

// StreamItem is one incremental result on the batch feed.
type StreamItem struct {
	TrackID string
	Record  domain.FeatureRecord
	Err     error
	Cached  bool // served straight from a valid cache hit
}

// pendingTrack tracks one uncached id through the batch pipeline stages.
type pendingTrack struct {
	id       string
	identity domain.TrackIdentity
	rec      domain.FeatureRecord
	done     bool
}

// StreamFeatures resolves every id in trackIDs and emits records on the
// returned channel as they become available: cache hits first, then streamed
// analysis results in arrival order. The channel is closed when all ids have
// been answered or ctx is cancelled. Ids already being resolved elsewhere
// attach to the in-flight operation instead of duplicating it.
func (o *Orchestrator) StreamFeatures(ctx context.Context, trackIDs []string) <-chan StreamItem {
	out := make(chan StreamItem, streamBuffer)
	go func() {
		defer close(out)
		o.runBatch(ctx, dedupe(trackIDs), out)
	}()
	return out
}

func (o *Orchestrator) runBatch(ctx context.Context, trackIDs []string, out chan<- StreamItem) {
	var (
		pend    []*pendingTrack
		waiters sync.WaitGroup
	)

	for _, id := range trackIDs {
		if err := domain.ValidateTrackID(id); err != nil {
			emit(ctx, out, StreamItem{TrackID: id, Err: err})
			continue
		}

		if rec, ok, err := o.cached(ctx, id, ""); err != nil {
			emit(ctx, out, StreamItem{TrackID: id, Err: err})
			continue
		} else if ok {
			emit(ctx, out, StreamItem{TrackID: id, Record: o.serve(rec), Cached: true})
			continue
		}

		owner, ch := o.flight.join(id)
		if !owner {
			waiters.Add(1)
			go func(id string, ch <-chan outcome) {
				defer waiters.Done()
				select {
				case res := <-ch:
					emit(ctx, out, StreamItem{TrackID: id, Record: res.rec, Err: res.err})
				case <-ctx.Done():
				}
			}(id, ch)
			continue
		}
		pend = append(pend, &pendingTrack{id: id})
	}

	for start := 0; start < len(pend); start += analysisChunkSize {
		end := start + analysisChunkSize
		if end > len(pend) {
			end = len(pend)
		}
		o.runChunk(ctx, pend[start:end], out)
	}

	waiters.Wait()
}

// runChunk drives one outer batch: bounded-concurrency resolution, a single
// streamed analysis submission, incremental selection+persistence+emission.
// Every track in the chunk is completed exactly once, releasing its
// coalescing key even on cancellation.
func (o *Orchestrator) runChunk(ctx context.Context, chunk []*pendingTrack, out chan<- StreamItem) {
	sem := semaphore.NewWeighted(resolveConcurrency)
	var wg sync.WaitGroup

	for _, t := range chunk {
		if err := sem.Acquire(ctx, 1); err != nil {
			o.finish(ctx, t, outcome{err: err}, out)
			continue
		}
		wg.Add(1)
		go func(t *pendingTrack) {
			defer wg.Done()
			defer sem.Release(1)
			o.resolvePending(ctx, t, out)
		}(t)
	}
	wg.Wait()

	var (
		urls    []string
		byIndex []*pendingTrack
	)
	for _, t := range chunk {
		if t.done {
			continue
		}
		urls = append(urls, t.rec.PreviewURL)
		byIndex = append(byIndex, t)
	}
	if len(urls) == 0 {
		return
	}

	stream, err := o.analysis.AnalyzeBatch(ctx, urls)
	if err != nil {
		o.failRemaining(ctx, byIndex, domain.AnalysisError{Stage: "submit", Err: err}, out)
		return
	}

	for sr := range stream {
		if sr.Index < 0 {
			// Batch-wide failure event: terminal for every undelivered track.
			o.failRemaining(ctx, byIndex, domain.AnalysisError{Stage: "stream", Err: sr.Err}, out)
			continue
		}
		if sr.Index >= len(byIndex) {
			o.log.Warn("analysis stream returned unknown index", "index", sr.Index)
			continue
		}
		t := byIndex[sr.Index]
		if t.done {
			continue
		}
		if sr.Err != nil {
			t.rec.Error = fmt.Sprintf("analysis failed: %v", sr.Err)
			t.rec.UpdatedAt = o.now()
			o.persist(ctx, t.rec)
			o.finish(ctx, t, outcome{rec: o.serve(t.rec), err: sr.Err}, out)
			continue
		}
		t.rec.ApplyAnalysis(sr.Result)
		t.rec.Error = ""
		t.rec.UpdatedAt = o.now()
		o.persist(ctx, t.rec)
		o.finish(ctx, t, outcome{rec: o.serve(t.rec)}, out)
	}

	// The service never delivered some indexes: terminal for this attempt.
	o.failRemaining(ctx, byIndex, domain.AnalysisError{Stage: "stream", Err: errors.New("no result received")}, out)
}

// resolvePending runs catalog lookup and the preview cascade for one pending
// track. Failures are terminal here and never reach the analysis stage.
func (o *Orchestrator) resolvePending(ctx context.Context, t *pendingTrack, out chan<- StreamItem) {
	identity, err := o.catalog.GetTrack(ctx, t.id)
	if err != nil {
		o.finish(ctx, t, outcome{err: fmt.Errorf("service: catalog lookup: %w", err)}, out)
		return
	}
	t.identity = identity

	if identity.ISRC != "" {
		if rec, ok, err := o.cached(ctx, t.id, identity.ISRC); err == nil && ok {
			o.finish(ctx, t, outcome{rec: o.serve(rec)}, out)
			return
		}
	}

	rec, err := o.resolveStage(ctx, identity)
	if err != nil {
		o.finish(ctx, t, outcome{rec: o.serve(rec), err: err}, out)
		return
	}
	t.rec = rec
}

// finish completes a pending track: waiters on the coalescing key get the
// outcome, and the item is emitted to this batch's feed.
func (o *Orchestrator) finish(ctx context.Context, t *pendingTrack, res outcome, out chan<- StreamItem) {
	if t.done {
		return
	}
	t.done = true
	o.flight.complete(t.id, res)
	emit(ctx, out, StreamItem{TrackID: t.id, Record: res.rec, Err: res.err})
}

func (o *Orchestrator) failRemaining(ctx context.Context, tracks []*pendingTrack, aerr domain.AnalysisError, out chan<- StreamItem) {
	for _, t := range tracks {
		if t.done {
			continue
		}
		t.rec.Error = aerr.Error()
		t.rec.UpdatedAt = o.now()
		o.persist(ctx, t.rec)
		o.finish(ctx, t, outcome{rec: o.serve(t.rec), err: aerr}, out)
	}
}

func emit(ctx context.Context, out chan<- StreamItem, item StreamItem) {
	select {
	case out <- item:
	case <-ctx.Done():
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
