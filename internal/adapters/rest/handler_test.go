package rest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ewilliams-labs/cadenza/internal/core/domain"
	"github.com/ewilliams-labs/cadenza/internal/core/ports"
	"github.com/ewilliams-labs/cadenza/internal/core/services"
	"github.com/ewilliams-labs/cadenza/internal/worker"
)

const (
	testTrackID  = "4uLU6hMCjMI75M1A2tKUQC"
	testTrackID2 = "7ouMYWpwJ422jRcDASZB7P"
	testISRC     = "GBAYE9900123"
)

// --- Fake ports wiring a real orchestrator ---

type fakeCatalog struct{}

func (fakeCatalog) GetTrack(ctx context.Context, trackID string) (domain.TrackIdentity, error) {
	return domain.TrackIdentity{
		TrackID: trackID,
		ISRC:    testISRC,
		Title:   "Windowlicker",
		Artists: []string{"Aphex Twin"},
	}, nil
}

type fakeLocator struct {
	err error
}

func (f fakeLocator) Locate(ctx context.Context, identity domain.TrackIdentity, market string) (domain.PreviewResolution, error) {
	if f.err != nil {
		return domain.PreviewResolution{IdentityMismatch: errors.Is(f.err, domain.ErrIdentityMismatch)}, f.err
	}
	return domain.PreviewResolution{
		Provider:  "deezer-isrc",
		URL:       "https://cdnt-preview.dzcdn.net/clip.mp3",
		Attempted: []string{"https://cdnt-preview.dzcdn.net/clip.mp3"},
	}, nil
}

type fakeAnalysis struct{}

func (fakeAnalysis) Analyze(ctx context.Context, url string) (domain.AnalysisResult, error) {
	return domain.AnalysisResult{
		Essentia: domain.AnalysisOutcome{
			Tempo: &domain.TempoEstimate{BPM: 123, RawBPM: 122.97, Confidence: 0.8},
			Key:   &domain.KeyEstimate{Key: "F#", Scale: domain.ScaleMinor, Confidence: 0.7},
		},
	}, nil
}

func (f fakeAnalysis) AnalyzeBatch(ctx context.Context, urls []string) (<-chan ports.StreamedResult, error) {
	out := make(chan ports.StreamedResult, len(urls))
	for i := range urls {
		r, _ := f.Analyze(ctx, urls[i])
		out <- ports.StreamedResult{Index: i, Result: r}
	}
	close(out)
	return out, nil
}

type fakeRepo struct {
	mu   sync.Mutex
	recs map[string]domain.FeatureRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{recs: make(map[string]domain.FeatureRecord)}
}

func (r *fakeRepo) Find(ctx context.Context, trackID, isrc string) (domain.FeatureRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if isrc != "" {
		for _, rec := range r.recs {
			if rec.ISRC == isrc {
				return rec, nil
			}
		}
	}
	rec, ok := r.recs[trackID]
	if !ok {
		return domain.FeatureRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (r *fakeRepo) Upsert(ctx context.Context, rec domain.FeatureRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prior, ok := r.recs[rec.TrackID]; ok {
		rec.Manual = prior.Manual
		if prior.TempoSource == domain.SourceManual {
			rec.TempoSource = domain.SourceManual
		}
		if prior.KeySource == domain.SourceManual {
			rec.KeySource = domain.SourceManual
		}
	}
	r.recs[rec.TrackID] = rec
	return nil
}

func (r *fakeRepo) SetManualOverride(ctx context.Context, trackID string, o domain.ManualOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.recs[trackID]
	rec.TrackID = trackID
	if o.BPM != nil {
		rec.Manual.BPM = o.BPM
		rec.TempoSource = domain.SourceManual
	}
	if o.Key != nil {
		rec.Manual.Key = o.Key
		rec.KeySource = domain.SourceManual
	}
	if o.Scale != nil {
		rec.Manual.Scale = o.Scale
	}
	r.recs[trackID] = rec
	return nil
}

func (r *fakeRepo) ClearManualOverride(ctx context.Context, trackID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[trackID]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Manual = domain.ManualOverride{}
	rec.TempoSource = ""
	rec.KeySource = ""
	if src, ok := domain.SelectTempo(rec.Essentia.Tempo, rec.Aubio.Tempo); ok {
		rec.TempoSource = src
	}
	if src, ok := domain.SelectKey(rec.Essentia.Key, rec.Aubio.Key); ok {
		rec.KeySource = src
	}
	r.recs[trackID] = rec
	return nil
}

func (r *fakeRepo) Stale(ctx context.Context, cutoff time.Time, limit int) ([]domain.FeatureRecord, error) {
	return nil, nil
}

func newTestHandler(t *testing.T, locator fakeLocator) *Handler {
	t.Helper()
	svc := services.NewOrchestrator(fakeCatalog{}, locator, fakeAnalysis{}, newFakeRepo(), nil, "US", nil)
	pool := worker.NewPool(svc, 8, nil)
	pool.Start(1)
	t.Cleanup(pool.Stop)
	return NewHandler(svc, pool, nil)
}

// --- Tests ---

func TestHandler_TrackFeatures(t *testing.T) {
	h := newTestHandler(t, fakeLocator{})

	req := httptest.NewRequest(http.MethodGet, "/v1/tracks/"+testTrackID+"/features", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}

	var resp featureResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TrackID != testTrackID {
		t.Errorf("trackId: got %q", resp.TrackID)
	}
	if resp.BPM == nil || *resp.BPM != 123 {
		t.Errorf("bpm: got %v", resp.BPM)
	}
	if resp.Key == nil || *resp.Key != "F#" {
		t.Errorf("key: got %v", resp.Key)
	}
	if resp.TempoSource != "essentia" {
		t.Errorf("tempoSource: got %q", resp.TempoSource)
	}
}

func TestHandler_TrackFeatures_InvalidID(t *testing.T) {
	h := newTestHandler(t, fakeLocator{})

	req := httptest.NewRequest(http.MethodGet, "/v1/tracks/nope/features", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", w.Code)
	}
}

func TestHandler_TrackFeatures_MismatchServedAsDiagnostics(t *testing.T) {
	h := newTestHandler(t, fakeLocator{
		err: domain.IdentityMismatchError{Provider: "deezer-search", ExpectedISRC: testISRC, Candidates: 2},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/tracks/"+testTrackID+"/features", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	// A persisted terminal failure is still an answer, not a 5xx.
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}

	var resp featureResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.IdentityMismatch {
		t.Error("identityMismatch flag not surfaced")
	}
	if resp.Error == "" {
		t.Error("error text not surfaced")
	}
	if resp.BPM != nil {
		t.Error("bpm must be absent on a mismatch record")
	}
}

func TestHandler_OverrideLifecycle(t *testing.T) {
	h := newTestHandler(t, fakeLocator{})

	// Prime the cache.
	req := httptest.NewRequest(http.MethodGet, "/v1/tracks/"+testTrackID+"/features", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	body := strings.NewReader(`{"bpm": 99.5, "key": "C", "scale": "major"}`)
	req = httptest.NewRequest(http.MethodPut, "/v1/tracks/"+testTrackID+"/override", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("set override status: got %d, body %s", w.Code, w.Body.String())
	}
	var resp featureResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.BPM == nil || *resp.BPM != 99.5 {
		t.Errorf("pinned bpm: got %v", resp.BPM)
	}
	if resp.TempoSource != "manual" {
		t.Errorf("tempoSource: got %q, want manual", resp.TempoSource)
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/tracks/"+testTrackID+"/override", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("clear override status: got %d", w.Code)
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.TempoSource == "manual" {
		t.Error("tempoSource still manual after clear")
	}
	if resp.BPM == nil || *resp.BPM != 123 {
		t.Errorf("bpm after clear: got %v, want algorithmic 123", resp.BPM)
	}
}

func TestHandler_SetOverride_Validation(t *testing.T) {
	h := newTestHandler(t, fakeLocator{})

	tests := []struct {
		name        string
		contentType string
		body        string
		wantStatus  int
	}{
		{
			name:        "wrong content type",
			contentType: "text/plain",
			body:        `{"bpm": 99}`,
			wantStatus:  http.StatusUnsupportedMediaType,
		},
		{
			name:        "empty override",
			contentType: "application/json",
			body:        `{}`,
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "bad scale",
			contentType: "application/json",
			body:        `{"key": "C", "scale": "dorian"}`,
			wantStatus:  http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/v1/tracks/"+testTrackID+"/override", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status: got %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandler_Recompute(t *testing.T) {
	h := newTestHandler(t, fakeLocator{})

	req := httptest.NewRequest(http.MethodPost, "/v1/tracks/"+testTrackID+"/recompute", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202", w.Code)
	}
}

func TestHandler_StreamBatch(t *testing.T) {
	h := newTestHandler(t, fakeLocator{})
	server := httptest.NewServer(h)
	defer server.Close()

	body := strings.NewReader(`{"trackIds": ["` + testTrackID + `", "` + testTrackID2 + `"]}`)
	resp, err := http.Post(server.URL+"/v1/features/batch", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/x-ndjson" {
		t.Errorf("content type: got %q", got)
	}

	var results, done int
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var ev batchEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("malformed event line %q: %v", scanner.Text(), err)
		}
		switch ev.Type {
		case "result":
			results++
			if ev.Error != "" {
				t.Errorf("track %s: %s", ev.TrackID, ev.Error)
			}
			if ev.Record == nil || ev.Record.BPM == nil {
				t.Errorf("track %s: missing record data", ev.TrackID)
			}
		case "done":
			done++
			if ev.Count != 2 {
				t.Errorf("done count: got %d, want 2", ev.Count)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}
	if results != 2 || done != 1 {
		t.Fatalf("events: got %d results / %d done", results, done)
	}
}

// stallingAnalysis delivers every result immediately but keeps the stream
// channel open until the context dies, holding the batch response open.
type stallingAnalysis struct {
	fakeAnalysis
}

func (s stallingAnalysis) AnalyzeBatch(ctx context.Context, urls []string) (<-chan ports.StreamedResult, error) {
	out := make(chan ports.StreamedResult, len(urls))
	for i := range urls {
		r, _ := s.Analyze(ctx, urls[i])
		out <- ports.StreamedResult{Index: i, Result: r}
	}
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

func TestHandler_StreamBatch_SessionSupersede(t *testing.T) {
	svc := services.NewOrchestrator(fakeCatalog{}, fakeLocator{}, stallingAnalysis{}, newFakeRepo(), nil, "US", nil)
	h := NewHandler(svc, nil, nil)
	server := httptest.NewServer(h)
	defer server.Close()

	first, err := http.Post(server.URL+"/v1/features/batch", "application/json",
		strings.NewReader(`{"trackIds": ["`+testTrackID+`"], "sessionId": "s1"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer first.Body.Close()

	// Wait for the first result event so the stream is established and
	// known to be held open by the stalled analysis channel.
	reader := bufio.NewReader(first.Body)
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("first stream produced no event: %v", err)
	}

	// A second batch for the same session replaces the first stream. The
	// request context keeps the second stream cancellable at test end.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server.URL+"/v1/features/batch",
		strings.NewReader(`{"trackIds": ["`+testTrackID2+`"], "sessionId": "s1"}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
		}
	}()

	terminated := make(chan struct{})
	go func() {
		defer close(terminated)
		for {
			if _, err := reader.ReadString('\n'); err != nil {
				return
			}
		}
	}()

	select {
	case <-terminated:
	case <-time.After(5 * time.Second):
		t.Fatal("first stream was not terminated by the superseding request")
	}
}

func TestHandler_StreamBatch_RejectsEmpty(t *testing.T) {
	h := newTestHandler(t, fakeLocator{})

	req := httptest.NewRequest(http.MethodPost, "/v1/features/batch", strings.NewReader(`{"trackIds": []}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", w.Code)
	}
}

func TestHandler_HealthCheck(t *testing.T) {
	h := newTestHandler(t, fakeLocator{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
}
