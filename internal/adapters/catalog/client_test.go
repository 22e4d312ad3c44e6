package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ewilliams-labs/cadenza/internal/core/domain"
)

const testTrackID = "4uLU6hMCjMI75M1A2tKUQC"

func TestClient_GetTrack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tracks/"+testTrackID {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "` + testTrackID + `",
			"name": "Windowlicker",
			"artists": [{"name": "Aphex Twin"}],
			"external_ids": {"isrc": "GBAYE9900123"},
			"preview_url": "https://p.scdn.co/mp3-preview/abc"
		}`))
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL)
	identity, err := client.GetTrack(context.Background(), testTrackID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if identity.TrackID != testTrackID {
		t.Errorf("track id: got %q", identity.TrackID)
	}
	if identity.Title != "Windowlicker" {
		t.Errorf("title: got %q", identity.Title)
	}
	if identity.ISRC != "GBAYE9900123" {
		t.Errorf("isrc: got %q", identity.ISRC)
	}
	if len(identity.Artists) != 1 || identity.Artists[0] != "Aphex Twin" {
		t.Errorf("artists: got %v", identity.Artists)
	}
	if identity.PreviewURL == "" {
		t.Error("inline preview url not mapped")
	}
}

func TestClient_GetTrack_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL)
	_, err := client.GetTrack(context.Background(), testTrackID)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClient_GetTrack_RetriesServerErrors(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "` + testTrackID + `", "name": "Windowlicker"}`))
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL, WithRetries(3, time.Millisecond))
	identity, err := client.GetTrack(context.Background(), testTrackID)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts: got %d, want 3", attempts)
	}
	if identity.Title != "Windowlicker" {
		t.Errorf("title: got %q", identity.Title)
	}
}

func TestClient_GetTrack_HonorsRetryAfter(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id": "` + testTrackID + `"}`))
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL, WithRetries(2, time.Millisecond))
	if _, err := client.GetTrack(context.Background(), testTrackID); err != nil {
		t.Fatalf("expected success after rate-limit retry, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts: got %d, want 2", attempts)
	}
}

func TestClient_GetTrack_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(server.Client(), server.URL, WithRetries(5, time.Second))
	if _, err := client.GetTrack(ctx, testTrackID); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
