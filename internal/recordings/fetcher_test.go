package recordings

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

func newTestFetcher(ts *httptest.Server) *Fetcher {
	f := NewFetcher("ACxxx", "token", logging.Default())
	f.httpClient = ts.Client()
	return f
}

func TestFetchVerbatimAudioContentType(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3-audio-bytes"))
	}))
	defer ts.Close()

	rec, err := newTestFetcher(ts).Fetch(context.Background(), ts.URL+"/Recordings/RE123")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.Extension != "mp3" {
		t.Errorf("expected mp3 extension from content-type, got %s", rec.Extension)
	}
	if len(rec.Audio) == 0 {
		t.Error("expected audio bytes")
	}
}

func TestFetchFallsBackToExtensionCandidates(t *testing.T) {
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/Recordings/RE123":
			// Plain locator serves HTML, which must be rejected.
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>not audio</html>"))
		case "/Recordings/RE123.mp3":
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Write([]byte("mp3-bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	rec, err := newTestFetcher(ts).Fetch(context.Background(), ts.URL+"/Recordings/RE123")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.SourceURL != ts.URL+"/Recordings/RE123.mp3" {
		t.Errorf("expected .mp3 candidate used, got %s", rec.SourceURL)
	}
	if len(paths) != 2 {
		t.Errorf("expected 2 attempts, got %d (%v)", len(paths), paths)
	}
}

func TestFetchAcceptsAmbiguousContentTypeWithAudioURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("wav-bytes"))
	}))
	defer ts.Close()

	rec, err := newTestFetcher(ts).Fetch(context.Background(), ts.URL+"/Recordings/RE123.wav")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.Extension != "wav" {
		t.Errorf("expected wav extension from url, got %s", rec.Extension)
	}
}

func TestFetchExhaustedCandidatesIsHardFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := newTestFetcher(ts).Fetch(context.Background(), ts.URL+"/Recordings/RE123")
	if !errors.Is(err, ErrAllCandidatesFailed) {
		t.Errorf("expected ErrAllCandidatesFailed, got %v", err)
	}
}

func TestInferExtension(t *testing.T) {
	cases := []struct {
		contentType, url, want string
	}{
		{"audio/mpeg", "https://x/y", "mp3"},
		{"audio/x-wav", "https://x/y", "wav"},
		{"", "https://x/y.wav?sig=abc", "wav"},
		{"application/octet-stream", "https://x/y.m4a", "m4a"},
		{"", "https://x/y", "mp3"},
	}
	for _, tc := range cases {
		if got := inferExtension(tc.contentType, tc.url); got != tc.want {
			t.Errorf("inferExtension(%q, %q) = %q, want %q", tc.contentType, tc.url, got, tc.want)
		}
	}
}
