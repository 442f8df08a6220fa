package transcription

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/calls"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/recordings"
	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

type stubFetcher struct {
	rec     *recordings.Recording
	err     error
	fetches int
}

func (s *stubFetcher) Fetch(ctx context.Context, locator string) (*recordings.Recording, error) {
	s.fetches++
	if s.err != nil {
		return nil, s.err
	}
	return s.rec, nil
}

type stubTranscriber struct {
	result *SpeechResult
	err    error
	calls  int
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audio []byte, extension string) (*SpeechResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubTranscriber) Engine() string { return "whisper-1" }

type stubExtractor struct {
	calls int
	err   error
}

func (s *stubExtractor) EnsureJobForTranscript(ctx context.Context, call *calls.Call, transcript *calls.Transcript) error {
	s.calls++
	return s.err
}

func goodRecording() *recordings.Recording {
	return &recordings.Recording{Audio: []byte("audio"), Extension: "mp3", ContentType: "audio/mpeg"}
}

func testRequest() Request {
	return Request{
		CallSid:      "CA100",
		From:         "+15550001111",
		To:           "+15552223333",
		RecordingSid: "RE100",
		RecordingURL: "https://provider.example.com/Recordings/RE100",
	}
}

func newTestCoordinator(repo calls.Repository, f *stubFetcher, tr *stubTranscriber, ex *stubExtractor) *Coordinator {
	cfg := CoordinatorConfig{
		Repo:        repo,
		Fetcher:     f,
		Transcriber: tr,
		Logger:      logging.Default(),
	}
	// Assigning a nil *stubExtractor directly would store a typed nil in the
	// interface field and defeat the coordinator's nil check.
	if ex != nil {
		cfg.Extractor = ex
	}
	return NewCoordinator(cfg)
}

func TestHandleRecordingCompleteHappyPath(t *testing.T) {
	repo := calls.NewInMemoryRepository()
	fetcher := &stubFetcher{rec: goodRecording()}
	engine := &stubTranscriber{result: &SpeechResult{Text: "need a plumber tomorrow", Language: "en", Confidence: 0.92}}
	extractor := &stubExtractor{}
	coord := newTestCoordinator(repo, fetcher, engine, extractor)

	res, err := coord.HandleRecordingComplete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "transcribed", res.Status)

	call, err := repo.GetBySid(context.Background(), "CA100")
	require.NoError(t, err)
	assert.Equal(t, calls.TranscriptionCompleted, call.TranscriptionStatus)

	transcript, err := repo.GetTranscript(context.Background(), "CA100")
	require.NoError(t, err)
	assert.Equal(t, "need a plumber tomorrow", transcript.Text)
	assert.Equal(t, "whisper-1", transcript.Engine)
	assert.Equal(t, 1, extractor.calls)
}

func TestHandleRecordingCompleteIdempotent(t *testing.T) {
	repo := calls.NewInMemoryRepository()
	fetcher := &stubFetcher{rec: goodRecording()}
	engine := &stubTranscriber{result: &SpeechResult{Text: "hello"}}
	coord := newTestCoordinator(repo, fetcher, engine, &stubExtractor{})

	_, err := coord.HandleRecordingComplete(context.Background(), testRequest())
	require.NoError(t, err)

	res, err := coord.HandleRecordingComplete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, "transcribed", res.Status)

	// The second delivery must not re-fetch or re-bill transcription.
	assert.Equal(t, 1, fetcher.fetches)
	assert.Equal(t, 1, engine.calls)
}

func TestHandleRecordingCompleteMissingCallSid(t *testing.T) {
	coord := newTestCoordinator(calls.NewInMemoryRepository(), &stubFetcher{}, &stubTranscriber{}, nil)

	_, err := coord.HandleRecordingComplete(context.Background(), Request{RecordingURL: "https://x"})
	assert.ErrorIs(t, err, ErrMissingCallSid)
}

func TestHandleRecordingCompleteMissingURLMarksFailed(t *testing.T) {
	repo := calls.NewInMemoryRepository()
	coord := newTestCoordinator(repo, &stubFetcher{}, &stubTranscriber{}, nil)

	req := testRequest()
	req.RecordingURL = ""
	_, err := coord.HandleRecordingComplete(context.Background(), req)
	assert.ErrorIs(t, err, ErrMissingRecordingURL)

	call, err := repo.GetBySid(context.Background(), "CA100")
	require.NoError(t, err)
	assert.Equal(t, calls.TranscriptionFailed, call.TranscriptionStatus)
	assert.True(t, call.NeedsReview)
}

func TestHandleRecordingCompleteFetchFailureMarksFailed(t *testing.T) {
	repo := calls.NewInMemoryRepository()
	coord := newTestCoordinator(repo, &stubFetcher{err: errors.New("404 everywhere")}, &stubTranscriber{}, nil)

	_, err := coord.HandleRecordingComplete(context.Background(), testRequest())
	require.Error(t, err)

	call, _ := repo.GetBySid(context.Background(), "CA100")
	assert.Equal(t, calls.TranscriptionFailed, call.TranscriptionStatus)
}

func TestHandleRecordingCompleteEmptyTranscriptIsFailure(t *testing.T) {
	repo := calls.NewInMemoryRepository()
	engine := &stubTranscriber{result: &SpeechResult{Text: "   \n "}}
	coord := newTestCoordinator(repo, &stubFetcher{rec: goodRecording()}, engine, nil)

	_, err := coord.HandleRecordingComplete(context.Background(), testRequest())
	require.Error(t, err)

	call, _ := repo.GetBySid(context.Background(), "CA100")
	assert.Equal(t, calls.TranscriptionFailed, call.TranscriptionStatus)
}

func TestHandleRecordingCompleteRetryAfterFailure(t *testing.T) {
	repo := calls.NewInMemoryRepository()
	fetcher := &stubFetcher{err: errors.New("transient")}
	engine := &stubTranscriber{result: &SpeechResult{Text: "second try works"}}
	coord := newTestCoordinator(repo, fetcher, engine, nil)

	_, err := coord.HandleRecordingComplete(context.Background(), testRequest())
	require.Error(t, err)

	fetcher.err = nil
	fetcher.rec = goodRecording()
	res, err := coord.HandleRecordingComplete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "transcribed", res.Status)

	call, _ := repo.GetBySid(context.Background(), "CA100")
	assert.Equal(t, calls.TranscriptionCompleted, call.TranscriptionStatus)
}

func TestExtractionFailureDoesNotFailPipeline(t *testing.T) {
	repo := calls.NewInMemoryRepository()
	extractor := &stubExtractor{err: errors.New("llm down")}
	coord := newTestCoordinator(repo, &stubFetcher{rec: goodRecording()}, &stubTranscriber{result: &SpeechResult{Text: "hi"}}, extractor)

	res, err := coord.HandleRecordingComplete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "transcribed", res.Status)
	assert.Equal(t, 1, extractor.calls)
}
