package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/calls"
	observemetrics "github.com/atticusjxn/FlynnAIapp-sub006/internal/observability/metrics"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/recordings"
	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

var (
	// ErrMissingCallSid is a client error: the webhook is unusable.
	ErrMissingCallSid = errors.New("transcription: CallSid is required")
	// ErrMissingRecordingURL is a client error, but the call row is still
	// moved to failed so the gap is inspectable.
	ErrMissingRecordingURL = errors.New("transcription: RecordingUrl is required")
)

type recordingFetcher interface {
	Fetch(ctx context.Context, locator string) (*recordings.Recording, error)
}

type recordingArchive interface {
	Enabled() bool
	Store(ctx context.Context, callSid string, rec *recordings.Recording) (string, error)
}

// jobCreator hands a completed transcript to the lead extractor.
type jobCreator interface {
	EnsureJobForTranscript(ctx context.Context, call *calls.Call, transcript *calls.Transcript) error
}

// Request is the decoded recording-complete webhook.
type Request struct {
	CallSid         string
	From            string
	To              string
	RecordingSid    string
	RecordingURL    string
	DurationSeconds int
}

// Result reports what the pipeline did.
type Result struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"-"`
}

// Coordinator turns a recording into a transcript exactly once per call and
// leaves the call row in a terminal, inspectable state on every failure path.
// failureAlerter tells the business owner about a call whose transcription
// permanently failed. Implemented by internal/notify.
type failureAlerter interface {
	TranscriptionFailed(ctx context.Context, callSid, reason string) error
}

type Coordinator struct {
	repo        calls.Repository
	fetcher     recordingFetcher
	archive     recordingArchive
	transcriber Transcriber
	extractor   jobCreator
	alerter     failureAlerter
	logger      *logging.Logger
	metrics     *observemetrics.PipelineMetrics
}

type CoordinatorConfig struct {
	Repo        calls.Repository
	Fetcher     recordingFetcher
	Archive     recordingArchive
	Transcriber Transcriber
	Extractor   jobCreator
	// Alerter is optional; failures are durable state either way.
	Alerter failureAlerter
	Logger  *logging.Logger
	Metrics *observemetrics.PipelineMetrics
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Coordinator{
		repo:        cfg.Repo,
		fetcher:     cfg.Fetcher,
		archive:     cfg.Archive,
		transcriber: cfg.Transcriber,
		extractor:   cfg.Extractor,
		alerter:     cfg.Alerter,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// HandleRecordingComplete is safe to invoke multiple times for the same
// call: an existing transcript short-circuits before any paid external call.
func (c *Coordinator) HandleRecordingComplete(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.CallSid) == "" {
		return nil, ErrMissingCallSid
	}

	// Ensure the call row exists even when the inbound-voice webhook was
	// lost, and attach the recording metadata.
	if _, err := c.repo.Upsert(ctx, &calls.Call{
		CallSid:    req.CallSid,
		FromNumber: req.From,
		ToNumber:   req.To,
	}); err != nil {
		return nil, err
	}
	if req.RecordingURL != "" || req.RecordingSid != "" {
		if err := c.repo.SetRecording(ctx, req.CallSid, req.RecordingSid, req.RecordingURL, req.DurationSeconds); err != nil {
			return nil, err
		}
	}

	// Idempotency guard against provider webhook retries: if a transcript
	// already exists we are done, with no re-fetch and no re-billing.
	if _, err := c.repo.GetTranscript(ctx, req.CallSid); err == nil {
		if err := c.repo.UpdateTranscriptionStatus(ctx, req.CallSid, calls.TranscriptionCompleted); err != nil && !errors.Is(err, calls.ErrInvalidTransition) {
			c.logger.Warn("failed to restamp completed status", "call_sid", req.CallSid, "error", err)
		}
		c.metrics.ObserveTranscription("duplicate")
		return &Result{Status: "transcribed", Duplicate: true}, nil
	} else if !errors.Is(err, calls.ErrTranscriptNotFound) {
		return nil, err
	}

	if strings.TrimSpace(req.RecordingURL) == "" {
		c.markFailed(ctx, req.CallSid, "recording url missing")
		return nil, ErrMissingRecordingURL
	}

	rec, err := c.fetcher.Fetch(ctx, req.RecordingURL)
	if err != nil {
		c.markFailed(ctx, req.CallSid, "recording download failed")
		return nil, fmt.Errorf("transcription: fetch recording: %w", err)
	}

	if c.archive != nil && c.archive.Enabled() {
		if key, err := c.archive.Store(ctx, req.CallSid, rec); err != nil {
			c.logger.Warn("recording archive failed", "call_sid", req.CallSid, "error", err)
		} else {
			c.logger.Info("recording archived", "call_sid", req.CallSid, "key", key)
		}
	}

	if err := c.repo.UpdateTranscriptionStatus(ctx, req.CallSid, calls.TranscriptionProcessing); err != nil {
		return nil, err
	}

	speech, err := c.transcriber.Transcribe(ctx, rec.Audio, rec.Extension)
	if err != nil {
		c.markFailed(ctx, req.CallSid, "speech-to-text failed")
		return nil, fmt.Errorf("transcription: speech-to-text: %w", err)
	}
	if strings.TrimSpace(speech.Text) == "" {
		// Whitespace-only output means the engine produced nothing usable,
		// not a valid empty transcript.
		c.markFailed(ctx, req.CallSid, "empty transcript")
		return nil, errors.New("transcription: engine returned empty text")
	}

	transcript := &calls.Transcript{
		CallSid:    req.CallSid,
		Engine:     c.transcriber.Engine(),
		Text:       speech.Text,
		Confidence: speech.Confidence,
		Language:   speech.Language,
	}
	created, err := c.repo.InsertTranscript(ctx, transcript)
	if err != nil {
		c.markFailed(ctx, req.CallSid, "transcript persist failed")
		return nil, err
	}
	if !created {
		// A concurrent delivery won the insert; treat ours as a duplicate.
		c.logger.Info("transcript already present, keeping existing row", "call_sid", req.CallSid)
	}
	if err := c.repo.UpdateTranscriptionStatus(ctx, req.CallSid, calls.TranscriptionCompleted); err != nil {
		return nil, err
	}
	c.metrics.ObserveTranscription("completed")

	if c.extractor != nil {
		call, err := c.repo.GetBySid(ctx, req.CallSid)
		if err == nil {
			if err := c.extractor.EnsureJobForTranscript(ctx, call, transcript); err != nil {
				// Extraction failure never undoes a finished transcription;
				// the call is flagged for manual review instead.
				c.logger.Error("lead extraction failed", "call_sid", req.CallSid, "error", err)
			}
		}
	}

	return &Result{Status: "transcribed"}, nil
}

func (c *Coordinator) markFailed(ctx context.Context, callSid, reason string) {
	if err := c.repo.UpdateTranscriptionStatus(ctx, callSid, calls.TranscriptionFailed); err != nil {
		c.logger.Error("failed to mark call failed", "call_sid", callSid, "error", err)
		return
	}
	if err := c.repo.MarkForReview(ctx, callSid, reason); err != nil {
		c.logger.Error("failed to flag call for review", "call_sid", callSid, "error", err)
	}
	c.metrics.ObserveTranscription("failed")
	if c.alerter != nil {
		if err := c.alerter.TranscriptionFailed(ctx, callSid, reason); err != nil {
			c.logger.Error("owner alert failed", "call_sid", callSid, "error", err)
		}
	}
}
