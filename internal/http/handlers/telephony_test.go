package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/calls"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/events"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/routing"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/schedule"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/telephony"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/transcription"
	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

const (
	testAuthToken = "secret-token"
	testBaseURL   = "https://hooks.example.com"
)

type stubDirectory struct {
	owner *routing.Owner
	known bool
}

func (s *stubDirectory) OwnerOfNumber(ctx context.Context, toNumber string) (*routing.Owner, error) {
	if s.owner == nil {
		return nil, routing.ErrNumberUnclaimed
	}
	return s.owner, nil
}

func (s *stubDirectory) KnownCaller(ctx context.Context, ownerUserID, fromNumber string) (bool, error) {
	return s.known, nil
}

func (s *stubDirectory) HoursFor(ctx context.Context, orgID string) (*schedule.Weekly, error) {
	return nil, nil
}

type stubPipeline struct {
	mu       sync.Mutex
	requests []transcription.Request
	err      error
}

func (p *stubPipeline) HandleRecordingComplete(ctx context.Context, req transcription.Request) (*transcription.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	return &transcription.Result{Status: "transcribed"}, nil
}

func (p *stubPipeline) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type telephonyFixture struct {
	repo     *calls.InMemoryRepository
	pipeline *stubPipeline
	history  *events.InMemoryHistory
	server   *httptest.Server
}

func newTelephonyFixture(t *testing.T, dir routing.Directory, processed *events.ProcessedStore) *telephonyFixture {
	t.Helper()
	f := &telephonyFixture{
		repo:     calls.NewInMemoryRepository(),
		pipeline: &stubPipeline{},
		history:  events.NewInMemoryHistory(),
	}
	h := NewTelephonyHandler(TelephonyHandlerConfig{
		AuthToken:           testAuthToken,
		PublicBaseURL:       testBaseURL,
		StreamURL:           "wss://media.example.com/intake",
		MaxRecordingSeconds: 120,
		Router:              routing.NewRouter(dir, logging.Default()),
		Calls:               f.repo,
		Pipeline:            f.pipeline,
		Processed:           processed,
		History:             f.history,
		Logger:              logging.Default(),
	})
	r := chi.NewRouter()
	h.Routes(r)
	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

// postForm signs the payload the way the provider would and posts it.
func (f *telephonyFixture) postForm(t *testing.T, path string, form url.Values, signed bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signed {
		req.Header.Set(telephony.SignatureHeader, telephony.SignPayload(testBaseURL+path, form, testAuthToken))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]string {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func inboundForm(callSid string) url.Values {
	return url.Values{
		"CallSid": {callSid},
		"From":    {"+15550001111"},
		"To":      {"+15559990000"},
	}
}

func recordingForm(callSid, recordingSid string) url.Values {
	return url.Values{
		"CallSid":           {callSid},
		"From":              {"+15550001111"},
		"To":                {"+15559990000"},
		"RecordingSid":      {recordingSid},
		"RecordingUrl":      {"https://api.twilio.com/recordings/" + recordingSid},
		"RecordingDuration": {"42"},
	}
}

func TestInboundVoiceRejectsBadSignature(t *testing.T) {
	f := newTelephonyFixture(t, &stubDirectory{}, nil)

	resp := f.postForm(t, "/telephony/inbound-voice", inboundForm("CA100"), false)

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["error"] != "invalid signature" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestInboundVoiceIntakeStreamsToReceptionist(t *testing.T) {
	owner := &routing.Owner{UserID: "user-1", OrgID: "org-1", Mode: routing.ModeSmartAuto, BusinessName: "Apex Plumbing"}
	f := newTelephonyFixture(t, &stubDirectory{owner: owner, known: false}, nil)

	resp := f.postForm(t, "/telephony/inbound-voice", inboundForm("CA101"), true)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Errorf("expected text/xml content type, got %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "wss://media.example.com/intake") {
		t.Errorf("expected stream url in response, got %s", body)
	}

	call, err := f.repo.GetBySid(context.Background(), "CA101")
	if err != nil {
		t.Fatalf("call row not persisted: %v", err)
	}
	if call.RouteDecision != routing.RouteIntake || call.RouteReason != routing.ReasonSmartUnknown {
		t.Errorf("persisted route %s/%s", call.RouteDecision, call.RouteReason)
	}
	if call.OwnerUserID != "user-1" {
		t.Errorf("owner not persisted, got %q", call.OwnerUserID)
	}
}

func TestInboundVoiceKnownCallerGoesToVoicemail(t *testing.T) {
	owner := &routing.Owner{UserID: "user-1", OrgID: "org-1", Mode: routing.ModeSmartAuto, BusinessName: "Apex Plumbing"}
	f := newTelephonyFixture(t, &stubDirectory{owner: owner, known: true}, nil)

	resp := f.postForm(t, "/telephony/inbound-voice", inboundForm("CA102"), true)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "<Record") {
		t.Fatalf("expected Record verb, got %s", body)
	}
	if !strings.Contains(string(body), "Apex Plumbing") {
		t.Errorf("expected business name in greeting, got %s", body)
	}
	if !strings.Contains(string(body), testBaseURL+"/telephony/recording-complete") {
		t.Errorf("expected recording callback, got %s", body)
	}

	entries, err := f.history.For(context.Background(), "CA102")
	if err != nil || len(entries) != 1 || entries[0].Kind != "call.routed" {
		t.Errorf("expected one call.routed history entry, got %v (%v)", entries, err)
	}
}

func TestInboundVoiceUnclaimedNumberVoicemails(t *testing.T) {
	f := newTelephonyFixture(t, &stubDirectory{}, nil)

	resp := f.postForm(t, "/telephony/inbound-voice", inboundForm("CA103"), true)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "<Record") {
		t.Errorf("expected voicemail response, got %s", body)
	}
}

func TestInboundVoiceRequiresCallSid(t *testing.T) {
	f := newTelephonyFixture(t, &stubDirectory{}, nil)
	form := inboundForm("")
	form.Del("CallSid")

	resp := f.postForm(t, "/telephony/inbound-voice", form, true)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["error"] != "CallSid is required" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestRecordingCompleteHappyPath(t *testing.T) {
	f := newTelephonyFixture(t, &stubDirectory{}, nil)

	resp := f.postForm(t, "/telephony/recording-complete", recordingForm("CA200", "RE200"), true)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["status"] != "transcribed" {
		t.Errorf("unexpected body: %v", body)
	}
	if f.pipeline.calls() != 1 {
		t.Fatalf("expected one pipeline call, got %d", f.pipeline.calls())
	}
	got := f.pipeline.requests[0]
	if got.CallSid != "CA200" || got.RecordingSid != "RE200" || got.DurationSeconds != 42 {
		t.Errorf("unexpected pipeline request: %+v", got)
	}
}

func TestRecordingCompleteValidation(t *testing.T) {
	f := newTelephonyFixture(t, &stubDirectory{}, nil)

	t.Run("missing call sid", func(t *testing.T) {
		form := recordingForm("CA201", "RE201")
		form.Del("CallSid")
		resp := f.postForm(t, "/telephony/recording-complete", form, true)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.StatusCode)
		}
		if body := decodeBody(t, resp); body["error"] != "CallSid is required" {
			t.Errorf("unexpected body: %v", body)
		}
	})

	if f.pipeline.calls() != 0 {
		t.Errorf("pipeline should not run on invalid payloads")
	}
}

// A webhook without a RecordingUrl is a client error, but the call row must
// still land on failed so the gap shows up in review queries.
func TestRecordingCompleteMissingURLMarksCallFailed(t *testing.T) {
	f := &telephonyFixture{repo: calls.NewInMemoryRepository()}
	coord := transcription.NewCoordinator(transcription.CoordinatorConfig{
		Repo:   f.repo,
		Logger: logging.Default(),
	})
	h := NewTelephonyHandler(TelephonyHandlerConfig{
		AuthToken:     testAuthToken,
		PublicBaseURL: testBaseURL,
		Router:        routing.NewRouter(&stubDirectory{}, logging.Default()),
		Calls:         f.repo,
		Pipeline:      coord,
		Logger:        logging.Default(),
	})
	r := chi.NewRouter()
	h.Routes(r)
	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)

	if _, err := f.repo.Upsert(context.Background(), &calls.Call{CallSid: "CA205", FromNumber: "+15550001111"}); err != nil {
		t.Fatalf("seed call: %v", err)
	}

	form := recordingForm("CA205", "RE205")
	form.Del("RecordingUrl")
	resp := f.postForm(t, "/telephony/recording-complete", form, true)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["error"] != "RecordingUrl is required" {
		t.Errorf("unexpected body: %v", body)
	}
	call, err := f.repo.GetBySid(context.Background(), "CA205")
	if err != nil {
		t.Fatalf("load call: %v", err)
	}
	if call.TranscriptionStatus != calls.TranscriptionFailed {
		t.Errorf("expected failed status, got %q", call.TranscriptionStatus)
	}
}

func TestRecordingCompletePipelineFailure(t *testing.T) {
	f := newTelephonyFixture(t, &stubDirectory{}, nil)
	f.pipeline.err = errors.New("whisper unavailable")

	resp := f.postForm(t, "/telephony/recording-complete", recordingForm("CA202", "RE202"), true)

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["error"] != "transcription failed" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestRecordingCompleteDuplicateEventSkipsPipeline(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	mock.ExpectQuery("SELECT 1 FROM processed_events").
		WithArgs("twilio", "RE203").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	f := newTelephonyFixture(t, &stubDirectory{}, events.NewProcessedStoreWithQuerier(mock))

	resp := f.postForm(t, "/telephony/recording-complete", recordingForm("CA203", "RE203"), true)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["status"] != "duplicate" {
		t.Errorf("unexpected body: %v", body)
	}
	if f.pipeline.calls() != 0 {
		t.Errorf("pipeline must not run for a replayed event")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecordingCompleteMarksEventAfterSuccess(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	mock.ExpectQuery("SELECT 1 FROM processed_events").
		WithArgs("twilio", "RE204").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}))
	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("twilio", "RE204").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	f := newTelephonyFixture(t, &stubDirectory{}, events.NewProcessedStoreWithQuerier(mock))

	resp := f.postForm(t, "/telephony/recording-complete", recordingForm("CA204", "RE204"), true)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if f.pipeline.calls() != 1 {
		t.Fatalf("expected one pipeline call, got %d", f.pipeline.calls())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
