package extraction

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/calls"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/jobs"
)

type stubLLM struct {
	calls atomic.Int32
	text  string
	err   error
}

func (s *stubLLM) Complete(_ context.Context, _ LLMRequest) (LLMResponse, error) {
	s.calls.Add(1)
	if s.err != nil {
		return LLMResponse{}, s.err
	}
	return LLMResponse{Text: s.text}, nil
}

type stubScheduler struct {
	jobIDs []string
	err    error
}

func (s *stubScheduler) ScheduleForJob(_ context.Context, jobID string) error {
	s.jobIDs = append(s.jobIDs, jobID)
	return s.err
}

func newTestExtractor(t *testing.T, llm LLMClient, sched reminderScheduler) (*Extractor, calls.Repository, *jobs.InMemoryRepository) {
	t.Helper()
	callRepo := calls.NewInMemoryRepository()
	jobRepo := jobs.NewInMemoryRepository()
	ex, err := New(Config{
		LLM:       llm,
		ModelID:   "anthropic.claude-3-5-haiku-20241022-v1:0",
		Calls:     callRepo,
		Jobs:      jobRepo,
		Scheduler: sched,
	})
	require.NoError(t, err)
	return ex, callRepo, jobRepo
}

func seedCall(t *testing.T, repo calls.Repository) *calls.Call {
	t.Helper()
	call, err := repo.Upsert(context.Background(), &calls.Call{
		CallSid:     "CA100",
		FromNumber:  "+15550001111",
		ToNumber:    "+15559990000",
		OwnerUserID: "user-1",
	})
	require.NoError(t, err)
	return call
}

func TestEnsureJobForTranscriptCreatesJob(t *testing.T) {
	llm := &stubLLM{text: `{"customerName":"Sarah Chen","customerPhone":"(555) 000-1111","serviceType":"hot water repair","preferredDate":"2026-08-29","preferredTime":"14:00","location":"12 Bay St","urgency":"high","additionalNotes":"gate code 4321"}`}
	sched := &stubScheduler{}
	ex, callRepo, jobRepo := newTestExtractor(t, llm, sched)
	call := seedCall(t, callRepo)

	err := ex.EnsureJobForTranscript(context.Background(), call, &calls.Transcript{
		CallSid: call.CallSid,
		Text:    "hi this is Sarah, my hot water is broken...",
	})
	require.NoError(t, err)

	job, err := jobRepo.GetBySourceCall(context.Background(), "CA100")
	require.NoError(t, err)
	assert.Equal(t, "Sarah Chen", job.CustomerName)
	assert.Equal(t, "+15550001111", job.CustomerPhone)
	assert.Equal(t, "hot water repair", job.ServiceType)
	assert.Equal(t, "2026-08-29", job.ScheduledDate)
	assert.Equal(t, "14:00", job.ScheduledTime)
	assert.Equal(t, jobs.UrgencyHigh, job.Urgency)
	assert.Equal(t, jobs.StatusNew, job.Status)
	assert.True(t, job.RemindersEnabled)
	assert.Equal(t, []string{job.ID}, sched.jobIDs)
}

func TestEnsureJobForTranscriptIsIdempotent(t *testing.T) {
	llm := &stubLLM{text: `{"customerName":"Sarah Chen","serviceType":"repair"}`}
	ex, callRepo, jobRepo := newTestExtractor(t, llm, nil)
	call := seedCall(t, callRepo)
	transcript := &calls.Transcript{CallSid: call.CallSid, Text: "transcript"}

	require.NoError(t, ex.EnsureJobForTranscript(context.Background(), call, transcript))
	require.NoError(t, ex.EnsureJobForTranscript(context.Background(), call, transcript))

	listed, err := jobRepo.ListByOwner(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
	assert.Equal(t, int32(1), llm.calls.Load(), "second delivery must not re-run the model")
}

func TestEnsureJobIncompleteFlagsReview(t *testing.T) {
	// No customer name: gate fails even with phone present.
	llm := &stubLLM{text: `{"customerPhone":"+15550001111","serviceType":"repair"}`}
	ex, callRepo, jobRepo := newTestExtractor(t, llm, nil)
	call := seedCall(t, callRepo)

	err := ex.EnsureJobForTranscript(context.Background(), call, &calls.Transcript{CallSid: call.CallSid, Text: "mumbling"})
	require.NoError(t, err)

	_, err = jobRepo.GetBySourceCall(context.Background(), "CA100")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	stored, err := callRepo.GetBySid(context.Background(), "CA100")
	require.NoError(t, err)
	assert.True(t, stored.NeedsReview)
	assert.Contains(t, stored.ReviewReason, "incomplete")
}

func TestEnsureJobCallerIDFallbackSatisfiesGate(t *testing.T) {
	// Name only: the caller ID fills customerPhone and the gate passes.
	llm := &stubLLM{text: `{"customerName":"Sarah Chen"}`}
	ex, callRepo, jobRepo := newTestExtractor(t, llm, nil)
	call := seedCall(t, callRepo)

	require.NoError(t, ex.EnsureJobForTranscript(context.Background(), call, &calls.Transcript{CallSid: call.CallSid, Text: "t"}))

	job, err := jobRepo.GetBySourceCall(context.Background(), "CA100")
	require.NoError(t, err)
	assert.Equal(t, "+15550001111", job.CustomerPhone)
}

func TestEnsureJobLLMFailureFlagsReview(t *testing.T) {
	llm := &stubLLM{err: errors.New("throttled")}
	ex, callRepo, _ := newTestExtractor(t, llm, nil)
	call := seedCall(t, callRepo)

	err := ex.EnsureJobForTranscript(context.Background(), call, &calls.Transcript{CallSid: call.CallSid, Text: "t"})
	require.Error(t, err)

	stored, err := callRepo.GetBySid(context.Background(), "CA100")
	require.NoError(t, err)
	assert.True(t, stored.NeedsReview)
}

func TestEnsureJobNoOwner(t *testing.T) {
	llm := &stubLLM{text: `{}`}
	ex, callRepo, _ := newTestExtractor(t, llm, nil)
	call, err := callRepo.Upsert(context.Background(), &calls.Call{CallSid: "CA200", FromNumber: "+15550001111"})
	require.NoError(t, err)

	err = ex.EnsureJobForTranscript(context.Background(), call, &calls.Transcript{CallSid: "CA200", Text: "t"})
	assert.ErrorIs(t, err, ErrNoOwner)
	assert.Equal(t, int32(0), llm.calls.Load())
}

func TestEnsureJobSchedulerFailureDoesNotUndoJob(t *testing.T) {
	llm := &stubLLM{text: `{"customerName":"Sarah Chen","serviceType":"repair"}`}
	sched := &stubScheduler{err: errors.New("redis down")}
	ex, callRepo, jobRepo := newTestExtractor(t, llm, sched)
	call := seedCall(t, callRepo)

	require.NoError(t, ex.EnsureJobForTranscript(context.Background(), call, &calls.Transcript{CallSid: call.CallSid, Text: "t"}))

	_, err := jobRepo.GetBySourceCall(context.Background(), "CA100")
	assert.NoError(t, err)
}

func TestEnsureJobForConversation(t *testing.T) {
	llm := &stubLLM{text: `{"customerName":"Mike O'Neil","serviceType":"gutter cleaning","urgency":"LOW"}`}
	ex, callRepo, jobRepo := newTestExtractor(t, llm, nil)
	call := seedCall(t, callRepo)

	turns := []Turn{
		{Speaker: "assistant", Text: "Thanks for calling, how can I help?"},
		{Speaker: "caller", Text: "It's Mike O'Neil, I need my gutters cleaned."},
	}
	require.NoError(t, ex.EnsureJobForConversation(context.Background(), call, turns))

	job, err := jobRepo.GetBySourceCall(context.Background(), "CA100")
	require.NoError(t, err)
	assert.Equal(t, "Mike O'Neil", job.CustomerName)
	assert.Equal(t, jobs.UrgencyLow, job.Urgency)
}

func TestParseDetails(t *testing.T) {
	fenced := "```json\n{\"customerName\":\"A\"}\n```"
	details, err := parseDetails(fenced)
	require.NoError(t, err)
	assert.Equal(t, "A", details.CustomerName)

	wrapped, err := parseDetails(`Here is the result: {"serviceType":"mowing"} hope that helps`)
	require.NoError(t, err)
	assert.Equal(t, "mowing", wrapped.ServiceType)

	_, err = parseDetails("I could not find any details.")
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestDetailsComplete(t *testing.T) {
	assert.False(t, Details{}.Complete())
	assert.False(t, Details{CustomerName: "A"}.Complete())
	assert.False(t, Details{CustomerPhone: "+1", ServiceType: "x"}.Complete())
	assert.True(t, Details{CustomerName: "A", CustomerPhone: "+1"}.Complete())
	assert.True(t, Details{CustomerName: "A", ServiceType: "x"}.Complete())
}
