package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sms-agent/internal/domain"
	"sms-agent/internal/domain/model"
	"sms-agent/internal/domain/ports/adapter"
	"sms-agent/internal/infra/retry"
	"sms-agent/internal/prompts"
	"sms-agent/internal/usecase"
)

const (
	userNumber  = "+15550001111"
	agentNumber = "+15559990000"
)

type inferenceHarness struct {
	store *fakeStore
	tm    *fakeTxManager
	ai    *fakeModel
	bg    *syncExecutor
	ext   *fakeExtractor
	jobs  []model.InferenceJob
	opts  usecase.InferenceOptions
}

func newInferenceHarness(ai *fakeModel, paid bool) *inferenceHarness {
	store := newFakeStore()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store.convs["c1"] = &model.Conversation{ID: "c1", Channel: "sms", UserNumber: userNumber, HasPaid: paid}
	for i, id := range []string{"j1", "j2"} {
		store.inboundByJob[id] = &model.InboundMessage{
			ID:                 "in" + id[1:],
			ConversationID:     "c1",
			Provider:           "twilio",
			ProviderMessageSID: "SM" + id[1:],
			FromAddress:        userNumber,
			ToAddress:          agentNumber,
			Body:               []string{"hello", "anyone there?"}[i],
			ReceivedAt:         t0.Add(time.Duration(i) * time.Second),
		}
		store.jobStatus[id] = model.InferenceJobProcessing
	}
	store.recent["c1"] = model.Transcript{
		{Direction: model.DirectionInbound, Body: "hello", At: t0},
		{Direction: model.DirectionInbound, Body: "anyone there?", At: t0.Add(time.Second)},
	}

	return &inferenceHarness{
		store: store,
		tm:    &fakeTxManager{store: store},
		ai:    ai,
		bg:    &syncExecutor{},
		ext:   &fakeExtractor{},
		jobs: []model.InferenceJob{
			{ID: "j1", ConversationID: "c1", InboundMessageID: "in1", Status: model.InferenceJobProcessing},
			{ID: "j2", ConversationID: "c1", InboundMessageID: "in2", Status: model.InferenceJobProcessing},
		},
		opts: usecase.InferenceOptions{
			Model:           "gpt-test",
			ModelTimeout:    500 * time.Millisecond,
			TranscriptLimit: 50,
			Retry:           retry.Options{Retries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		},
	}
}

func (h *inferenceHarness) useCase() usecase.InferenceUseCase {
	return usecase.NewInferenceUseCase(h.store, h.tm, h.ai, prompts.NewResolver(prompts.V2), h.ext, h.bg, h.opts, nopLogger())
}

func TestProcess_SplitsReplyIntoOrderedSegments(t *testing.T) {
	h := newInferenceHarness(replyWith("Hey there\n\nWhat's your goal?\tAlso, how tall are you?"), false)

	res, err := h.useCase().Process(context.Background(), h.jobs)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.NoReply)
	assert.Equal(t, "SM2", res.InboundProviderSID)

	rows := h.store.outboundRows()
	require.Len(t, rows, 3)
	require.Len(t, res.InsertedOutboundIDs, 3)
	bodies := []string{"Hey there", "What's your goal?", "Also, how tall are you?"}
	for i, row := range rows {
		assert.Equal(t, i, row.SequenceNumber)
		assert.Equal(t, bodies[i], row.Body)
		assert.Equal(t, res.InsertedOutboundIDs[i], row.ID)
		assert.Equal(t, "in2", row.InboundMessageID)
		assert.Equal(t, agentNumber, row.FromAddress)
		assert.Equal(t, userNumber, row.ToAddress)
		assert.Equal(t, "V2-unpaid", row.PromptVersion)
		assert.Equal(t, "test-model", row.Model, "served model is recorded")
		assert.Equal(t, "SM2", row.ProviderInboundSID)
		assert.Equal(t, model.OutboundStatusQueued, row.Status)
	}
	assert.Equal(t, model.InferenceJobSucceeded, h.store.status("j1"))
	assert.Equal(t, model.InferenceJobSucceeded, h.store.status("j2"))

	opts := h.tm.txOptions()
	require.Len(t, opts, 2)
	assert.Equal(t, pgx.ReadOnly, opts[0].AccessMode)
	assert.NotEqual(t, pgx.ReadOnly, opts[1].AccessMode)

	assert.Equal(t, []string{"c1"}, h.ext.convIDs)
	assert.Equal(t, []int{2}, h.ext.batches)
	assert.Equal(t, []string{"user_context"}, h.bg.names)
}

func TestProcess_PromptCarriesTranscript(t *testing.T) {
	h := newInferenceHarness(replyWith("ok"), false)

	_, err := h.useCase().Process(context.Background(), h.jobs)
	require.NoError(t, err)

	reqs := h.ai.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gpt-test", reqs[0].Model)
	assert.Contains(t, reqs[0].Input, "USER: hello\nUSER: anyone there?")
	assert.Equal(t, []int{50}, h.store.limits)
}

func TestProcess_NoReplySentinel(t *testing.T) {
	h := newInferenceHarness(replyWith("  [NO_REPLY]\n"), false)

	res, err := h.useCase().Process(context.Background(), h.jobs)
	require.NoError(t, err)
	assert.True(t, res.NoReply)
	assert.Empty(t, res.InsertedOutboundIDs)
	assert.Empty(t, h.store.outboundRows())
	assert.Equal(t, model.InferenceJobSucceeded, h.store.status("j2"))
}

func TestProcess_SentinelMustBeWholeReply(t *testing.T) {
	h := newInferenceHarness(replyWith("[NO_REPLY] ok"), false)

	res, err := h.useCase().Process(context.Background(), h.jobs)
	require.NoError(t, err)
	assert.False(t, res.NoReply)
	rows := h.store.outboundRows()
	require.Len(t, rows, 1)
	assert.Equal(t, "[NO_REPLY] ok", rows[0].Body)
}

func TestProcess_InsertFailureRollsBackEverything(t *testing.T) {
	h := newInferenceHarness(replyWith("a\nb\nc"), false)
	h.store.failInsertAt = 1

	res, err := h.useCase().Process(context.Background(), h.jobs)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrTransaction)
	assert.Empty(t, h.store.outboundRows())
	assert.Equal(t, model.InferenceJobProcessing, h.store.status("j1"))
	assert.Equal(t, model.InferenceJobProcessing, h.store.status("j2"))
	assert.Empty(t, h.ext.convIDs)
}

func TestProcess_MarkJobsFailureRollsBackInserts(t *testing.T) {
	h := newInferenceHarness(replyWith("a\nb"), false)
	h.store.failMarkJobs = errors.New("update failed")

	_, err := h.useCase().Process(context.Background(), h.jobs)
	assert.ErrorIs(t, err, domain.ErrTransaction)
	assert.Empty(t, h.store.outboundRows())
}

func TestProcess_RerunDoesNotDuplicateSegments(t *testing.T) {
	h := newInferenceHarness(replyWith("first\nsecond\nthird"), false)
	uc := h.useCase()

	first, err := uc.Process(context.Background(), h.jobs)
	require.NoError(t, err)
	assert.Len(t, first.InsertedOutboundIDs, 3)

	second, err := uc.Process(context.Background(), h.jobs)
	require.NoError(t, err)
	assert.Empty(t, second.InsertedOutboundIDs)
	assert.Len(t, h.store.outboundRows(), 3)
}

func TestProcess_ModelTimeoutIsNotRetried(t *testing.T) {
	ai := &fakeModel{fn: func(ctx context.Context, _ adapter.ModelRequest) (adapter.ModelResponse, error) {
		<-ctx.Done()
		return adapter.ModelResponse{}, ctx.Err()
	}}
	h := newInferenceHarness(ai, false)
	h.opts.ModelTimeout = 20 * time.Millisecond

	res, err := h.useCase().Process(context.Background(), h.jobs)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrModelTimeout)
	assert.Equal(t, int32(1), ai.calls.Load())
	assert.Empty(t, h.store.outboundRows())
	assert.Len(t, h.tm.txOptions(), 1, "write transaction must not start")
	assert.Equal(t, model.InferenceJobProcessing, h.store.status("j2"))
}

func TestProcess_RetriesTransientModelErrors(t *testing.T) {
	ai := &fakeModel{}
	ai.fn = func(context.Context, adapter.ModelRequest) (adapter.ModelResponse, error) {
		if ai.calls.Load() < 3 {
			return adapter.ModelResponse{}, errors.New("503 upstream")
		}
		return adapter.ModelResponse{Output: "back online"}, nil
	}
	h := newInferenceHarness(ai, false)

	res, err := h.useCase().Process(context.Background(), h.jobs)
	require.NoError(t, err)
	assert.Equal(t, int32(3), ai.calls.Load())
	assert.Len(t, res.InsertedOutboundIDs, 1)
}

func TestProcess_ModelErrorsExhausted(t *testing.T) {
	ai := &fakeModel{fn: func(context.Context, adapter.ModelRequest) (adapter.ModelResponse, error) {
		return adapter.ModelResponse{}, errors.New("500")
	}}
	h := newInferenceHarness(ai, false)

	_, err := h.useCase().Process(context.Background(), h.jobs)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrModelCall)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, int32(3), ai.calls.Load())
	assert.Empty(t, h.store.outboundRows())
}

func TestProcess_NonRetryableModelError(t *testing.T) {
	ai := &fakeModel{fn: func(context.Context, adapter.ModelRequest) (adapter.ModelResponse, error) {
		return adapter.ModelResponse{}, domain.ErrInvalidArgument
	}}
	h := newInferenceHarness(ai, false)

	_, err := h.useCase().Process(context.Background(), h.jobs)
	assert.ErrorIs(t, err, domain.ErrModelCall)
	assert.Equal(t, int32(1), ai.calls.Load())
}

func TestProcess_NoTransactionOpenDuringModelCall(t *testing.T) {
	h := newInferenceHarness(nil, false)
	var openDuringCall int32 = -1
	h.ai = &fakeModel{fn: func(context.Context, adapter.ModelRequest) (adapter.ModelResponse, error) {
		openDuringCall = h.tm.open.Load()
		return adapter.ModelResponse{Output: "hi"}, nil
	}}

	_, err := h.useCase().Process(context.Background(), h.jobs)
	require.NoError(t, err)
	assert.Equal(t, int32(0), openDuringCall)
}

func TestProcess_ExtractionFailureDoesNotAffectResult(t *testing.T) {
	h := newInferenceHarness(replyWith("hi"), false)
	h.ext.err = errors.New("model down")

	res, err := h.useCase().Process(context.Background(), h.jobs)
	require.NoError(t, err)
	assert.Len(t, res.InsertedOutboundIDs, 1)
	require.Len(t, h.bg.errs, 1)
	assert.EqualError(t, h.bg.errs[0], "model down")
}

func TestProcess_SaturatedExecutorDoesNotAffectResult(t *testing.T) {
	h := newInferenceHarness(replyWith("hi"), false)
	h.bg.reject = errors.New("queue full")

	res, err := h.useCase().Process(context.Background(), h.jobs)
	require.NoError(t, err)
	assert.Len(t, res.InsertedOutboundIDs, 1)
	assert.Empty(t, h.ext.convIDs)
}

func TestProcess_EmptyBatch(t *testing.T) {
	h := newInferenceHarness(replyWith("hi"), false)

	_, err := h.useCase().Process(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Equal(t, int32(0), h.ai.calls.Load())
}

func TestProcess_MissingInbound(t *testing.T) {
	h := newInferenceHarness(replyWith("hi"), false)
	delete(h.store.inboundByJob, "j2")

	_, err := h.useCase().Process(context.Background(), h.jobs)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, int32(0), h.ai.calls.Load())
}

func TestProcess_PaidTierUsesUserContext(t *testing.T) {
	h := newInferenceHarness(replyWith("welcome back Sam"), true)
	h.store.userContext["c1"] = "- Name: Sam"

	_, err := h.useCase().Process(context.Background(), h.jobs)
	require.NoError(t, err)

	reqs := h.ai.requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Instructions, "WHAT YOU KNOW ABOUT THIS USER")
	assert.Contains(t, reqs[0].Instructions, "- Name: Sam")
	rows := h.store.outboundRows()
	require.Len(t, rows, 1)
	assert.Equal(t, "V2-paid", rows[0].PromptVersion)
}

func TestSplitReply(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"one", []string{"one"}},
		{"a\nb", []string{"a", "b"}},
		{"a\n\n\nb", []string{"a", "b"}},
		{"a\tb\tc", []string{"a", "b", "c"}},
		{"  a  \n\t\n  b ", []string{"a", "b"}},
		{"a\r\nb", []string{"a", "b"}},
		{"", []string{}},
		{"\n\t\n", []string{}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, usecase.SplitReply(tc.in), "SplitReply(%q)", tc.in)
	}
}
