package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/jarvis-ocr-service/internal/adapter/ocrengine/stub"
	"github.com/fairyhunter13/jarvis-ocr-service/internal/domain"
)

type queueEntry struct {
	queue  string
	msg    any
	toBack bool
}

type fakeQueue struct {
	entries []queueEntry
	err     error
}

func (q *fakeQueue) Enqueue(_ domain.Context, queue string, message any, toBack bool) error {
	if q.err != nil {
		return q.err
	}
	q.entries = append(q.entries, queueEntry{queue: queue, msg: message, toBack: toBack})
	return nil
}

func (q *fakeQueue) completions() []domain.CompletionEnvelope {
	var out []domain.CompletionEnvelope
	for _, e := range q.entries {
		if c, ok := e.msg.(domain.CompletionEnvelope); ok {
			out = append(out, c)
		}
	}
	return out
}

func (q *fakeQueue) retries() []domain.JobEnvelope {
	var out []domain.JobEnvelope
	for _, e := range q.entries {
		if j, ok := e.msg.(domain.JobEnvelope); ok {
			out = append(out, j)
		}
	}
	return out
}

type fakeStore struct {
	rows    map[string]domain.PendingState
	saveErr error
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]domain.PendingState{}}
}

func (s *fakeStore) Save(_ domain.Context, state domain.PendingState) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.rows[state.ValidationJobID] = state
	return nil
}

func (s *fakeStore) Get(_ domain.Context, id string) (domain.PendingState, error) {
	st, ok := s.rows[id]
	if !ok {
		return domain.PendingState{}, domain.ErrNotFound
	}
	return st, nil
}

func (s *fakeStore) Delete(_ domain.Context, id string) error {
	delete(s.rows, id)
	s.deleted = append(s.deleted, id)
	return nil
}

type fakeJudge struct {
	calls []domain.PendingState
	errs  []error
}

func (j *fakeJudge) Enqueue(_ domain.Context, state domain.PendingState, _ string) (string, error) {
	i := len(j.calls)
	j.calls = append(j.calls, state)
	if i < len(j.errs) && j.errs[i] != nil {
		return "", j.errs[i]
	}
	return state.ValidationJobID, nil
}

type fakeResolver struct {
	errs map[string]error
}

func (r *fakeResolver) Resolve(_ domain.Context, ref domain.ImageRef) (domain.ImageBlob, error) {
	if err, ok := r.errs[ref.Value]; ok {
		return domain.ImageBlob{}, err
	}
	return domain.ImageBlob{Bytes: []byte("img"), MediaType: "image/png"}, nil
}

type harness struct {
	orch  *Orchestrator
	queue *fakeQueue
	store *fakeStore
	judge *fakeJudge
}

func newHarness(engines ...domain.OCREngine) *harness {
	q := &fakeQueue{}
	st := newFakeStore()
	j := &fakeJudge{}
	orch := NewOrchestrator(q, st, j, &fakeResolver{}, engines, Settings{
		JobQueue:        "jarvis.ocr.jobs",
		Tiers:           []domain.Tier{domain.TierTesseract, domain.TierEasyOCR},
		MinValidChars:   3,
		MaxTextBytes:    51200,
		LanguageDefault: "en",
		MaxAttempts:     3,
		CallbackURL:     "http://ocr.internal/internal/validation/callback",
	})
	return &harness{orch: orch, queue: q, store: st, judge: j}
}

func TestProcessJobSuspendsOnFirstCandidate(t *testing.T) {
	h := newHarness(stub.New(domain.EngineTesseract, "Hello   world"))

	err := h.orch.ProcessJob(context.Background(), validEnvelope())
	require.NoError(t, err)

	require.Len(t, h.judge.calls, 1)
	state := h.judge.calls[0]
	assert.Equal(t, domain.TierTesseract, state.TierName)
	assert.Equal(t, "Hello world", state.OCRText, "text is normalized before judging")
	assert.Equal(t, []domain.Tier{domain.TierEasyOCR}, state.RemainingTiers)
	assert.Equal(t, 0, state.ImageIndex)
	assert.True(t, strings.HasPrefix(state.ValidationJobID, "val-"))
	assert.Empty(t, state.ProcessedResults)

	// State persisted, nothing published yet.
	assert.Contains(t, h.store.rows, state.ValidationJobID)
	assert.Empty(t, h.queue.entries)
}

func TestResumeValidPublishesCompletion(t *testing.T) {
	h := newHarness(stub.New(domain.EngineTesseract, "Hello world"))
	require.NoError(t, h.orch.ProcessJob(context.Background(), validEnvelope()))
	state := h.judge.calls[0]

	err := h.orch.Resume(context.Background(), state, domain.Verdict{
		IsValid: true, Confidence: 0.93, Reason: "clear prose",
	})
	require.NoError(t, err)

	comps := h.queue.completions()
	require.Len(t, comps, 1)
	c := comps[0]
	assert.Equal(t, domain.StatusSuccess, c.Payload.Status)
	assert.Equal(t, "jarvis.recipes.jobs", h.queue.entries[0].queue)
	assert.False(t, h.queue.entries[0].toBack)

	require.Len(t, c.Payload.Results, 1)
	r := c.Payload.Results[0]
	assert.Equal(t, "Hello world", r.OCRText)
	assert.True(t, r.Meta.IsValid)
	assert.Equal(t, "tesseract", r.Meta.Tier)
	assert.Equal(t, 0.93, r.Meta.Confidence)
	assert.Equal(t, 11, r.Meta.TextLen)
	require.NotNil(t, r.Meta.ValidationReason)
	assert.Equal(t, "clear prose", *r.Meta.ValidationReason)
	assert.Nil(t, r.Error)
}

func TestResumeValidReportsTextByteLength(t *testing.T) {
	h := newHarness(stub.New(domain.EngineTesseract, "héllo wörld"))
	require.NoError(t, h.orch.ProcessJob(context.Background(), validEnvelope()))

	require.NoError(t, h.orch.Resume(context.Background(), h.judge.calls[0], domain.Verdict{
		IsValid: true, Confidence: 1,
	}))

	r := h.queue.completions()[0].Payload.Results[0]
	// text_len counts UTF-8 bytes, not runes.
	assert.Equal(t, len("héllo wörld"), r.Meta.TextLen)
	assert.Equal(t, 13, r.Meta.TextLen)
}

func TestResumeInvalidEscalatesToNextTier(t *testing.T) {
	h := newHarness(
		stub.New(domain.EngineTesseract, "garbled##"),
		stub.New(domain.EngineEasyOCR, "Proper text"),
	)
	require.NoError(t, h.orch.ProcessJob(context.Background(), validEnvelope()))
	state := h.judge.calls[0]

	err := h.orch.Resume(context.Background(), state, domain.Verdict{
		IsValid: false, Confidence: 0.2, Reason: "looks garbled",
	})
	require.NoError(t, err)

	// Escalation enqueued a second judge job; nothing published yet.
	require.Len(t, h.judge.calls, 2)
	assert.Equal(t, domain.TierEasyOCR, h.judge.calls[1].TierName)
	assert.Equal(t, "Proper text", h.judge.calls[1].OCRText)
	assert.Empty(t, h.judge.calls[1].RemainingTiers)
	assert.Empty(t, h.queue.completions())
}

func TestResumeInvalidExhaustedFails(t *testing.T) {
	h := newHarness(stub.New(domain.EngineTesseract, "blob"))
	require.NoError(t, h.orch.ProcessJob(context.Background(), validEnvelope()))
	state := h.judge.calls[0]
	state.RemainingTiers = nil

	err := h.orch.Resume(context.Background(), state, domain.Verdict{
		IsValid: false, Confidence: 0.1, Reason: "nonsense",
	})
	require.NoError(t, err)

	comps := h.queue.completions()
	require.Len(t, comps, 1)
	c := comps[0]
	assert.Equal(t, domain.StatusFailed, c.Payload.Status)
	// Tier exhaustion is terminal, never retried.
	assert.Empty(t, h.queue.retries())
	assert.Nil(t, c.Payload.Error.Code)

	require.Len(t, c.Payload.Results, 1)
	r := c.Payload.Results[0]
	require.NotNil(t, r.Error)
	assert.Equal(t, domain.CodeNoValidOutput, r.Error.Code)
	assert.Equal(t, "tesseract", r.Meta.Tier)
	require.NotNil(t, r.Meta.ValidationReason)
	assert.Equal(t, "nonsense", *r.Meta.ValidationReason)
}

func TestResumeInvalidEmptyReasonExhaustedStaysNoValidOutput(t *testing.T) {
	h := newHarness(stub.New(domain.EngineTesseract, "blob"))
	require.NoError(t, h.orch.ProcessJob(context.Background(), validEnvelope()))
	state := h.judge.calls[0]
	state.RemainingTiers = nil

	require.NoError(t, h.orch.Resume(context.Background(), state, domain.Verdict{
		IsValid: false, Confidence: 0.1,
	}))

	comps := h.queue.completions()
	require.Len(t, comps, 1)
	r := comps[0].Payload.Results[0]
	require.NotNil(t, r.Error)
	// A verdict without a reason is still an exhaustion, not an engine error.
	assert.Equal(t, domain.CodeNoValidOutput, r.Error.Code)
	assert.Nil(t, r.Meta.ValidationReason)
	assert.Empty(t, h.queue.retries())
}

func TestConfidenceFloorRejectsValidVerdict(t *testing.T) {
	h := newHarness(stub.New(domain.EngineTesseract, "some text"))
	h.orch.Settings.MinConfidence = 0.8
	require.NoError(t, h.orch.ProcessJob(context.Background(), validEnvelope()))
	state := h.judge.calls[0]
	state.RemainingTiers = nil

	require.NoError(t, h.orch.Resume(context.Background(), state, domain.Verdict{
		IsValid: true, Confidence: 0.5, Reason: "borderline",
	}))

	comps := h.queue.completions()
	require.Len(t, comps, 1)
	assert.Equal(t, domain.StatusFailed, comps[0].Payload.Status)
}

func TestShortTextSkipsJudgeAndAdvances(t *testing.T) {
	h := newHarness(
		stub.New(domain.EngineTesseract, "ab"),
		stub.New(domain.EngineEasyOCR, "Real content"),
	)
	require.NoError(t, h.orch.ProcessJob(context.Background(), validEnvelope()))

	require.Len(t, h.judge.calls, 1)
	assert.Equal(t, domain.TierEasyOCR, h.judge.calls[0].TierName)
}

func TestAllEnginesFailRequeuesWithNextAttempt(t *testing.T) {
	boom := errors.New("engine exploded")
	tess := stub.New(domain.EngineTesseract, "")
	tess.Errs = []error{boom}
	easy := stub.New(domain.EngineEasyOCR, "")
	easy.Errs = []error{boom}
	h := newHarness(tess, easy)

	require.NoError(t, h.orch.ProcessJob(context.Background(), validEnvelope()))

	// The completion is published first, then the envelope is re-queued.
	comps := h.queue.completions()
	require.Len(t, comps, 1)
	assert.Equal(t, domain.StatusFailed, comps[0].Payload.Status)
	require.NotNil(t, comps[0].Payload.Error.Code)
	assert.Equal(t, "ocr_engine_error", *comps[0].Payload.Error.Code)
	assert.Equal(t, "jarvis.recipes.jobs", h.queue.entries[0].queue)

	retries := h.queue.retries()
	require.Len(t, retries, 1)
	assert.Equal(t, 2, retries[0].Attempt)
	assert.Equal(t, "jarvis.ocr.jobs", h.queue.entries[1].queue)
	assert.True(t, h.queue.entries[1].toBack, "retries go to the back of the queue")
}

func TestAllEnginesFailFinalAttemptCompletes(t *testing.T) {
	boom := errors.New("engine exploded")
	tess := stub.New(domain.EngineTesseract, "")
	tess.Errs = []error{boom}
	easy := stub.New(domain.EngineEasyOCR, "")
	easy.Errs = []error{boom}
	h := newHarness(tess, easy)

	env := validEnvelope()
	env.Attempt = 3
	require.NoError(t, h.orch.ProcessJob(context.Background(), env))

	assert.Empty(t, h.queue.retries())
	comps := h.queue.completions()
	require.Len(t, comps, 1)
	c := comps[0]
	assert.Equal(t, domain.StatusFailed, c.Payload.Status)
	require.NotNil(t, c.Payload.Error.Code)
	assert.Equal(t, "ocr_engine_error", *c.Payload.Error.Code)
}

func TestUnsupportedPDFFailsWithoutRetry(t *testing.T) {
	h := newHarness(stub.New(domain.EngineTesseract, "text"))
	h.orch.Resolver = &fakeResolver{errs: map[string]error{
		"doc.pdf": fmt.Errorf("PDF files are not supported: %w", domain.ErrUnsupportedMedia),
	}}

	env := validEnvelope()
	env.Payload.ImageRefs[0].Value = "doc.pdf"
	require.NoError(t, h.orch.ProcessJob(context.Background(), env))

	assert.Empty(t, h.queue.retries())
	comps := h.queue.completions()
	require.Len(t, comps, 1)
	r := comps[0].Payload.Results[0]
	require.NotNil(t, r.Error)
	assert.Equal(t, domain.CodeUnsupportedMedia, r.Error.Code)
	assert.Equal(t, "PDF files are not supported in v1", r.Error.Message)
	assert.Equal(t, "unknown", r.Meta.Tier)
}

func TestMissingImageFails(t *testing.T) {
	h := newHarness(stub.New(domain.EngineTesseract, "text"))
	h.orch.Resolver = &fakeResolver{errs: map[string]error{
		"a.png": fmt.Errorf("op=resolve.local: %w", domain.ErrNotFound),
	}}

	require.NoError(t, h.orch.ProcessJob(context.Background(), validEnvelope()))

	comps := h.queue.completions()
	require.Len(t, comps, 1)
	r := comps[0].Payload.Results[0]
	require.NotNil(t, r.Error)
	assert.Equal(t, domain.CodeImageNotFound, r.Error.Code)
	assert.Empty(t, h.queue.retries())
}

func TestAccessDeniedImageFailsWithoutRetry(t *testing.T) {
	h := newHarness(stub.New(domain.EngineTesseract, "text"))
	h.orch.Resolver = &fakeResolver{errs: map[string]error{
		"a.png": fmt.Errorf("op=resolve.s3: %w", domain.ErrAccessDenied),
	}}

	require.NoError(t, h.orch.ProcessJob(context.Background(), validEnvelope()))

	comps := h.queue.completions()
	require.Len(t, comps, 1)
	r := comps[0].Payload.Results[0]
	require.NotNil(t, r.Error)
	assert.Equal(t, domain.CodeImageNotFound, r.Error.Code)
	assert.Contains(t, r.Error.Message, "access denied")
	assert.Empty(t, h.queue.retries())
}

func TestSchemaInvalidCompletesWithError(t *testing.T) {
	h := newHarness(stub.New(domain.EngineTesseract, "text"))
	env := validEnvelope()
	env.Payload.ImageRefs = append(env.Payload.ImageRefs,
		domain.ImageRef{Kind: domain.RefLocalPath, Value: "b.png", Index: 0})

	require.NoError(t, h.orch.ProcessJob(context.Background(), env))

	comps := h.queue.completions()
	require.Len(t, comps, 1)
	c := comps[0]
	assert.Equal(t, domain.StatusFailed, c.Payload.Status)
	require.NotNil(t, c.Payload.Error.Code)
	assert.Equal(t, "schema_invalid", *c.Payload.Error.Code)
	assert.Empty(t, c.Payload.Results)
	assert.Empty(t, h.queue.retries(), "schema errors are never retried")
}

func TestSchemaInvalidWithoutReplyToDrops(t *testing.T) {
	h := newHarness(stub.New(domain.EngineTesseract, "text"))
	env := validEnvelope()
	env.ReplyTo = ""

	err := h.orch.ProcessJob(context.Background(), env)
	require.Error(t, err)
	assert.Empty(t, h.queue.entries)
}

func TestJudgeEnqueueFailureAdvancesTier(t *testing.T) {
	h := newHarness(
		stub.New(domain.EngineTesseract, "first text"),
		stub.New(domain.EngineEasyOCR, "second text"),
	)
	h.judge.errs = []error{errors.New("gateway down")}

	require.NoError(t, h.orch.ProcessJob(context.Background(), validEnvelope()))

	require.Len(t, h.judge.calls, 2)
	// The orphaned state row from the failed enqueue was removed.
	require.Len(t, h.store.deleted, 1)
	assert.Equal(t, h.judge.calls[0].ValidationJobID, h.store.deleted[0])
	// The second tier's suspension is live.
	assert.Contains(t, h.store.rows, h.judge.calls[1].ValidationJobID)
}

func TestStateSaveFailureRequeues(t *testing.T) {
	h := newHarness(stub.New(domain.EngineTesseract, "good text"))
	h.store.saveErr = errors.New("redis timeout")

	require.NoError(t, h.orch.ProcessJob(context.Background(), validEnvelope()))

	assert.Empty(t, h.judge.calls)
	comps := h.queue.completions()
	require.Len(t, comps, 1)
	require.NotNil(t, comps[0].Payload.Error.Code)
	assert.Equal(t, "redis_error", *comps[0].Payload.Error.Code)
	retries := h.queue.retries()
	require.Len(t, retries, 1)
	assert.Equal(t, 2, retries[0].Attempt)
}

func TestMultiImageSequencing(t *testing.T) {
	h := newHarness(stub.New(domain.EngineTesseract, "page text"))
	env := validEnvelope()
	env.Payload.ImageRefs = []domain.ImageRef{
		{Kind: domain.RefLocalPath, Value: "p1.png", Index: 1},
		{Kind: domain.RefLocalPath, Value: "p0.png", Index: 0},
	}

	require.NoError(t, h.orch.ProcessJob(context.Background(), env))

	// Images run in index order regardless of ref order.
	require.Len(t, h.judge.calls, 1)
	assert.Equal(t, 0, h.judge.calls[0].ImageIndex)

	require.NoError(t, h.orch.Resume(context.Background(), h.judge.calls[0], domain.Verdict{
		IsValid: true, Confidence: 0.9,
	}))

	// Second image suspended, carrying the first result forward.
	require.Len(t, h.judge.calls, 2)
	state1 := h.judge.calls[1]
	assert.Equal(t, 1, state1.ImageIndex)
	require.Len(t, state1.ProcessedResults, 1)
	assert.Equal(t, 0, state1.ProcessedResults[0].Index)
	assert.Empty(t, h.queue.completions())

	require.NoError(t, h.orch.Resume(context.Background(), state1, domain.Verdict{
		IsValid: true, Confidence: 0.8,
	}))

	comps := h.queue.completions()
	require.Len(t, comps, 1)
	c := comps[0]
	assert.Equal(t, domain.StatusSuccess, c.Payload.Status)
	require.Len(t, c.Payload.Results, 2)
	assert.Equal(t, 0, c.Payload.Results[0].Index)
	assert.Equal(t, 1, c.Payload.Results[1].Index)
}

func TestTruncationAtResultBuild(t *testing.T) {
	h := newHarness(stub.New(domain.EngineTesseract, strings.Repeat("a", 100)))
	h.orch.Settings.MaxTextBytes = 10
	require.NoError(t, h.orch.ProcessJob(context.Background(), validEnvelope()))
	state := h.judge.calls[0]
	assert.Len(t, state.OCRText, 100, "state keeps the full text")

	require.NoError(t, h.orch.Resume(context.Background(), state, domain.Verdict{IsValid: true, Confidence: 1}))

	r := h.queue.completions()[0].Payload.Results[0]
	assert.Len(t, r.OCRText, 10)
	assert.True(t, r.Truncated)
	assert.Equal(t, 10, r.Meta.TextLen)
}

func TestUnavailableTierSkipped(t *testing.T) {
	tess := stub.New(domain.EngineTesseract, "never used")
	tess.Unavailable = true
	h := newHarness(tess, stub.New(domain.EngineEasyOCR, "from easyocr"))

	require.NoError(t, h.orch.ProcessJob(context.Background(), validEnvelope()))

	require.Len(t, h.judge.calls, 1)
	assert.Equal(t, domain.TierEasyOCR, h.judge.calls[0].TierName)
	assert.Equal(t, 0, tess.Calls)
}
