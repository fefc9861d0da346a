package usecase

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/jarvis-ocr-service/internal/adapter/observability"
	"github.com/fairyhunter13/jarvis-ocr-service/internal/domain"
	obsctx "github.com/fairyhunter13/jarvis-ocr-service/internal/observability"
	"github.com/fairyhunter13/jarvis-ocr-service/pkg/textx"
)

// Settings are the orchestrator's effective knobs, resolved at startup from
// env config and the optional settings table.
type Settings struct {
	JobQueue        string
	Tiers           []domain.Tier
	MinValidChars   int
	MaxTextBytes    int
	MinConfidence   float64
	LanguageDefault string
	MaxAttempts     int
	CallbackURL     string
}

// Orchestrator drives one job envelope through per-image tier escalation,
// suspension on judge enqueue, and callback-driven resume. It owns the
// exactly-one-completion-per-consumption contract.
type Orchestrator struct {
	Queue    domain.Queue
	Store    domain.StateStore
	Judge    domain.JudgeClient
	Resolver domain.ImageResolver
	Engines  map[domain.EngineName]domain.OCREngine
	Settings Settings
}

// NewOrchestrator wires an orchestrator from its ports.
func NewOrchestrator(q domain.Queue, st domain.StateStore, j domain.JudgeClient, r domain.ImageResolver, engines []domain.OCREngine, s Settings) *Orchestrator {
	m := make(map[domain.EngineName]domain.OCREngine, len(engines))
	for _, e := range engines {
		m[e.Name()] = e
	}
	return &Orchestrator{Queue: q, Store: st, Judge: j, Resolver: r, Engines: m, Settings: s}
}

// imageOutcome is the result of running one image through a tier chain.
// Exactly one of suspended, result, or fatal is set.
type imageOutcome struct {
	suspended bool
	result    *domain.ImageResult
	fatal     *domain.ResultError
}

// ProcessJob consumes one inbound envelope. It either suspends on the first
// judge enqueue (the callback finishes the job later) or runs every image to
// a terminal per-image result and publishes the completion.
func (o *Orchestrator) ProcessJob(ctx domain.Context, env domain.JobEnvelope) error {
	tracer := otel.Tracer("usecase.ocr")
	ctx, span := tracer.Start(ctx, "ocr.ProcessJob")
	defer span.End()
	lg := obsctx.LoggerFromContext(ctx).With("job_id", env.JobID, "attempt", env.Attempt)
	ctx = obsctx.ContextWithLogger(ctx, lg)

	job, err := ValidateEnvelope(env)
	if err != nil {
		lg.Warn("inbound envelope rejected", "error", err)
		if env.ReplyTo == "" {
			observability.JobsDroppedTotal.WithLabelValues("schema_invalid_no_reply_to").Inc()
			return fmt.Errorf("op=process_job.validate: %w", err)
		}
		o.finish(ctx, env, nil, false, &domain.ResultError{
			Code:    domain.CodeSchemaInvalid,
			Message: err.Error(),
		})
		return nil
	}

	var results []domain.ImageResult
	for _, ref := range sortedRefs(job) {
		out := o.runImage(ctx, job, ref, o.Settings.Tiers, results, false, "")
		switch {
		case out.suspended:
			return nil
		case out.fatal != nil:
			o.finish(ctx, job, results, false, out.fatal)
			return nil
		default:
			results = append(results, *out.result)
		}
	}
	o.finish(ctx, job, results, false, nil)
	return nil
}

// Resume continues a suspended per-image workflow with a judge verdict. Any
// worker holding the state row can resume; the image is re-fetched when the
// verdict forces escalation.
func (o *Orchestrator) Resume(ctx domain.Context, state domain.PendingState, verdict domain.Verdict) error {
	tracer := otel.Tracer("usecase.ocr")
	ctx, span := tracer.Start(ctx, "ocr.Resume")
	defer span.End()
	job := state.OriginalJob
	lg := obsctx.LoggerFromContext(ctx).With(
		"job_id", job.JobID,
		"image_index", state.ImageIndex,
		"tier", string(state.TierName),
		"validation_job_id", state.ValidationJobID,
	)
	ctx = obsctx.ContextWithLogger(ctx, lg)

	observability.PendingValidations.Dec()
	observability.JudgeVerdictsTotal.WithLabelValues(fmt.Sprintf("%t", verdict.IsValid)).Inc()

	results := make([]domain.ImageResult, len(state.ProcessedResults))
	copy(results, state.ProcessedResults)

	valid := verdict.IsValid
	if valid && o.Settings.MinConfidence > 0 && verdict.Confidence < o.Settings.MinConfidence {
		lg.Info("verdict below confidence floor", "confidence", verdict.Confidence)
		valid = false
	}

	if valid {
		results = append(results, o.validResult(job, state, verdict))
	} else {
		ref, ok := refByIndex(job, state.ImageIndex)
		if !ok {
			o.finish(ctx, job, results, true, &domain.ResultError{
				Code:    domain.CodeInternalError,
				Message: fmt.Sprintf("suspended image index %d missing from job", state.ImageIndex),
			})
			return nil
		}
		out := o.runImage(ctx, job, ref, state.RemainingTiers, results, true, verdict.Reason)
		switch {
		case out.suspended:
			return nil
		case out.fatal != nil:
			o.finish(ctx, job, results, true, out.fatal)
			return nil
		default:
			// An empty remaining chain never ran an engine; the failure
			// belongs to the tier that was judged.
			if out.result.Meta.Tier == "unknown" {
				out.result.Meta.Tier = string(state.TierName)
			}
			results = append(results, *out.result)
		}
	}

	for _, ref := range sortedRefs(job) {
		if ref.Index <= state.ImageIndex {
			continue
		}
		out := o.runImage(ctx, job, ref, o.Settings.Tiers, results, false, "")
		switch {
		case out.suspended:
			return nil
		case out.fatal != nil:
			o.finish(ctx, job, results, true, out.fatal)
			return nil
		default:
			results = append(results, *out.result)
		}
	}
	o.finish(ctx, job, results, true, nil)
	return nil
}

// runImage walks one image through the given tier chain. A successful engine
// pass that clears the minimum-length gate saves pending state, enqueues a
// judge job, and suspends. Engine failures and short text advance the chain.
// escalated marks a chain entered through an invalid verdict, so exhaustion
// stays classified as no-valid-output even when the remaining chain is empty;
// lastReason carries that verdict's reason into the exhaustion result.
func (o *Orchestrator) runImage(ctx domain.Context, job domain.JobEnvelope, ref domain.ImageRef, tiers []domain.Tier, prior []domain.ImageResult, escalated bool, lastReason string) imageOutcome {
	lg := obsctx.LoggerFromContext(ctx).With("image_index", ref.Index)
	lang := job.Language(o.Settings.LanguageDefault)

	blob, err := o.Resolver.Resolve(ctx, ref)
	if err != nil {
		code, msg := resolveFailure(err, ref)
		lg.Warn("image resolution failed", "kind", string(ref.Kind), "error", err)
		return imageOutcome{result: failedResult(ref.Index, lang, "unknown", code, msg, nil)}
	}

	var (
		lastTier    = "unknown"
		sawText     bool
		lastEngErr  error
		sawEngError bool
	)
	for i, tier := range tiers {
		engine := o.Engines[tier.TierToEngine()]
		if engine == nil || !engine.Available() {
			lg.Debug("tier unavailable, skipping", "tier", string(tier))
			continue
		}
		lastTier = string(tier)

		start := time.Now()
		out, err := engine.Process(ctx, blob.Bytes, domain.OCROptions{LanguageHints: []string{lang}})
		observability.ObserveTier(string(tier), time.Since(start))
		if err != nil {
			lg.Warn("engine failed", "tier", string(tier), "error", err)
			lastEngErr = err
			sawEngError = true
			continue
		}

		text := textx.Normalize(out.Text)
		if utf8.RuneCountInString(text) < o.Settings.MinValidChars {
			lg.Info("extraction below minimum length, advancing tier",
				"tier", string(tier), "text_len", utf8.RuneCountInString(text))
			sawText = true
			continue
		}

		state := domain.PendingState{
			OriginalJob:      job,
			ImageIndex:       ref.Index,
			TierName:         tier,
			OCRText:          text,
			RemainingTiers:   append([]domain.Tier(nil), tiers[i+1:]...),
			ProcessedResults: prior,
			ValidationJobID:  "val-" + uuid.New().String(),
			CreatedAt:        time.Now().UTC().Format(time.RFC3339),
		}
		if err := o.Store.Save(ctx, state); err != nil {
			lg.Error("pending state save failed", "error", err)
			return imageOutcome{fatal: &domain.ResultError{
				Code:    domain.CodeRedisError,
				Message: fmt.Sprintf("pending state save failed: %v", err),
			}}
		}
		if _, err := o.Judge.Enqueue(ctx, state, o.Settings.CallbackURL); err != nil {
			// Tier-local failure: the verdict will never arrive, so the
			// orphaned state row must go before the chain advances.
			lg.Warn("judge enqueue failed, advancing tier", "tier", string(tier), "error", err)
			if delErr := o.Store.Delete(ctx, state.ValidationJobID); delErr != nil {
				lg.Error("orphaned state delete failed", "error", delErr)
			}
			lastEngErr = err
			sawEngError = true
			continue
		}
		observability.JudgeRequestsTotal.Inc()
		observability.PendingValidations.Inc()
		lg.Info("suspended awaiting verdict", "tier", string(tier), "validation_job_id", state.ValidationJobID)
		return imageOutcome{suspended: true}
	}

	// Chain exhausted.
	switch {
	case sawText || escalated:
		var reason *string
		if lastReason != "" {
			r := truncateReason(lastReason)
			reason = &r
		}
		return imageOutcome{result: failedResult(ref.Index, lang, lastTier,
			domain.CodeNoValidOutput, "all OCR tiers exhausted without valid output", reason)}
	case sawEngError:
		return imageOutcome{result: failedResult(ref.Index, lang, lastTier,
			domain.CodeOCREngineError, truncateReason(lastEngErr.Error()), nil)}
	default:
		return imageOutcome{result: failedResult(ref.Index, lang, lastTier,
			domain.CodeOCREngineError, "no OCR engines available", nil)}
	}
}

// finish publishes the completion for one consumption and then, when the
// job-level failure is retryable and attempts remain, re-queues the inbound
// envelope as well. The completion is emitted regardless of the retry
// decision. judged blocks the engine-error promotion: once any verdict was
// requested the job cannot be classified as an engine-wide outage.
func (o *Orchestrator) finish(ctx domain.Context, job domain.JobEnvelope, results []domain.ImageResult, judged bool, jobErr *domain.ResultError) {
	lg := obsctx.LoggerFromContext(ctx)

	if jobErr == nil && !judged && allEngineFailures(job, results) {
		jobErr = &domain.ResultError{
			Code:    domain.CodeOCREngineError,
			Message: "all images failed with OCR engine errors",
		}
	}

	completion := BuildCompletion(job, results, jobErr)
	switch {
	case job.ReplyTo == "":
		observability.JobsDroppedTotal.WithLabelValues("no_reply_to").Inc()
		lg.Warn("no reply_to queue, completion not sent", "status", completion.Payload.Status)
	default:
		if err := o.Queue.Enqueue(ctx, job.ReplyTo, completion, false); err != nil {
			lg.Error("completion publish failed", "error", err)
		} else {
			observability.JobsCompletedTotal.WithLabelValues(completion.Payload.Status).Inc()
			lg.Info("completion published",
				"status", completion.Payload.Status,
				"reply_to", job.ReplyTo,
				"results", len(completion.Payload.Results))
		}
	}

	if jobErr != nil && jobErr.Code.Retryable() && job.Attempt < o.Settings.MaxAttempts {
		retry := job
		retry.Attempt++
		if err := o.Queue.Enqueue(ctx, o.Settings.JobQueue, retry, true); err != nil {
			lg.Error("retry enqueue failed", "error", err)
			return
		}
		observability.JobsRetriedTotal.Inc()
		lg.Info("job re-queued for retry", "next_attempt", retry.Attempt, "code", string(jobErr.Code))
	}
}

func (o *Orchestrator) validResult(job domain.JobEnvelope, state domain.PendingState, verdict domain.Verdict) domain.ImageResult {
	text, truncated := textx.TruncateUTF8(state.OCRText, o.Settings.MaxTextBytes)
	var reason *string
	if verdict.Reason != "" {
		r := truncateReason(verdict.Reason)
		reason = &r
	}
	return domain.ImageResult{
		Index:     state.ImageIndex,
		OCRText:   text,
		Truncated: truncated,
		Meta: domain.ResultMeta{
			Language:         job.Language(o.Settings.LanguageDefault),
			Confidence:       clamp01(verdict.Confidence),
			TextLen:          len(text),
			IsValid:          true,
			Tier:             string(state.TierName),
			ValidationReason: reason,
		},
	}
}

func failedResult(index int, lang, tier string, code domain.ErrorCode, msg string, reason *string) *domain.ImageResult {
	return &domain.ImageResult{
		Index:   index,
		OCRText: "",
		Meta: domain.ResultMeta{
			Language:         lang,
			Confidence:       0,
			TextLen:          0,
			IsValid:          false,
			Tier:             tier,
			ValidationReason: reason,
		},
		Error: &domain.ResultError{Code: code, Message: truncateReason(msg)},
	}
}

func resolveFailure(err error, ref domain.ImageRef) (domain.ErrorCode, string) {
	switch {
	case errors.Is(err, domain.ErrUnsupportedMedia):
		if strings.Contains(err.Error(), "PDF") {
			return domain.CodeUnsupportedMedia, "PDF files are not supported in v1"
		}
		return domain.CodeUnsupportedMedia, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return domain.CodeImageNotFound, fmt.Sprintf("image not found: %s", ref.Value)
	case errors.Is(err, domain.ErrAccessDenied):
		return domain.CodeImageNotFound, fmt.Sprintf("image access denied: %s", ref.Value)
	default:
		return domain.CodeFileReadError, err.Error()
	}
}

func allEngineFailures(job domain.JobEnvelope, results []domain.ImageResult) bool {
	if len(results) == 0 || len(results) != len(job.Payload.ImageRefs) {
		return false
	}
	for _, r := range results {
		if r.Error == nil || r.Error.Code != domain.CodeOCREngineError {
			return false
		}
	}
	return true
}

func sortedRefs(job domain.JobEnvelope) []domain.ImageRef {
	refs := make([]domain.ImageRef, len(job.Payload.ImageRefs))
	copy(refs, job.Payload.ImageRefs)
	sort.Slice(refs, func(i, j int) bool { return refs[i].Index < refs[j].Index })
	return refs
}

func refByIndex(job domain.JobEnvelope, index int) (domain.ImageRef, bool) {
	for _, r := range job.Payload.ImageRefs {
		if r.Index == index {
			return r, true
		}
	}
	return domain.ImageRef{}, false
}

func truncateReason(s string) string {
	if len(s) > domain.MaxReasonLen {
		return s[:domain.MaxReasonLen]
	}
	return s
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
