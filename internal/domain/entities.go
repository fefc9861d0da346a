// Package domain defines the core entities, ports, and error taxonomy for the
// OCR queue flow.
package domain

import (
	"context"
	"errors"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrAccessDenied     = errors.New("access denied")
	ErrUnsupportedMedia = errors.New("unsupported media")
	ErrSchemaInvalid    = errors.New("schema invalid")
	ErrUnavailable      = errors.New("unavailable")
	ErrInternal         = errors.New("internal error")
)

// ErrorCode is the stable wire-level error code exposed in completion
// envelopes. The set is fixed; codes outside it never leave the service.
type ErrorCode string

const (
	CodeBadRequest       ErrorCode = "bad_request"
	CodeSchemaInvalid    ErrorCode = "schema_invalid"
	CodeImageNotFound    ErrorCode = "image_not_found"
	CodeUnsupportedMedia ErrorCode = "unsupported_media"
	CodeOCREngineError   ErrorCode = "ocr_engine_error"
	CodeFileReadError    ErrorCode = "file_read_error"
	CodeRedisError       ErrorCode = "redis_error"
	CodeInternalError    ErrorCode = "internal_error"
	CodeNoValidOutput    ErrorCode = "ocr_no_valid_output"
)

var retryableCodes = map[ErrorCode]bool{
	CodeOCREngineError: true,
	CodeFileReadError:  true,
	CodeRedisError:     true,
	CodeInternalError:  true,
}

// Retryable reports whether a job-level failure with this code should cause
// the inbound envelope to be re-queued. Tier exhaustion (ocr_no_valid_output)
// is deliberately non-retryable: every enabled tier already ran.
func (c ErrorCode) Retryable() bool { return retryableCodes[c] }

// Job type constants (schema v1)
const (
	SchemaVersion        = 1
	JobTypeExtractText   = "ocr.extract_text.requested"
	JobTypeCompleted     = "ocr.completed"
	ServiceName          = "jarvis-ocr-service"
	MaxImagesPerJob      = 8
	MaxReasonLen         = 200
	ValidationKeyPrefix  = "ocr:pending_validation:"
	RecipesDispatchQueue = "jarvis.recipes.jobs"
)

// RefKind enumerates image reference kinds.
type RefKind string

const (
	RefLocalPath RefKind = "local_path"
	RefS3        RefKind = "s3"
	RefMinio     RefKind = "minio"
	RefDB        RefKind = "db"
)

// ImageRef locates one image of a job. Index is the caller-assigned position
// used for result alignment; it is unique within a job.
type ImageRef struct {
	Kind  RefKind `json:"kind"`
	Value string  `json:"value"`
	Index int     `json:"index"`
}

// Options carries per-job OCR options.
type Options struct {
	Language string `json:"language,omitempty"`
}

// JobPayload is the payload of an inbound extraction request.
type JobPayload struct {
	ImageRefs  []ImageRef `json:"image_refs"`
	ImageCount int        `json:"image_count,omitempty"`
	Options    *Options   `json:"options,omitempty"`
}

// Trace carries caller correlation handles. Both keys are required on the
// wire; their values may be null.
type Trace struct {
	RequestID   *string `json:"request_id"`
	ParentJobID *string `json:"parent_job_id"`
}

// JobEnvelope is the inbound queue message (schema v1).
type JobEnvelope struct {
	SchemaVersion int        `json:"schema_version"`
	JobID         string     `json:"job_id"`
	WorkflowID    string     `json:"workflow_id"`
	JobType       string     `json:"job_type"`
	Source        string     `json:"source"`
	Target        string     `json:"target"`
	CreatedAt     string     `json:"created_at"`
	Attempt       int        `json:"attempt"`
	ReplyTo       string     `json:"reply_to"`
	Payload       JobPayload `json:"payload"`
	Trace         Trace      `json:"trace"`
}

// Language returns the effective language hint, falling back to def.
func (e JobEnvelope) Language(def string) string {
	if e.Payload.Options != nil && e.Payload.Options.Language != "" {
		return e.Payload.Options.Language
	}
	return def
}

// ResultMeta describes how one image's text was produced and judged.
type ResultMeta struct {
	Language         string  `json:"language"`
	Confidence       float64 `json:"confidence"`
	TextLen          int     `json:"text_len"`
	IsValid          bool    `json:"is_valid"`
	Tier             string  `json:"tier"`
	ValidationReason *string `json:"validation_reason"`
}

// ResultError is the per-image failure shape.
type ResultError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ImageResult is one entry of a completion payload's results list.
type ImageResult struct {
	Index     int          `json:"index"`
	OCRText   string       `json:"ocr_text"`
	Truncated bool         `json:"truncated"`
	Meta      ResultMeta   `json:"meta"`
	Error     *ResultError `json:"error"`
}

// CompletionError is the envelope-level error of a completion payload. Both
// fields are null unless the job failed before producing any per-image result.
type CompletionError struct {
	Message *string `json:"message"`
	Code    *string `json:"code"`
}

// CompletionStatus values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// CompletionPayload is the payload of an outbound ocr.completed envelope.
type CompletionPayload struct {
	Status      string          `json:"status"`
	Results     []ImageResult   `json:"results"`
	ArtifactRef *string         `json:"artifact_ref"`
	Error       CompletionError `json:"error"`
}

// CompletionEnvelope is the terminal message published to reply_to.
type CompletionEnvelope struct {
	SchemaVersion int               `json:"schema_version"`
	JobID         string            `json:"job_id"`
	WorkflowID    string            `json:"workflow_id"`
	JobType       string            `json:"job_type"`
	Source        string            `json:"source"`
	Target        string            `json:"target"`
	CreatedAt     string            `json:"created_at"`
	Attempt       int               `json:"attempt"`
	ReplyTo       *string           `json:"reply_to"`
	Payload       CompletionPayload `json:"payload"`
	Trace         Trace             `json:"trace"`
}

// PendingState is the per-image suspension row persisted while a judge
// verdict is outstanding. It carries the entire job's progress so any worker
// can resume from the callback alone.
type PendingState struct {
	OriginalJob      JobEnvelope   `json:"original_job"`
	ImageIndex       int           `json:"image_index"`
	TierName         Tier          `json:"tier_name"`
	OCRText          string        `json:"ocr_text"`
	RemainingTiers   []Tier        `json:"remaining_tiers"`
	ProcessedResults []ImageResult `json:"processed_results"`
	ValidationJobID  string        `json:"validation_job_id"`
	CreatedAt        string        `json:"created_at"`
}

// Verdict is the judge's decision about one candidate extraction.
type Verdict struct {
	IsValid    bool
	Confidence float64
	Reason     string
}

// ImageBlob is resolved image content.
type ImageBlob struct {
	Bytes     []byte
	MediaType string
}

// TextBlock is a positioned OCR fragment. The queue flow only consumes Text;
// blocks exist for the synchronous path collaborators.
type TextBlock struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// OCROptions parametrize one engine invocation.
type OCROptions struct {
	LanguageHints []string
	Mode          string
}

// OCROutput is what an engine adapter produces for one image.
type OCROutput struct {
	Text       string
	Blocks     []TextBlock
	DurationMS int64
}

// Ports

// Queue publishes messages onto named Redis list queues. toBack selects RPUSH
// (used for retries) over the default LPUSH. Implementations apply the
// dispatcher framing rule for the recipes queue.
type Queue interface {
	Enqueue(ctx Context, queue string, message any, toBack bool) error
}

// StateStore is the TTL-bounded pending-validation store (C4).
type StateStore interface {
	Save(ctx Context, state PendingState) error
	// Get returns ErrNotFound for unknown, expired, or undecodable keys.
	Get(ctx Context, validationJobID string) (PendingState, error)
	Delete(ctx Context, validationJobID string) error
}

// JudgeClient enqueues an LLM judgment job at the external gateway (C3).
type JudgeClient interface {
	Enqueue(ctx Context, state PendingState, callbackURL string) (string, error)
}

// ImageResolver fetches raw bytes for an image reference (C2).
type ImageResolver interface {
	Resolve(ctx Context, ref ImageRef) (ImageBlob, error)
}

// OCREngine is one named OCR backend (C1).
type OCREngine interface {
	Name() EngineName
	Available() bool
	Process(ctx Context, image []byte, opts OCROptions) (OCROutput, error)
}

// Resumer continues a suspended per-image workflow from a judge verdict.
// The callback handler depends only on this and the state store.
type Resumer interface {
	Resume(ctx Context, state PendingState, verdict Verdict) error
}

// Context aliases context.Context so adapters and usecases share one
// signature style, matching the rest of the codebase.
type Context = context.Context
