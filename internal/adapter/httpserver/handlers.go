package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fairyhunter13/jarvis-ocr-service/internal/adapter/observability"
	"github.com/fairyhunter13/jarvis-ocr-service/internal/adapter/queue/redisq"
	"github.com/fairyhunter13/jarvis-ocr-service/internal/domain"
	obsctx "github.com/fairyhunter13/jarvis-ocr-service/internal/observability"
)

// Server bundles the HTTP handler dependencies.
type Server struct {
	Store    domain.StateStore
	Resumer  domain.Resumer
	Queue    *redisq.Client
	JobQueue string
}

// NewServer wires the handler dependencies.
func NewServer(store domain.StateStore, resumer domain.Resumer, queue *redisq.Client, jobQueue string) *Server {
	return &Server{Store: store, Resumer: resumer, Queue: queue, JobQueue: jobQueue}
}

// callbackPayload is the body the LLM proxy posts when a validation job
// finishes.
type callbackPayload struct {
	JobID    string         `json:"job_id"`
	Status   string         `json:"status"`
	Result   map[string]any `json:"result"`
	Error    map[string]any `json:"error"`
	Metadata map[string]any `json:"metadata"`
}

// ValidationCallback receives judge verdicts and resumes the suspended
// workflow. The state row is deleted before resuming so a duplicate delivery
// 404s instead of double-processing.
func (s *Server) ValidationCallback(w http.ResponseWriter, r *http.Request) {
	lg := LoggerFrom(r)

	var payload callbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		observability.CallbacksTotal.WithLabelValues("bad_request").Inc()
		writeError(w, r, fmt.Errorf("invalid callback body: %w", domain.ErrInvalidArgument), nil)
		return
	}

	stateKey, _ := payload.Metadata["validation_state_key"].(string)
	if stateKey == "" {
		observability.CallbacksTotal.WithLabelValues("bad_request").Inc()
		writeError(w, r, fmt.Errorf("missing validation_state_key in metadata: %w", domain.ErrInvalidArgument), nil)
		return
	}

	lg.Info("validation callback received",
		"job_id", payload.JobID, "status", payload.Status, "state_key", stateKey)

	ctx := r.Context()
	state, err := s.Store.Get(ctx, stateKey)
	if err != nil {
		observability.CallbacksTotal.WithLabelValues("state_missing").Inc()
		lg.Warn("validation state not found or expired", "state_key", stateKey)
		writeError(w, r, fmt.Errorf("validation state not found or expired: %w", domain.ErrNotFound), nil)
		return
	}

	verdict := parseVerdict(payload)
	lg.Info("verdict parsed",
		"state_key", stateKey,
		"is_valid", verdict.IsValid,
		"confidence", verdict.Confidence)

	if err := s.Store.Delete(ctx, stateKey); err != nil {
		// The row will expire via TTL; resuming matters more than the delete.
		lg.Error("state delete failed", "state_key", stateKey, "error", err)
	}

	ctx = obsctx.ContextWithLogger(ctx, lg)
	if err := s.Resumer.Resume(ctx, state, verdict); err != nil {
		observability.CallbacksTotal.WithLabelValues("resume_error").Inc()
		writeError(w, r, fmt.Errorf("resume failed: %w", domain.ErrInternal), nil)
		return
	}

	observability.CallbacksTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "processed": true})
}

// parseVerdict extracts (is_valid, confidence, reason) from the callback. A
// failed job, missing content, or unparseable content all count as invalid.
func parseVerdict(payload callbackPayload) domain.Verdict {
	if payload.Status == "failed" {
		msg := "LLM validation failed"
		if m, ok := payload.Error["message"].(string); ok && m != "" {
			msg = m
		}
		if len(msg) > domain.MaxReasonLen {
			msg = msg[:domain.MaxReasonLen]
		}
		return domain.Verdict{IsValid: false, Confidence: 0, Reason: msg}
	}

	content, ok := payload.Result["content"].(string)
	if !ok || content == "" {
		return domain.Verdict{IsValid: false, Confidence: 0, Reason: "No validation result content"}
	}

	var parsed struct {
		IsValid    bool     `json:"is_valid"`
		Confidence *float64 `json:"confidence"`
		Reason     string   `json:"reason"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		reason := fmt.Sprintf("Failed to parse validation result: %.100s", err.Error())
		return domain.Verdict{IsValid: false, Confidence: 0, Reason: reason}
	}

	confidence := 0.5
	if parsed.Confidence != nil {
		confidence = *parsed.Confidence
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	reason := parsed.Reason
	if len(reason) > domain.MaxReasonLen {
		reason = reason[:domain.MaxReasonLen]
	}
	return domain.Verdict{IsValid: parsed.IsValid, Confidence: confidence, Reason: reason}
}

// QueueStatus reports inbound queue connectivity and depth.
func (s *Server) QueueStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Queue.Status(r.Context(), s.JobQueue)
	if err != nil {
		// Degraded Redis still yields a 200 with connectivity false, so
		// dashboards can read the shape either way.
		writeJSON(w, http.StatusOK, st)
		return
	}
	observability.QueueDepth.WithLabelValues(s.JobQueue).Set(float64(st.QueueLength))
	writeJSON(w, http.StatusOK, st)
}

// Healthz is the liveness probe.
func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz verifies Redis connectivity.
func (s *Server) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.Queue.Redis().Ping(r.Context()).Err(); err != nil {
		writeError(w, r, fmt.Errorf("redis: %w", domain.ErrUnavailable), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
