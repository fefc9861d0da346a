package usecase

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/jarvis-ocr-service/internal/domain"
)

// BuildCompletion assembles the terminal ocr.completed envelope for one
// consumed job. Results are sorted by image index; status is success when at
// least one image produced valid text. jobErr is nil except for job-level
// failures (schema rejection, engine-wide failure promotion, internal error).
func BuildCompletion(job domain.JobEnvelope, results []domain.ImageResult, jobErr *domain.ResultError) domain.CompletionEnvelope {
	sorted := make([]domain.ImageResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	status := domain.StatusFailed
	for _, r := range sorted {
		if r.Meta.IsValid {
			status = domain.StatusSuccess
			break
		}
	}

	envErr := domain.CompletionError{}
	if jobErr != nil {
		status = domain.StatusFailed
		msg := jobErr.Message
		if len(msg) > domain.MaxReasonLen {
			msg = msg[:domain.MaxReasonLen]
		}
		code := string(jobErr.Code)
		envErr = domain.CompletionError{Message: &msg, Code: &code}
	}

	if sorted == nil {
		sorted = []domain.ImageResult{}
	}
	// The completion becomes the child of the consumed job: the caller's
	// request id is carried through, the parent job id is rewritten.
	parentJobID := job.JobID
	return domain.CompletionEnvelope{
		SchemaVersion: domain.SchemaVersion,
		JobID:         uuid.New().String(),
		WorkflowID:    job.WorkflowID,
		JobType:       domain.JobTypeCompleted,
		Source:        domain.ServiceName,
		Target:        job.Source,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		Attempt:       1,
		ReplyTo:       nil,
		Payload: domain.CompletionPayload{
			Status:      status,
			Results:     sorted,
			ArtifactRef: nil,
			Error:       envErr,
		},
		Trace: domain.Trace{
			RequestID:   job.Trace.RequestID,
			ParentJobID: &parentJobID,
		},
	}
}
