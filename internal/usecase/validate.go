// Package usecase holds the queue-flow application services: envelope
// validation, the tier escalation engine, and completion building.
package usecase

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/jarvis-ocr-service/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// envelopeRules mirrors the inbound schema for the checks the tag language
// can express. Cross-field rules (index uniqueness, image_count consistency)
// are checked by hand below.
type envelopeRules struct {
	SchemaVersion int    `validate:"eq=1"`
	JobID         string `validate:"required"`
	WorkflowID    string `validate:"required"`
	JobType       string `validate:"required"`
	Source        string `validate:"required"`
	Target        string `validate:"required"`
	CreatedAt     string `validate:"required"`
	Attempt       int    `validate:"gte=1"`
	ReplyTo       string `validate:"required"`
	ImageRefs     []refRules `validate:"min=1,max=8,dive"`
}

type refRules struct {
	Kind  string `validate:"oneof=local_path s3 minio db"`
	Value string `validate:"required"`
	Index int    `validate:"gte=0"`
}

// ValidateEnvelope checks an inbound envelope against the v1 schema and fills
// in the derived image_count when absent. The returned envelope is the one to
// process. Violations wrap domain.ErrSchemaInvalid.
func ValidateEnvelope(env domain.JobEnvelope) (domain.JobEnvelope, error) {
	if env.JobType != domain.JobTypeExtractText {
		return env, fmt.Errorf("unexpected job_type %q: %w", env.JobType, domain.ErrSchemaInvalid)
	}

	rules := envelopeRules{
		SchemaVersion: env.SchemaVersion,
		JobID:         env.JobID,
		WorkflowID:    env.WorkflowID,
		JobType:       env.JobType,
		Source:        env.Source,
		Target:        env.Target,
		CreatedAt:     env.CreatedAt,
		Attempt:       env.Attempt,
		ReplyTo:       env.ReplyTo,
	}
	for _, r := range env.Payload.ImageRefs {
		rules.ImageRefs = append(rules.ImageRefs, refRules{
			Kind:  string(r.Kind),
			Value: r.Value,
			Index: r.Index,
		})
	}
	if err := validate.Struct(rules); err != nil {
		return env, fmt.Errorf("%v: %w", err, domain.ErrSchemaInvalid)
	}

	if _, err := time.Parse(time.RFC3339, env.CreatedAt); err != nil {
		return env, fmt.Errorf("invalid created_at %q: %w", env.CreatedAt, domain.ErrSchemaInvalid)
	}

	if env.Payload.Options != nil && env.Payload.Options.Language == "" {
		return env, fmt.Errorf("options.language must be non-empty when options is present: %w", domain.ErrSchemaInvalid)
	}

	seen := make(map[int]bool, len(env.Payload.ImageRefs))
	for _, r := range env.Payload.ImageRefs {
		if seen[r.Index] {
			return env, fmt.Errorf("duplicate image index %d: %w", r.Index, domain.ErrSchemaInvalid)
		}
		seen[r.Index] = true
	}

	if env.Payload.ImageCount != 0 && env.Payload.ImageCount != len(env.Payload.ImageRefs) {
		return env, fmt.Errorf("image_count %d does not match %d refs: %w",
			env.Payload.ImageCount, len(env.Payload.ImageRefs), domain.ErrSchemaInvalid)
	}
	env.Payload.ImageCount = len(env.Payload.ImageRefs)

	return env, nil
}
