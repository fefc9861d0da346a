// Package redisstate persists suspended per-image workflows in Redis with a
// TTL so abandoned validations expire on their own.
package redisstate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/jarvis-ocr-service/internal/domain"
	obsctx "github.com/fairyhunter13/jarvis-ocr-service/internal/observability"
)

// Store implements domain.StateStore on Redis string keys.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New builds a store with the given TTL for pending rows.
func New(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func key(validationJobID string) string {
	return domain.ValidationKeyPrefix + validationJobID
}

// Save writes the state row under its validation job id, refreshing the TTL.
func (s *Store) Save(ctx domain.Context, state domain.PendingState) error {
	tracer := otel.Tracer("statestore.redis")
	ctx, span := tracer.Start(ctx, "state.Save")
	defer span.End()
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("op=state.marshal: %w", err)
	}
	if err := s.rdb.Set(ctx, key(state.ValidationJobID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("op=state.save id=%s: %w", state.ValidationJobID, err)
	}
	return nil
}

// Get loads a state row. Unknown, expired, and undecodable rows all surface
// as domain.ErrNotFound; a corrupt row is as useless as a missing one.
func (s *Store) Get(ctx domain.Context, validationJobID string) (domain.PendingState, error) {
	tracer := otel.Tracer("statestore.redis")
	ctx, span := tracer.Start(ctx, "state.Get")
	defer span.End()
	b, err := s.rdb.Get(ctx, key(validationJobID)).Bytes()
	if err == redis.Nil {
		return domain.PendingState{}, fmt.Errorf("op=state.get id=%s: %w", validationJobID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PendingState{}, fmt.Errorf("op=state.get id=%s: %w", validationJobID, err)
	}
	var state domain.PendingState
	if err := json.Unmarshal(b, &state); err != nil {
		obsctx.LoggerFromContext(ctx).Warn("undecodable pending state, treating as missing",
			"validation_job_id", validationJobID, "error", err)
		return domain.PendingState{}, fmt.Errorf("op=state.decode id=%s: %w", validationJobID, domain.ErrNotFound)
	}
	return state, nil
}

// Delete removes a state row. Deleting a missing row is not an error.
func (s *Store) Delete(ctx domain.Context, validationJobID string) error {
	tracer := otel.Tracer("statestore.redis")
	ctx, span := tracer.Start(ctx, "state.Delete")
	defer span.End()
	if err := s.rdb.Del(ctx, key(validationJobID)).Err(); err != nil {
		return fmt.Errorf("op=state.delete id=%s: %w", validationJobID, err)
	}
	return nil
}
