package redisstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/jarvis-ocr-service/internal/domain"
)

func testStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, ttl), mr
}

func sampleState() domain.PendingState {
	return domain.PendingState{
		OriginalJob: domain.JobEnvelope{
			SchemaVersion: 1,
			JobID:         "job-1",
			WorkflowID:    "wf-1",
			JobType:       domain.JobTypeExtractText,
		},
		ImageIndex:      0,
		TierName:        domain.TierTesseract,
		OCRText:         "hello world",
		RemainingTiers:  []domain.Tier{domain.TierEasyOCR},
		ValidationJobID: "val-abc",
		CreatedAt:       "2026-08-24T10:00:00Z",
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	s, mr := testStore(t, 300*time.Second)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleState()))
	assert.True(t, mr.Exists(domain.ValidationKeyPrefix+"val-abc"))

	got, err := s.Get(ctx, "val-abc")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.OriginalJob.JobID)
	assert.Equal(t, domain.TierTesseract, got.TierName)
	assert.Equal(t, []domain.Tier{domain.TierEasyOCR}, got.RemainingTiers)
}

func TestSaveSetsTTL(t *testing.T) {
	s, mr := testStore(t, 300*time.Second)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleState()))
	assert.Equal(t, 300*time.Second, mr.TTL(domain.ValidationKeyPrefix+"val-abc"))

	mr.FastForward(301 * time.Second)
	_, err := s.Get(ctx, "val-abc")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestGetMissing(t *testing.T) {
	s, _ := testStore(t, time.Minute)
	_, err := s.Get(context.Background(), "val-nope")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestGetCorruptRow(t *testing.T) {
	s, mr := testStore(t, time.Minute)
	require.NoError(t, mr.Set(domain.ValidationKeyPrefix+"val-bad", "{not json"))

	_, err := s.Get(context.Background(), "val-bad")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestDelete(t *testing.T) {
	s, mr := testStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleState()))
	require.NoError(t, s.Delete(ctx, "val-abc"))
	assert.False(t, mr.Exists(domain.ValidationKeyPrefix+"val-abc"))

	// Deleting again is a no-op.
	require.NoError(t, s.Delete(ctx, "val-abc"))
}
