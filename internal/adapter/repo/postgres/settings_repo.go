package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/jarvis-ocr-service/internal/domain"
)

// PgxPool is the subset of pgxpool.Pool the repo needs, kept narrow for
// tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// SettingsRepo reads and writes the ocr_settings table. Values stored there
// override env configuration at worker startup.
type SettingsRepo struct{ Pool PgxPool }

// NewSettingsRepo constructs a SettingsRepo with the given pool.
func NewSettingsRepo(p PgxPool) *SettingsRepo { return &SettingsRepo{Pool: p} }

// Get loads one setting value by key.
func (r *SettingsRepo) Get(ctx domain.Context, key string) (string, error) {
	tracer := otel.Tracer("repo.settings")
	ctx, span := tracer.Start(ctx, "settings.Get")
	defer span.End()
	q := `SELECT value FROM ocr_settings WHERE key=$1`
	var v string
	if err := r.Pool.QueryRow(ctx, q, key).Scan(&v); err != nil {
		if err == pgx.ErrNoRows {
			return "", fmt.Errorf("op=settings.get key=%s: %w", key, domain.ErrNotFound)
		}
		return "", fmt.Errorf("op=settings.get key=%s: %w", key, err)
	}
	return v, nil
}

// All loads every setting into a map.
func (r *SettingsRepo) All(ctx domain.Context) (map[string]string, error) {
	tracer := otel.Tracer("repo.settings")
	ctx, span := tracer.Start(ctx, "settings.All")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT key, value FROM ocr_settings`)
	if err != nil {
		return nil, fmt.Errorf("op=settings.all: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("op=settings.all: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=settings.all: %w", err)
	}
	return out, nil
}

// Set upserts one setting.
func (r *SettingsRepo) Set(ctx domain.Context, key, value, description string) error {
	tracer := otel.Tracer("repo.settings")
	ctx, span := tracer.Start(ctx, "settings.Set")
	defer span.End()
	q := `INSERT INTO ocr_settings (key, value, description, updated_at)
	      VALUES ($1,$2,$3,$4)
	      ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, description=EXCLUDED.description, updated_at=EXCLUDED.updated_at`
	if _, err := r.Pool.Exec(ctx, q, key, value, description, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=settings.set key=%s: %w", key, err)
	}
	return nil
}
