package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/jarvis-ocr-service/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, "jarvis.ocr.jobs", cfg.JobQueue)
	assert.Equal(t, 51200, cfg.MaxTextBytes)
	assert.Equal(t, 3, cfg.MinValidChars)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 300, cfg.ValidationTTL)
	assert.Equal(t, "en", cfg.LanguageDefault)
	assert.Equal(t, "lightweight", cfg.ValidationModel)
	assert.True(t, cfg.IsDev())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("OCR_ENABLED_TIERS", "tesseract,llm_cloud")
	t.Setenv("OCR_MAX_ATTEMPTS", "5")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, []domain.Tier{domain.TierTesseract, domain.TierLLMCloud}, cfg.TierChain())
}

func TestTiersFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("enabled_tiers:\n  - easyocr\n  - tesseract\n"), 0o600))
	t.Setenv("OCR_TIERS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	// File order does not matter; the canonical chain order does.
	assert.Equal(t, []domain.Tier{domain.TierTesseract, domain.TierEasyOCR}, cfg.TierChain())
}

func TestCallbackURL(t *testing.T) {
	cfg := Config{PublicURL: "http://ocr.internal:8080"}
	assert.Equal(t, "http://ocr.internal:8080/internal/validation/callback", cfg.CallbackURL())
}

func TestWithOverrides(t *testing.T) {
	cfg := Config{ValidationModel: "lightweight", MinValidChars: 3, MaxAttempts: 3}
	out := cfg.WithOverrides(map[string]string{
		"enabled_tiers":    "tesseract",
		"validation_model": "full",
		"min_confidence":   "0.7",
		"min_valid_chars":  "5",
		"max_attempts":     "2",
		"bogus_key":        "ignored",
	})
	assert.Equal(t, "tesseract", out.EnabledTiers)
	assert.Equal(t, "full", out.ValidationModel)
	assert.Equal(t, 0.7, out.MinConfidence)
	assert.Equal(t, 5, out.MinValidChars)
	assert.Equal(t, 2, out.MaxAttempts)
}

func TestWithOverridesRejectsBadValues(t *testing.T) {
	cfg := Config{MinConfidence: 0.5, MaxAttempts: 3, MinValidChars: 3}
	out := cfg.WithOverrides(map[string]string{
		"min_confidence":  "nine",
		"max_attempts":    "0",
		"min_valid_chars": "-1",
	})
	assert.Equal(t, 0.5, out.MinConfidence)
	assert.Equal(t, 3, out.MaxAttempts)
	assert.Equal(t, 3, out.MinValidChars)
}
