// Package config loads service configuration from the environment, with an
// optional YAML override file for the tier chain.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/jarvis-ocr-service/internal/domain"
)

// Config is the full service configuration.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"dev"`
	Port        int    `env:"PORT" envDefault:"8080"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9090"`
	// PublicURL is the externally reachable base URL of this worker; the
	// judge callback URL is derived from it.
	PublicURL string `env:"OCR_PUBLIC_URL" envDefault:"http://localhost:8080"`

	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	JobQueue string `env:"OCR_JOB_QUEUE" envDefault:"jarvis.ocr.jobs"`
	// DBURL is optional; when empty the worker runs without settings storage.
	DBURL string `env:"DB_URL"`

	LLMGatewayURL   string        `env:"LLM_GATEWAY_URL" envDefault:"http://localhost:8100"`
	JarvisAppID     string        `env:"JARVIS_APP_ID"`
	JarvisAppKey    string        `env:"JARVIS_APP_KEY"`
	ValidationModel string        `env:"OCR_VALIDATION_MODEL" envDefault:"lightweight"`
	JudgeTimeout    time.Duration `env:"OCR_JUDGE_TIMEOUT" envDefault:"10s"`

	EnabledTiers    string  `env:"OCR_ENABLED_TIERS"`
	TiersFile       string  `env:"OCR_TIERS_FILE"`
	MaxTextBytes    int     `env:"OCR_MAX_TEXT_BYTES" envDefault:"51200"`
	MinValidChars   int     `env:"OCR_MIN_VALID_CHARS" envDefault:"3"`
	MinConfidence   float64 `env:"OCR_MIN_CONFIDENCE" envDefault:"0"`
	LanguageDefault string  `env:"OCR_LANGUAGE_DEFAULT" envDefault:"en"`
	MaxAttempts     int     `env:"OCR_MAX_ATTEMPTS" envDefault:"3"`
	ValidationTTL   int     `env:"OCR_VALIDATION_TTL_SECONDS" envDefault:"300"`
	Workers         int     `env:"OCR_WORKERS" envDefault:"1"`

	ImageRoot string `env:"OCR_IMAGE_ROOT" envDefault:"/data/images"`

	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`

	TesseractCmd   string        `env:"TESSERACT_CMD" envDefault:"tesseract"`
	EasyOCRURL     string        `env:"EASYOCR_URL"`
	PaddleOCRURL   string        `env:"PADDLEOCR_URL"`
	RapidOCRURL    string        `env:"RAPIDOCR_URL"`
	AppleVisionURL string        `env:"APPLE_VISION_URL"`
	EngineTimeout  time.Duration `env:"OCR_ENGINE_TIMEOUT" envDefault:"60s"`

	CORSAllowOrigins string  `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin  int     `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
	OTLPEndpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELSampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"0.1"`
	ServiceName      string  `env:"SERVICE_NAME" envDefault:"jarvis-ocr-service"`
	ServiceVersion   string  `env:"SERVICE_VERSION" envDefault:"dev"`
}

// Load parses the environment into a Config and applies the optional YAML
// tier file.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.parse: %w", err)
	}
	if cfg.TiersFile != "" {
		if err := cfg.applyTiersFile(); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// tiersFile is the YAML override shape.
type tiersFile struct {
	EnabledTiers []string `yaml:"enabled_tiers"`
}

func (c *Config) applyTiersFile() error {
	b, err := os.ReadFile(c.TiersFile)
	if err != nil {
		return fmt.Errorf("op=config.tiers_file: %w", err)
	}
	var tf tiersFile
	if err := yaml.Unmarshal(b, &tf); err != nil {
		return fmt.Errorf("op=config.tiers_file: %w", err)
	}
	if len(tf.EnabledTiers) > 0 {
		out := ""
		for i, t := range tf.EnabledTiers {
			if i > 0 {
				out += ","
			}
			out += t
		}
		c.EnabledTiers = out
	}
	return nil
}

// TierChain resolves the effective escalation order from EnabledTiers.
func (c Config) TierChain() []domain.Tier {
	return domain.TierOrder(domain.ParseTiers(c.EnabledTiers))
}

// CallbackURL is the absolute URL the judge gateway posts verdicts to.
func (c Config) CallbackURL() string {
	return c.PublicURL + "/internal/validation/callback"
}

// IsDev reports whether the app runs in development mode.
func (c Config) IsDev() bool { return c.AppEnv == "dev" }

// IsProd reports whether the app runs in production mode.
func (c Config) IsProd() bool { return c.AppEnv == "prod" }

// IsTest reports whether the app runs under tests.
func (c Config) IsTest() bool { return c.AppEnv == "test" }
