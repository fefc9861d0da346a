package config

import (
	"log/slog"
	"strconv"
)

// WithOverrides applies settings-table values on top of the env config.
// Unknown keys and unparseable values are logged and skipped; a bad row in
// the settings table must not take the worker down.
func (c Config) WithOverrides(values map[string]string) Config {
	for key, value := range values {
		switch key {
		case "enabled_tiers":
			c.EnabledTiers = value
		case "validation_model":
			if value != "" {
				c.ValidationModel = value
			}
		case "min_confidence":
			if f, err := strconv.ParseFloat(value, 64); err == nil && f >= 0 && f <= 1 {
				c.MinConfidence = f
			} else {
				slog.Warn("ignoring bad settings value", "key", key, "value", value)
			}
		case "min_valid_chars":
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				c.MinValidChars = n
			} else {
				slog.Warn("ignoring bad settings value", "key", key, "value", value)
			}
		case "max_attempts":
			if n, err := strconv.Atoi(value); err == nil && n >= 1 {
				c.MaxAttempts = n
			} else {
				slog.Warn("ignoring bad settings value", "key", key, "value", value)
			}
		default:
			slog.Debug("unknown settings key", "key", key)
		}
	}
	return c
}
