package ocrengine

import (
	"github.com/fairyhunter13/jarvis-ocr-service/internal/config"
	"github.com/fairyhunter13/jarvis-ocr-service/internal/domain"
)

// BuildEngines assembles every engine adapter from config. Engines with no
// backing service simply report unavailable; the orchestrator skips their
// tiers.
func BuildEngines(cfg config.Config) []domain.OCREngine {
	return []domain.OCREngine{
		NewTesseract(cfg.TesseractCmd, cfg.EngineTimeout),
		NewSidecar(domain.EngineEasyOCR, cfg.EasyOCRURL, cfg.EngineTimeout),
		NewSidecar(domain.EnginePaddleOCR, cfg.PaddleOCRURL, cfg.EngineTimeout),
		NewSidecar(domain.EngineRapidOCR, cfg.RapidOCRURL, cfg.EngineTimeout),
		NewSidecar(domain.EngineAppleVision, cfg.AppleVisionURL, cfg.EngineTimeout),
		NewLLMProxy(domain.EngineLLMVision, "vision", cfg.LLMGatewayURL, cfg.JarvisAppID, cfg.JarvisAppKey, cfg.EngineTimeout),
		NewLLMProxy(domain.EngineLLMCloud, "cloud", cfg.LLMGatewayURL, cfg.JarvisAppID, cfg.JarvisAppKey, cfg.EngineTimeout),
	}
}
