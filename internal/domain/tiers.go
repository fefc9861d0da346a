package domain

import "strings"

// Tier is an external tier name as callers configure it. Tier names are the
// public vocabulary; engine names are the internal adapter vocabulary. The
// two differ only for the LLM tiers.
type Tier string

const (
	TierTesseract   Tier = "tesseract"
	TierEasyOCR     Tier = "easyocr"
	TierPaddleOCR   Tier = "paddleocr"
	TierRapidOCR    Tier = "rapidocr"
	TierAppleVision Tier = "apple_vision"
	TierLLMLocal    Tier = "llm_local"
	TierLLMCloud    Tier = "llm_cloud"
)

// EngineName identifies one OCR engine adapter.
type EngineName string

const (
	EngineTesseract   EngineName = "tesseract"
	EngineEasyOCR     EngineName = "easyocr"
	EnginePaddleOCR   EngineName = "paddleocr"
	EngineRapidOCR    EngineName = "rapidocr"
	EngineAppleVision EngineName = "apple_vision"
	EngineLLMVision   EngineName = "llm_proxy_vision"
	EngineLLMCloud    EngineName = "llm_proxy_cloud"
)

// DefaultTierOrder is the canonical cheapest-first escalation order.
var DefaultTierOrder = []Tier{
	TierTesseract,
	TierEasyOCR,
	TierPaddleOCR,
	TierRapidOCR,
	TierAppleVision,
	TierLLMLocal,
	TierLLMCloud,
}

var tierToEngine = map[Tier]EngineName{
	TierLLMLocal: EngineLLMVision,
	TierLLMCloud: EngineLLMCloud,
}

var engineToTier = map[EngineName]Tier{
	EngineLLMVision: TierLLMLocal,
	EngineLLMCloud:  TierLLMCloud,
}

// TierToEngine maps a tier name to its engine name. Every tier except the
// two LLM tiers maps to the engine of the same name.
func (t Tier) TierToEngine() EngineName {
	if e, ok := tierToEngine[t]; ok {
		return e
	}
	return EngineName(t)
}

// EngineToTier is the inverse of TierToEngine.
func (e EngineName) EngineToTier() Tier {
	if t, ok := engineToTier[e]; ok {
		return t
	}
	return Tier(e)
}

// TierOrder intersects the enabled set with DefaultTierOrder, preserving
// canonical order and dropping unknown names. An empty enabled set means
// every tier is enabled.
func TierOrder(enabled []Tier) []Tier {
	if len(enabled) == 0 {
		out := make([]Tier, len(DefaultTierOrder))
		copy(out, DefaultTierOrder)
		return out
	}
	set := make(map[Tier]bool, len(enabled))
	for _, t := range enabled {
		set[t] = true
	}
	var out []Tier
	for _, t := range DefaultTierOrder {
		if set[t] {
			out = append(out, t)
		}
	}
	return out
}

// ParseTiers parses a comma-separated tier list, trimming whitespace and
// skipping empty entries. Unknown names survive parsing and are dropped by
// TierOrder.
func ParseTiers(csv string) []Tier {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	var out []Tier
	for _, part := range strings.Split(csv, ",") {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		out = append(out, Tier(p))
	}
	return out
}
