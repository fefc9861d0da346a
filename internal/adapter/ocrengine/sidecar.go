package ocrengine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/jarvis-ocr-service/internal/domain"
)

func contextWithTimeout(ctx domain.Context, d time.Duration) (domain.Context, func()) {
	return context.WithTimeout(ctx, d)
}

// Sidecar fronts one of the Python OCR engines (easyocr, paddleocr,
// rapidocr, apple_vision) running as a companion HTTP service. An engine with
// no configured URL is simply unavailable and its tier is skipped.
type Sidecar struct {
	name    domain.EngineName
	baseURL string
	http    *http.Client
}

// NewSidecar builds an adapter for the named engine at baseURL.
func NewSidecar(name domain.EngineName, baseURL string, timeout time.Duration) *Sidecar {
	return &Sidecar{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (s *Sidecar) Name() domain.EngineName { return s.name }

func (s *Sidecar) Available() bool { return s.baseURL != "" }

type sidecarRequest struct {
	ImageBase64 string   `json:"image_base64"`
	Languages   []string `json:"languages,omitempty"`
	Mode        string   `json:"mode,omitempty"`
}

type sidecarResponse struct {
	Text       string             `json:"text"`
	Blocks     []domain.TextBlock `json:"blocks"`
	DurationMS int64              `json:"duration_ms"`
}

// Process posts the image to the sidecar's /ocr endpoint.
func (s *Sidecar) Process(ctx domain.Context, image []byte, opts domain.OCROptions) (domain.OCROutput, error) {
	start := time.Now()
	body, err := json.Marshal(sidecarRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(image),
		Languages:   opts.LanguageHints,
		Mode:        opts.Mode,
	})
	if err != nil {
		return domain.OCROutput{}, fmt.Errorf("op=%s.marshal: %w", s.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/ocr", bytes.NewReader(body))
	if err != nil {
		return domain.OCROutput{}, fmt.Errorf("op=%s.request: %w", s.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return domain.OCROutput{}, fmt.Errorf("op=%s.post: %w", s.name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.OCROutput{}, fmt.Errorf("op=%s.post status=%d: %w", s.name, resp.StatusCode, domain.ErrUnavailable)
	}

	var out sidecarResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.OCROutput{}, fmt.Errorf("op=%s.decode: %w", s.name, err)
	}
	dur := out.DurationMS
	if dur == 0 {
		dur = time.Since(start).Milliseconds()
	}
	return domain.OCROutput{Text: out.Text, Blocks: out.Blocks, DurationMS: dur}, nil
}
