package ocrengine

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/jarvis-ocr-service/internal/domain"
)

// extractionPrompt asks the vision model for a fixed JSON shape so the text
// can be pulled out without scraping prose.
const extractionPrompt = `OCR this image and extract all text. Return the result as JSON in this exact format:
{
  "page1": {
    "text": "extracted text here"
  }
}

The text field should contain all readable text from the image. If the image contains no text, return an empty string.`

// LLMProxy performs OCR through the LLM proxy's OpenAI-compatible chat
// endpoint with an inline image. model selects "vision" (local) or "cloud".
type LLMProxy struct {
	name    domain.EngineName
	model   string
	baseURL string
	appID   string
	appKey  string
	http    *http.Client
}

// NewLLMProxy builds an adapter for one proxy model.
func NewLLMProxy(name domain.EngineName, model, baseURL, appID, appKey string, timeout time.Duration) *LLMProxy {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMProxy{
		name:    name,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		appID:   appID,
		appKey:  appKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (l *LLMProxy) Name() domain.EngineName { return l.name }

// Available requires the proxy URL and both auth credentials.
func (l *LLMProxy) Available() bool {
	return l.baseURL != "" && l.appID != "" && l.appKey != ""
}

type proxyContent struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL map[string]string `json:"image_url,omitempty"`
}

type proxyMessage struct {
	Role    string         `json:"role"`
	Content []proxyContent `json:"content"`
}

type proxyRequest struct {
	Model          string            `json:"model"`
	Messages       []proxyMessage    `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
	MaxTokens      int               `json:"max_tokens"`
}

type proxyResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Process sends the image as a base64 data URI and parses the page1.text
// field of the JSON reply, falling back to the raw content when the model
// ignores the shape.
func (l *LLMProxy) Process(ctx domain.Context, image []byte, opts domain.OCROptions) (domain.OCROutput, error) {
	start := time.Now()

	prompt := extractionPrompt
	if len(opts.LanguageHints) > 0 {
		prompt += fmt.Sprintf(" The text may be in: %s.", strings.Join(opts.LanguageHints, ", "))
	}
	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)

	body, err := json.Marshal(proxyRequest{
		Model: l.model,
		Messages: []proxyMessage{{
			Role: "user",
			Content: []proxyContent{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: map[string]string{"url": dataURI}},
			},
		}},
		ResponseFormat: map[string]string{"type": "json_object"},
		MaxTokens:      4096,
	})
	if err != nil {
		return domain.OCROutput{}, fmt.Errorf("op=%s.marshal: %w", l.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return domain.OCROutput{}, fmt.Errorf("op=%s.request: %w", l.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Jarvis-App-Id", l.appID)
	req.Header.Set("X-Jarvis-App-Key", l.appKey)

	resp, err := l.http.Do(req)
	if err != nil {
		return domain.OCROutput{}, fmt.Errorf("op=%s.post: %w", l.name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.OCROutput{}, fmt.Errorf("op=%s.post status=%d: %w", l.name, resp.StatusCode, domain.ErrUnavailable)
	}

	var out proxyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.OCROutput{}, fmt.Errorf("op=%s.decode: %w", l.name, err)
	}
	if len(out.Choices) == 0 {
		return domain.OCROutput{}, fmt.Errorf("op=%s: empty choices in proxy response", l.name)
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)

	text := content
	var parsed struct {
		Page1 struct {
			Text string `json:"text"`
		} `json:"page1"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err == nil && parsed.Page1.Text != "" {
		text = parsed.Page1.Text
	}

	return domain.OCROutput{Text: text, DurationMS: time.Since(start).Milliseconds()}, nil
}
