// Package ocrengine contains the OCR engine adapters behind the tier chain:
// a local tesseract binary, HTTP sidecars for the Python-based engines, and
// the LLM proxy vision models.
package ocrengine

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/fairyhunter13/jarvis-ocr-service/internal/domain"
)

// tesseractLangs maps ISO 639-1 hints to tesseract's 3-letter codes.
var tesseractLangs = map[string]string{
	"en": "eng", "fr": "fra", "de": "deu", "es": "spa", "it": "ita",
}

// Tesseract shells out to the tesseract CLI.
type Tesseract struct {
	cmd     string
	timeout time.Duration
}

// NewTesseract builds the adapter. cmd defaults to "tesseract" on PATH.
func NewTesseract(cmd string, timeout time.Duration) *Tesseract {
	if cmd == "" {
		cmd = "tesseract"
	}
	return &Tesseract{cmd: cmd, timeout: timeout}
}

func (t *Tesseract) Name() domain.EngineName { return domain.EngineTesseract }

// Available reports whether the binary can be found.
func (t *Tesseract) Available() bool {
	_, err := exec.LookPath(t.cmd)
	return err == nil
}

// Process writes the image to a temp file and runs tesseract with stdout
// output.
func (t *Tesseract) Process(ctx domain.Context, image []byte, opts domain.OCROptions) (domain.OCROutput, error) {
	start := time.Now()

	f, err := os.CreateTemp("", "ocr-*.img")
	if err != nil {
		return domain.OCROutput{}, fmt.Errorf("op=tesseract.tempfile: %w", err)
	}
	defer func() { _ = os.Remove(f.Name()) }()
	if _, err := f.Write(image); err != nil {
		_ = f.Close()
		return domain.OCROutput{}, fmt.Errorf("op=tesseract.write: %w", err)
	}
	if err := f.Close(); err != nil {
		return domain.OCROutput{}, fmt.Errorf("op=tesseract.close: %w", err)
	}

	args := []string{f.Name(), "stdout"}
	if lang := t.langArg(opts.LanguageHints); lang != "" {
		args = append(args, "-l", lang)
	}

	if t.timeout > 0 {
		var cancel func()
		ctx, cancel = contextWithTimeout(ctx, t.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, t.cmd, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return domain.OCROutput{}, fmt.Errorf("op=tesseract.run: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	return domain.OCROutput{
		Text:       strings.TrimSpace(stdout.String()),
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

// langArg joins up to three mapped hints with "+", tesseract's multi-language
// syntax.
func (t *Tesseract) langArg(hints []string) string {
	if len(hints) > 3 {
		hints = hints[:3]
	}
	var parts []string
	for _, h := range hints {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if mapped, ok := tesseractLangs[h]; ok {
			h = mapped
		}
		parts = append(parts, h)
	}
	return strings.Join(parts, "+")
}
