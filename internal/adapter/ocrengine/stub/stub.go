// Package stub provides a scriptable in-memory OCR engine for tests and
// local development.
package stub

import (
	"github.com/fairyhunter13/jarvis-ocr-service/internal/domain"
)

// Engine returns canned outputs keyed by call order. Once the script runs
// out, the last entry repeats.
type Engine struct {
	EngineName  domain.EngineName
	Unavailable bool
	Outputs     []domain.OCROutput
	Errs        []error
	Calls       int
}

// New builds a stub engine that always returns text.
func New(name domain.EngineName, text string) *Engine {
	return &Engine{EngineName: name, Outputs: []domain.OCROutput{{Text: text}}}
}

func (e *Engine) Name() domain.EngineName { return e.EngineName }

func (e *Engine) Available() bool { return !e.Unavailable }

func (e *Engine) Process(_ domain.Context, _ []byte, _ domain.OCROptions) (domain.OCROutput, error) {
	i := e.Calls
	e.Calls++
	if len(e.Errs) > 0 {
		if i >= len(e.Errs) {
			i = len(e.Errs) - 1
		}
		if e.Errs[i] != nil {
			return domain.OCROutput{}, e.Errs[i]
		}
	}
	if len(e.Outputs) == 0 {
		return domain.OCROutput{}, nil
	}
	j := e.Calls - 1
	if j >= len(e.Outputs) {
		j = len(e.Outputs) - 1
	}
	return e.Outputs[j], nil
}
