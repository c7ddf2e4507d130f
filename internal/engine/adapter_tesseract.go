//go:build tesseract

package engine

import (
	"context"

	"github.com/otiai10/gosseract/v2"

	"ocrd/pkg/types"
)

// tesseractAdapter is a CPU fallback engine for plain-text extraction
// when no VL runtime is installed. Enabled with `-tags=tesseract`
// (CGO, requires libtesseract). The prompt is ignored beyond language
// hints; output is unformatted text.
type tesseractAdapter struct {
	languages []string
}

// NewTesseractAdapter constructs the tesseract-backed adapter.
func NewTesseractAdapter(languages ...string) Adapter {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &tesseractAdapter{languages: languages}
}

type tesseractSession struct {
	client *gosseract.Client
}

func (a *tesseractAdapter) Load(ctx context.Context, model types.Model, opts LoadOptions) (Session, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage(a.languages...); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &tesseractSession{client: client}, nil
}

func (s *tesseractSession) Generate(ctx context.Context, in GenerateInput, onProgress func(string)) (FinalResult, error) {
	select {
	case <-ctx.Done():
		return FinalResult{}, ctx.Err()
	default:
	}
	if err := s.client.SetImageFromBytes(in.ImagePNG); err != nil {
		return FinalResult{}, err
	}
	text, err := s.client.Text()
	if err != nil {
		return FinalResult{}, err
	}
	if onProgress != nil {
		onProgress(text)
	}
	return FinalResult{Text: text}, nil
}

func (s *tesseractSession) Close() error { return s.client.Close() }
