//go:build !tesseract

package engine

import (
	"context"
	"errors"

	"ocrd/pkg/types"
)

// This file provides a no-CGO stub compiled when the 'tesseract' tag
// is not set, keeping default builds CGO-free. The real adapter lives
// in adapter_tesseract.go.

type tesseractAdapter struct{}

// NewTesseractAdapter returns a stub that refuses to load without the
// 'tesseract' build tag. No mocked behavior in production binaries.
func NewTesseractAdapter(languages ...string) Adapter {
	return &tesseractAdapter{}
}

func (a *tesseractAdapter) Load(ctx context.Context, model types.Model, opts LoadOptions) (Session, error) {
	return nil, errors.New("tesseract support not built (missing 'tesseract' build tag)")
}
