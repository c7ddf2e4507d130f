package engine

import (
	"context"

	"ocrd/pkg/types"
)

// Adapter abstracts the VL model runtime. The engine treats it as an
// opaque capability: given an image and a text prompt, produce text.
type Adapter interface {
	// Load makes the checkpoint resident and returns a session bound to
	// it. Implementations must release any partially acquired resources
	// on failure.
	Load(ctx context.Context, model types.Model, opts LoadOptions) (Session, error)
}

// Session is a loaded model plus its processor artifacts, bound to a
// device. Close releases the device memory; after Close the session
// must not be used.
type Session interface {
	// Generate runs one image+prompt generation. onProgress, when
	// non-nil, receives human-readable progress lines and streamed text
	// fragments. Implementations must return promptly when ctx is done.
	Generate(ctx context.Context, in GenerateInput, onProgress func(string)) (FinalResult, error)
	Close() error
}

// LoadOptions carries the device binding and generation defaults.
type LoadOptions struct {
	// Device the model binds to, e.g. "cuda:0" or "cpu".
	Device string
	// MaxNewTokens caps generated tokens per run.
	MaxNewTokens int
}

// GenerateInput is one model-ready request. Constructed per run and
// consumed exactly once.
type GenerateInput struct {
	// PNG-encoded pixel buffer (already downscaled).
	ImagePNG []byte
	// Original file path, for diagnostics only.
	ImagePath string
	// Resolved prompt string, never empty.
	Prompt string
}

// FinalResult summarizes one completed generation.
type FinalResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}
