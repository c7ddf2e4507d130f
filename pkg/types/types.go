package types

import "time"

// Model represents an installed VL checkpoint discovered on disk.
type Model struct {
	// Stable identifier derived from the checkpoint directory name.
	// example: numarkdown-8b-bnb4
	ID string `json:"id" example:"numarkdown-8b-bnb4"`
	// Human-friendly name.
	// example: NuMarkdown 8B (bnb4)
	Name string `json:"name" example:"NuMarkdown 8B (bnb4)"`
	// Absolute path to the checkpoint directory.
	// example: /home/user/models/numarkdown-8b-bnb4
	Path string `json:"path" example:"/home/user/models/numarkdown-8b-bnb4"`
	// Quantization variant, when known.
	// example: bnb4
	Quant string `json:"quant,omitempty" example:"bnb4"`
}

// PromptTemplate is a named instruction string steering output format.
// Immutable once constructed; custom prompts are transient instances
// with Custom set.
type PromptTemplate struct {
	Name   string `json:"name" example:"Base OCR"`
	Body   string `json:"body"`
	Custom bool   `json:"custom,omitempty"`
}

// ErrorKind classifies run failures for logging and the API.
type ErrorKind string

const (
	ErrNone          ErrorKind = ""
	ErrInvalidImage  ErrorKind = "invalid_image"
	ErrNotFound      ErrorKind = "model_not_found"
	ErrRegistryEmpty ErrorKind = "registry_empty"
	ErrLoad          ErrorKind = "load_error"
	ErrFatalLoadLost ErrorKind = "fatal_load_lost"
	ErrTimeout       ErrorKind = "timeout"
	ErrDeviceFault   ErrorKind = "device_fault"
	ErrInference     ErrorKind = "inference_error"
	ErrCancelled     ErrorKind = "cancelled"
	ErrBusy          ErrorKind = "busy"
	ErrLogWrite      ErrorKind = "log_write_error"
)

// RunResult is the terminal outcome of one OCR run. Exactly one of
// Text or ErrKind is meaningful; Cancelled is reported through ErrKind
// but is not an error for logging purposes.
type RunResult struct {
	RunID string `json:"run_id"`
	// Generated text (often Markdown) on success.
	Text string `json:"text,omitempty"`
	// Advisory is set when the model produced no usable text and Text
	// holds a human-readable hint instead of extracted content.
	Advisory   bool          `json:"advisory,omitempty"`
	ErrKind    ErrorKind     `json:"error_kind,omitempty"`
	ErrMessage string        `json:"error,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	// LogCaveat carries a non-fatal run-log write failure. It never
	// displaces the primary outcome.
	LogCaveat string `json:"log_caveat,omitempty"`
}

// Succeeded reports whether the run produced generated text.
func (r RunResult) Succeeded() bool { return r.ErrKind == ErrNone }

// Cancelled reports a user-requested stop.
func (r RunResult) Cancelled() bool { return r.ErrKind == ErrCancelled }

// LogEntry is one append-only run-log record. Never mutated after
// being written.
type LogEntry struct {
	Time       time.Time `json:"ts"`
	RunID      string    `json:"run_id"`
	Image      string    `json:"image"`
	ModelID    string    `json:"model_id"`
	Prompt     string    `json:"prompt"`
	Outcome    string    `json:"outcome"` // ok | cancelled | error
	Text       string    `json:"text,omitempty"`
	ErrKind    ErrorKind `json:"error_kind,omitempty"`
	ErrMessage string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}
