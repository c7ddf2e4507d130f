package types

// RunRequest is the payload accepted by POST /runs.
type RunRequest struct {
	// Path to the source image on the local filesystem.
	// example: /home/user/scans/page-001.png
	ImagePath string `json:"image_path" example:"/home/user/scans/page-001.png"`
	// Model identifier from GET /models. If empty, the configured
	// default is used.
	// example: numarkdown-8b-bnb4
	Model string `json:"model,omitempty" example:"numarkdown-8b-bnb4"`
	// Template selection: a built-in template name, or "custom".
	// example: Base OCR
	Template string `json:"template,omitempty" example:"Base OCR"`
	// Custom prompt text, used when Template is "custom".
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// TemplatesResponse wraps the list returned by GET /templates.
type TemplatesResponse struct {
	Templates []PromptTemplate `json:"templates"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Engine slot state: unloaded, loading, ready or executing.
	// example: ready
	State string `json:"state" example:"ready"`
	// Identifier of the resident model, if any.
	CurrentModel string `json:"current_model,omitempty"`
	// True while a run is in flight.
	Busy bool `json:"busy"`
	// Last terminal error observed by the engine, if any.
	LastError string `json:"last_error,omitempty"`
	// Total completed runs since start, by outcome.
	RunsOK        uint64 `json:"runs_ok"`
	RunsFailed    uint64 `json:"runs_failed"`
	RunsCancelled uint64 `json:"runs_cancelled"`
	// Uptime of the process in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
}

// RunEvent is one NDJSON line streamed by POST /runs: progress lines
// while the run executes, then exactly one terminal result line.
type RunEvent struct {
	// Type is "log" for progress lines and "result" for the terminal line.
	// example: log
	Type string `json:"type" example:"log"`
	// Message carries the progress text for log events.
	Message string `json:"message,omitempty"`
	// Result is present on the terminal event only.
	Result *RunResult `json:"result,omitempty"`
}
