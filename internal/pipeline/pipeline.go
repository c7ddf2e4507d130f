// Package pipeline sequences registry, prompt store, engine and run
// logger into the single user-facing "run OCR" operation.
//
// Runs are serialized: at most one in flight, a second request is
// rejected rather than queued, because the engine holds a single
// mutable model slot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ocrd/internal/engine"
	"ocrd/internal/imaging"
	"ocrd/internal/markdown"
	"ocrd/internal/prompts"
	"ocrd/internal/registry"
	"ocrd/internal/runlog"
	"ocrd/pkg/types"
)

// Request describes one user-initiated OCR run.
type Request struct {
	ImagePath    string
	ModelID      string
	Template     string
	CustomPrompt string
}

// Config encapsulates pipeline construction.
type Config struct {
	Registry     *registry.Registry
	Templates    *prompts.Store
	Engine       *engine.Engine
	RunLog       *runlog.Logger
	DefaultModel string
	MaxImageSide int
	Logger       zerolog.Logger
}

// Pipeline coordinates one run at a time end to end.
type Pipeline struct {
	reg          *registry.Registry
	templates    *prompts.Store
	eng          *engine.Engine
	runLog       *runlog.Logger
	defaultModel string
	maxImageSide int
	log          zerolog.Logger

	mu      sync.Mutex
	busy    bool
	loading bool
	cancel  context.CancelFunc
	last    *types.RunResult

	runsOK        atomic.Uint64
	runsFailed    atomic.Uint64
	runsCancelled atomic.Uint64

	startTime time.Time
}

// New constructs a Pipeline.
func New(cfg Config) *Pipeline {
	maxSide := cfg.MaxImageSide
	if maxSide <= 0 {
		maxSide = 1536
	}
	return &Pipeline{
		reg:          cfg.Registry,
		templates:    cfg.Templates,
		eng:          cfg.Engine,
		runLog:       cfg.RunLog,
		defaultModel: cfg.DefaultModel,
		maxImageSide: maxSide,
		log:          cfg.Logger,
		startTime:    time.Now(),
	}
}

// ListModels scans the model root. Fast, safe on the caller's thread.
func (p *Pipeline) ListModels() ([]types.Model, error) { return p.reg.Scan() }

// ListTemplates returns the prompt templates in presentation order.
func (p *Pipeline) ListTemplates() []types.PromptTemplate { return p.templates.List() }

// Start validates the request, then executes the run on a background
// goroutine, reporting progress and the terminal result through pub.
// Validation failures (busy, unknown model, invalid image) are
// returned synchronously; no log entry is written for them.
func (p *Pipeline) Start(req Request, pub Publisher) (string, error) {
	if pub == nil {
		pub = noopPublisher{}
	}

	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		busyRejectionsTotal.Inc()
		return "", busyError{}
	}
	p.busy = true
	p.mu.Unlock()

	release := func() {
		p.mu.Lock()
		p.busy = false
		p.loading = false
		p.cancel = nil
		p.mu.Unlock()
	}

	img, err := imaging.Prepare(req.ImagePath, p.maxImageSide)
	if err != nil {
		release()
		return "", invalidImageError{err: err}
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = p.defaultModel
	}
	var mdl types.Model
	if modelID == "" {
		// No model named anywhere: fall back to the first discovered
		// checkpoint, the same choice a fresh install would present.
		models, err := p.reg.Scan()
		if err != nil {
			release()
			return "", err
		}
		mdl = models[0]
	} else {
		var err error
		mdl, err = p.reg.Resolve(modelID)
		if err != nil {
			release()
			return "", err
		}
	}

	tmpl := p.templates.Resolve(req.Template, req.CustomPrompt)
	runID := uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	go func() {
		defer release()
		defer cancel()
		p.execute(ctx, runID, mdl, img, tmpl, pub)
	}()
	return runID, nil
}

// execute drives one admitted run to its terminal result.
func (p *Pipeline) execute(ctx context.Context, runID string, mdl types.Model, img *imaging.Prepared, tmpl types.PromptTemplate, pub Publisher) {
	progress := func(msg string) { pub.Publish(Event{Type: "log", Message: msg}) }
	if img.Resized {
		progress(fmt.Sprintf("Image downscaled to %dx%d", img.Width, img.Height))
	}

	p.setLoading(true)
	loadStart := time.Now()
	modelLoadsTotal.Inc()
	err := p.eng.EnsureLoaded(ctx, mdl, progress)
	p.setLoading(false)
	if err != nil {
		// Setup failure: reported, never logged as a run.
		modelLoadDuration.Observe(time.Since(loadStart).Seconds())
		res := p.failure(runID, err, 0)
		p.finish(res, nil, pub)
		return
	}
	modelLoadDuration.Observe(time.Since(loadStart).Seconds())

	start := time.Now()
	out, err := p.eng.Infer(ctx, mdl.ID, engine.GenerateInput{
		ImagePNG:  img.PNG,
		ImagePath: img.Path,
		Prompt:    tmpl.Body,
	}, progress)
	took := time.Since(start)

	var res types.RunResult
	if err != nil {
		res = p.failure(runID, err, took)
	} else {
		text, advisory := markdown.Clean(out.Text)
		res = types.RunResult{
			RunID:      runID,
			Text:       text,
			Advisory:   advisory,
			Duration:   took,
			DurationMS: took.Milliseconds(),
		}
	}

	entry := logEntry(res, img.Path, mdl.ID, tmpl.Body)
	p.finish(res, &entry, pub)
}

// finish persists the entry (best effort), updates counters and
// publishes the terminal result. A nil entry means setup failed and
// nothing is logged.
func (p *Pipeline) finish(res types.RunResult, entry *types.LogEntry, pub Publisher) {
	if entry != nil {
		if err := p.runLog.Append(*entry); err != nil {
			p.log.Warn().Err(err).Msg("run log append failed")
			res.LogCaveat = err.Error()
		}
	}

	switch {
	case res.Succeeded():
		p.runsOK.Add(1)
		observeRun("ok", res.Duration)
	case res.Cancelled():
		p.runsCancelled.Add(1)
		observeRun("cancelled", res.Duration)
	default:
		p.runsFailed.Add(1)
		observeRun("error", res.Duration)
	}

	p.mu.Lock()
	p.last = &res
	p.mu.Unlock()

	p.log.Info().
		Str("run", res.RunID).
		Str("outcome", outcome(res)).
		Int64("duration_ms", res.DurationMS).
		Msg("run finished")
	pub.Publish(Event{Type: "result", Result: &res})
}

// failure maps an engine or registry error to a terminal RunResult.
func (p *Pipeline) failure(runID string, err error, took time.Duration) types.RunResult {
	res := types.RunResult{
		RunID:      runID,
		ErrMessage: err.Error(),
		Duration:   took,
		DurationMS: took.Milliseconds(),
	}
	switch {
	case errors.Is(err, engine.ErrCancelled):
		res.ErrKind = types.ErrCancelled
		res.ErrMessage = "generation cancelled by user"
	case engine.IsLoadError(err):
		res.ErrKind = types.ErrLoad
	case engine.IsFatalLoadLost(err):
		res.ErrKind = types.ErrFatalLoadLost
	default:
		if kind, ok := engine.IsInferenceError(err); ok {
			switch kind {
			case engine.FaultTimeout:
				res.ErrKind = types.ErrTimeout
			case engine.FaultDeviceFault:
				res.ErrKind = types.ErrDeviceFault
			default:
				res.ErrKind = types.ErrInference
			}
		} else {
			res.ErrKind = types.ErrInference
		}
	}
	return res
}

// CancelCurrent signals the in-flight run to stop at the next safe
// checkpoint. Cancellation during model loading is not supported and
// is reported as such.
func (p *Pipeline) CancelCurrent() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.busy || p.cancel == nil {
		return cannotCancelError{reason: "no run in flight"}
	}
	if p.loading {
		return cannotCancelError{reason: "model is loading"}
	}
	p.cancel()
	return nil
}

// Busy reports whether a run is in flight.
func (p *Pipeline) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// LastResult returns the most recent terminal result.
func (p *Pipeline) LastResult() (*types.RunResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil, false
	}
	cp := *p.last
	return &cp, true
}

// Status projects pipeline and engine state for the API.
func (p *Pipeline) Status() types.StatusResponse {
	snap := p.eng.Snapshot()
	state := string(snap.State)
	p.mu.Lock()
	busy := p.busy
	p.mu.Unlock()
	return types.StatusResponse{
		State:          state,
		CurrentModel:   snap.Resident,
		Busy:           busy,
		LastError:      snap.LastErr,
		RunsOK:         p.runsOK.Load(),
		RunsFailed:     p.runsFailed.Load(),
		RunsCancelled:  p.runsCancelled.Load(),
		UptimeSeconds:  int64(time.Since(p.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
}

// Close releases the resident model at teardown.
func (p *Pipeline) Close() error { return p.eng.Unload() }

func (p *Pipeline) setLoading(v bool) {
	p.mu.Lock()
	p.loading = v
	p.mu.Unlock()
}

func outcome(res types.RunResult) string {
	switch {
	case res.Succeeded():
		return "ok"
	case res.Cancelled():
		return "cancelled"
	default:
		return "error"
	}
}

func logEntry(res types.RunResult, image, modelID, prompt string) types.LogEntry {
	return types.LogEntry{
		Time:       time.Now(),
		RunID:      res.RunID,
		Image:      image,
		ModelID:    modelID,
		Prompt:     prompt,
		Outcome:    outcome(res),
		Text:       res.Text,
		ErrKind:    res.ErrKind,
		ErrMessage: res.ErrMessage,
		DurationMS: res.DurationMS,
	}
}
