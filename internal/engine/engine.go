// Package engine owns the lifecycle of the single resident VL model
// and executes image+prompt inference against it.
//
// The slot moves Unloaded -> Loading -> Ready -> (Executing -> Ready)*
// and back to Unloaded on replacement or an unrecoverable fault. At
// most one model is resident at any time; callers serialize access
// (the pipeline admits one run at a time).
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ocrd/pkg/types"
)

// State is the lifecycle state of the model slot.
type State string

const (
	StateUnloaded  State = "unloaded"
	StateLoading   State = "loading"
	StateReady     State = "ready"
	StateExecuting State = "executing"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultGenTimeout   = 5 * time.Minute
	defaultMaxNewTokens = 4096
)

// Config encapsulates all tunables for Engine construction.
type Config struct {
	Adapter      Adapter
	Device       string
	GenTimeout   time.Duration
	MaxNewTokens int
	Logger       zerolog.Logger
}

// Engine holds the single LoadedModel slot.
type Engine struct {
	mu       sync.Mutex
	state    State
	resident string
	session  Session
	lastErr  string

	adapter      Adapter
	device       string
	genTimeout   time.Duration
	maxNewTokens int
	log          zerolog.Logger
}

// Snapshot is a read-only projection of the slot state.
type Snapshot struct {
	State    State
	Resident string
	LastErr  string
}

// New constructs an Engine with defaults applied.
func New(cfg Config) *Engine {
	e := &Engine{
		state:        StateUnloaded,
		adapter:      cfg.Adapter,
		device:       cfg.Device,
		genTimeout:   cfg.GenTimeout,
		maxNewTokens: cfg.MaxNewTokens,
		log:          cfg.Logger,
	}
	if e.genTimeout <= 0 {
		e.genTimeout = defaultGenTimeout
	}
	if e.maxNewTokens <= 0 {
		e.maxNewTokens = defaultMaxNewTokens
	}
	return e
}

// Snapshot returns the current slot state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{State: e.state, Resident: e.resident, LastErr: e.lastErr}
}

// Resident returns the identifier of the loaded model, if any.
func (e *Engine) Resident() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resident, e.state == StateReady || e.state == StateExecuting
}

// EnsureLoaded makes model resident, replacing any other resident
// model first. A matching ready slot is a no-op. On failure the slot
// is left unloaded, never partially loaded, and the error satisfies
// IsLoadError.
func (e *Engine) EnsureLoaded(ctx context.Context, model types.Model, onProgress func(string)) error {
	e.mu.Lock()
	switch e.state {
	case StateReady:
		if e.resident == model.ID {
			e.mu.Unlock()
			return nil
		}
	case StateExecuting:
		e.mu.Unlock()
		return fmt.Errorf("load while executing: %s", model.ID)
	case StateLoading:
		e.mu.Unlock()
		return fmt.Errorf("load while loading: %s", model.ID)
	}
	// Release the previous resident before acquiring the new one.
	prev := e.session
	prevID := e.resident
	e.session = nil
	e.resident = ""
	e.state = StateLoading
	e.lastErr = ""
	e.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			e.log.Warn().Str("model", prevID).Err(err).Msg("release previous model")
		}
		emit(onProgress, "Released model "+prevID)
	}
	emit(onProgress, "Loading model "+model.ID+"...")

	start := time.Now()
	sess, err := e.adapter.Load(ctx, model, LoadOptions{Device: e.device, MaxNewTokens: e.maxNewTokens})
	if err != nil {
		e.mu.Lock()
		e.state = StateUnloaded
		e.lastErr = err.Error()
		e.mu.Unlock()
		return loadError{id: model.ID, err: err}
	}

	e.mu.Lock()
	e.session = sess
	e.resident = model.ID
	e.state = StateReady
	e.mu.Unlock()
	e.log.Info().Str("model", model.ID).Dur("took", time.Since(start)).Str("device", e.device).Msg("model loaded")
	emit(onProgress, fmt.Sprintf("Model %s loaded in %.1fs", model.ID, time.Since(start).Seconds()))
	return nil
}

// Infer runs one generation against the resident model. Requires a
// ready slot matching in's model; the pipeline guarantees this by
// calling EnsureLoaded first.
//
// Failure handling: a timeout or recoverable fault leaves the slot
// ready for the same model; a fatal fault drops it to unloaded so the
// next run re-triggers loading. Cancellation via ctx returns
// ErrCancelled with the slot back to ready.
func (e *Engine) Infer(ctx context.Context, modelID string, in GenerateInput, onProgress func(string)) (FinalResult, error) {
	e.mu.Lock()
	if e.state == StateUnloaded && e.lastErr != "" {
		id := e.resident
		e.mu.Unlock()
		return FinalResult{}, fatalLoadLostError{id: id}
	}
	if e.state != StateReady || e.resident != modelID {
		state, resident := e.state, e.resident
		e.mu.Unlock()
		return FinalResult{}, fmt.Errorf("engine not ready for %s (state=%s resident=%s)", modelID, state, resident)
	}
	sess := e.session
	e.state = StateExecuting
	e.mu.Unlock()

	genCtx, cancel := context.WithTimeout(ctx, e.genTimeout)
	defer cancel()

	emit(onProgress, "Starting generation...")
	start := time.Now()
	out, err := sess.Generate(genCtx, in, onProgress)
	took := time.Since(start)

	if err != nil {
		return FinalResult{}, e.classifyFault(ctx, genCtx, modelID, err)
	}

	e.mu.Lock()
	e.state = StateReady
	e.mu.Unlock()
	e.log.Info().Str("model", modelID).Dur("took", took).Int("completion_tokens", out.CompletionTokens).Msg("generation done")
	emit(onProgress, fmt.Sprintf("Generation finished in %.1fs", took.Seconds()))
	return out, nil
}

// classifyFault maps an adapter error to the engine taxonomy and
// settles the slot state accordingly.
func (e *Engine) classifyFault(ctx, genCtx context.Context, modelID string, err error) error {
	// User-requested stop: slot stays ready.
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		e.settle(StateReady, "")
		return ErrCancelled
	}
	// Generation deadline: recoverable, slot stays ready.
	if errors.Is(genCtx.Err(), context.DeadlineExceeded) {
		e.settle(StateReady, "")
		return inferenceError{kind: FaultTimeout, err: fmt.Errorf("generation exceeded %s", e.genTimeout)}
	}

	var fatal *FatalError
	if errors.As(err, &fatal) {
		// Resident session is gone. Close best-effort and require a
		// reload before any further run.
		e.mu.Lock()
		sess := e.session
		e.session = nil
		e.state = StateUnloaded
		e.lastErr = err.Error()
		e.mu.Unlock()
		if sess != nil {
			_ = sess.Close()
		}
		e.log.Error().Str("model", modelID).Err(err).Msg("resident model lost")
		return inferenceError{kind: FaultOther, err: err}
	}

	var dev *DeviceFaultError
	if errors.As(err, &dev) {
		e.settle(StateReady, "")
		return inferenceError{kind: FaultDeviceFault, err: err}
	}

	e.settle(StateReady, "")
	return inferenceError{kind: FaultOther, err: err}
}

func (e *Engine) settle(s State, lastErr string) {
	e.mu.Lock()
	e.state = s
	e.lastErr = lastErr
	e.mu.Unlock()
}

// Unload releases the resident model, if any. Used at teardown.
func (e *Engine) Unload() error {
	e.mu.Lock()
	sess := e.session
	id := e.resident
	e.session = nil
	e.resident = ""
	e.state = StateUnloaded
	e.lastErr = ""
	e.mu.Unlock()
	if sess == nil {
		return nil
	}
	e.log.Info().Str("model", id).Msg("model unloaded")
	return sess.Close()
}

func emit(onProgress func(string), msg string) {
	if onProgress != nil {
		onProgress(msg)
	}
}
