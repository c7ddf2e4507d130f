package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ocrd/internal/engine"
	"ocrd/internal/prompts"
	"ocrd/internal/registry"
	"ocrd/internal/runlog"
	"ocrd/pkg/types"
)

// stubAdapter scripts the model runtime for pipeline tests.
type stubAdapter struct {
	mu         sync.Mutex
	loads      int
	loadBlock  chan struct{} // when set, Load waits for it
	gen        func(ctx context.Context, in engine.GenerateInput) (engine.FinalResult, error)
	lastPrompt string
}

type stubSession struct{ a *stubAdapter }

func (a *stubAdapter) Load(ctx context.Context, model types.Model, opts engine.LoadOptions) (engine.Session, error) {
	a.mu.Lock()
	a.loads++
	block := a.loadBlock
	a.mu.Unlock()
	if block != nil {
		<-block
	}
	return &stubSession{a: a}, nil
}

func (s *stubSession) Generate(ctx context.Context, in engine.GenerateInput, onProgress func(string)) (engine.FinalResult, error) {
	s.a.mu.Lock()
	s.a.lastPrompt = in.Prompt
	gen := s.a.gen
	s.a.mu.Unlock()
	if gen != nil {
		return gen(ctx, in)
	}
	return engine.FinalResult{Text: "hello world"}, nil
}

func (s *stubSession) Close() error { return nil }

func (a *stubAdapter) loadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loads
}

type fixture struct {
	p    *Pipeline
	a    *stubAdapter
	img  string
	logs *runlog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	modelDir := filepath.Join(root, "modelA")
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, f := range []string{"config.json", "model.safetensors"} {
		if err := os.WriteFile(filepath.Join(modelDir, f), []byte("{}"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(root, "empty_dir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	imgPath := filepath.Join(t.TempDir(), "photo.png")
	f, err := os.Create(imgPath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	_ = f.Close()

	a := &stubAdapter{}
	eng := engine.New(engine.Config{Adapter: a, Device: "cpu", GenTimeout: time.Minute, Logger: zerolog.Nop()})
	logs := runlog.New(filepath.Join(t.TempDir(), "logs"), runlog.Session)
	p := New(Config{
		Registry:  registry.New(root),
		Templates: prompts.NewBuiltin(),
		Engine:    eng,
		RunLog:    logs,
		Logger:    zerolog.Nop(),
	})
	return &fixture{p: p, a: a, img: imgPath, logs: logs}
}

func waitResult(t *testing.T, pub *MemoryPublisher) *types.RunResult {
	t.Helper()
	select {
	case <-pub.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not finish")
	}
	res, ok := pub.Result()
	if !ok {
		t.Fatalf("no terminal result")
	}
	return res
}

func readLog(t *testing.T, logs *runlog.Logger) []types.LogEntry {
	t.Helper()
	f, err := os.Open(logs.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	var out []types.LogEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e types.LogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad line: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func TestRunSuccessLogsOneEntry(t *testing.T) {
	fx := newFixture(t)
	pub := NewMemoryPublisher()
	runID, err := fx.p.Start(Request{ImagePath: fx.img, ModelID: "modelA", Template: "Plain Text"}, pub)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	res := waitResult(t, pub)
	if !res.Succeeded() || res.Text != "hello world" || res.RunID != runID {
		t.Fatalf("unexpected result: %+v", res)
	}
	entries := readLog(t, fx.logs)
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ModelID != "modelA" || e.Image != fx.img || e.Outcome != "ok" || e.Text != "hello world" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestRunInvalidImageShortCircuits(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.p.Start(Request{ImagePath: filepath.Join(t.TempDir(), "nope.png"), ModelID: "modelA"}, nil)
	if err == nil || !IsInvalidImage(err) {
		t.Fatalf("expected invalid image, got %v", err)
	}
	if fx.a.loadCount() != 0 {
		t.Fatalf("model load attempted")
	}
	if entries := readLog(t, fx.logs); len(entries) != 0 {
		t.Fatalf("log entry written for setup failure: %+v", entries)
	}
	if fx.p.Busy() {
		t.Fatalf("pipeline still busy")
	}
}

func TestRunUnknownModel(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.p.Start(Request{ImagePath: fx.img, ModelID: "missing"}, nil)
	if err == nil || !registry.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
	if entries := readLog(t, fx.logs); len(entries) != 0 {
		t.Fatalf("unexpected log entries: %+v", entries)
	}
}

func TestRunBusyRejection(t *testing.T) {
	fx := newFixture(t)
	started := make(chan struct{})
	unblock := make(chan struct{})
	fx.a.gen = func(ctx context.Context, in engine.GenerateInput) (engine.FinalResult, error) {
		close(started)
		<-unblock
		return engine.FinalResult{Text: "slow result"}, nil
	}
	pub := NewMemoryPublisher()
	if _, err := fx.p.Start(Request{ImagePath: fx.img, ModelID: "modelA"}, pub); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started
	if _, err := fx.p.Start(Request{ImagePath: fx.img, ModelID: "modelA"}, nil); err == nil || !IsBusy(err) {
		t.Fatalf("expected busy, got %v", err)
	}
	close(unblock)
	res := waitResult(t, pub)
	if !res.Succeeded() || res.Text != "slow result" {
		t.Fatalf("in-flight run was disturbed: %+v", res)
	}
}

func TestCancelDuringExecuting(t *testing.T) {
	fx := newFixture(t)
	started := make(chan struct{})
	fx.a.gen = func(ctx context.Context, in engine.GenerateInput) (engine.FinalResult, error) {
		close(started)
		<-ctx.Done()
		return engine.FinalResult{}, ctx.Err()
	}
	pub := NewMemoryPublisher()
	if _, err := fx.p.Start(Request{ImagePath: fx.img, ModelID: "modelA"}, pub); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started
	if err := fx.p.CancelCurrent(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	res := waitResult(t, pub)
	if !res.Cancelled() {
		t.Fatalf("expected cancelled result: %+v", res)
	}
	entries := readLog(t, fx.logs)
	if len(entries) != 1 || entries[0].Outcome != "cancelled" {
		t.Fatalf("cancelled run not logged: %+v", entries)
	}

	// Same model runs again without reloading.
	fx.a.gen = nil
	pub2 := NewMemoryPublisher()
	if _, err := fx.p.Start(Request{ImagePath: fx.img, ModelID: "modelA"}, pub2); err != nil {
		t.Fatalf("start after cancel: %v", err)
	}
	if res := waitResult(t, pub2); !res.Succeeded() {
		t.Fatalf("run after cancel failed: %+v", res)
	}
	if fx.a.loadCount() != 1 {
		t.Fatalf("expected no reload, loads=%d", fx.a.loadCount())
	}
}

func TestCancelWhileLoadingRefused(t *testing.T) {
	fx := newFixture(t)
	block := make(chan struct{})
	fx.a.loadBlock = block
	pub := NewMemoryPublisher()
	if _, err := fx.p.Start(Request{ImagePath: fx.img, ModelID: "modelA"}, pub); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Wait until the run reaches the loading phase.
	deadline := time.Now().Add(2 * time.Second)
	for fx.a.loadCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("load never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	err := fx.p.CancelCurrent()
	if err == nil || !IsCannotCancel(err) {
		t.Fatalf("expected cannot-cancel, got %v", err)
	}
	close(block)
	waitResult(t, pub)
}

func TestCancelWithoutRun(t *testing.T) {
	fx := newFixture(t)
	if err := fx.p.CancelCurrent(); err == nil || !IsCannotCancel(err) {
		t.Fatalf("expected cannot-cancel, got %v", err)
	}
}

func TestFatalFaultLogsAndReloads(t *testing.T) {
	fx := newFixture(t)
	fx.a.gen = func(ctx context.Context, in engine.GenerateInput) (engine.FinalResult, error) {
		return engine.FinalResult{}, &engine.FatalError{Err: errors.New("simulated device fault")}
	}
	pub := NewMemoryPublisher()
	if _, err := fx.p.Start(Request{ImagePath: fx.img, ModelID: "modelA"}, pub); err != nil {
		t.Fatalf("start: %v", err)
	}
	res := waitResult(t, pub)
	if res.ErrKind != types.ErrInference {
		t.Fatalf("expected inference error, got %+v", res)
	}
	entries := readLog(t, fx.logs)
	if len(entries) != 1 || entries[0].Outcome != "error" {
		t.Fatalf("failed run not logged: %+v", entries)
	}

	// The next run with the same model re-triggers loading.
	fx.a.gen = nil
	pub2 := NewMemoryPublisher()
	if _, err := fx.p.Start(Request{ImagePath: fx.img, ModelID: "modelA"}, pub2); err != nil {
		t.Fatalf("start after fault: %v", err)
	}
	if res := waitResult(t, pub2); !res.Succeeded() {
		t.Fatalf("run after fault failed: %+v", res)
	}
	if fx.a.loadCount() != 2 {
		t.Fatalf("expected reload after fault, loads=%d", fx.a.loadCount())
	}
}

func TestCustomPromptFallsBackToDefault(t *testing.T) {
	fx := newFixture(t)
	pub := NewMemoryPublisher()
	if _, err := fx.p.Start(Request{ImagePath: fx.img, ModelID: "modelA", Template: prompts.CustomSelection, CustomPrompt: "   "}, pub); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitResult(t, pub)
	fx.a.mu.Lock()
	prompt := fx.a.lastPrompt
	fx.a.mu.Unlock()
	if prompt == "" || prompt != prompts.NewBuiltin().Default().Body {
		t.Fatalf("expected default prompt, got %q", prompt)
	}
}

func TestShortResultBecomesAdvisory(t *testing.T) {
	fx := newFixture(t)
	fx.a.gen = func(ctx context.Context, in engine.GenerateInput) (engine.FinalResult, error) {
		return engine.FinalResult{Text: "```markdown\nok\n```"}, nil
	}
	pub := NewMemoryPublisher()
	if _, err := fx.p.Start(Request{ImagePath: fx.img, ModelID: "modelA"}, pub); err != nil {
		t.Fatalf("start: %v", err)
	}
	res := waitResult(t, pub)
	if !res.Advisory || res.Text == "" {
		t.Fatalf("expected advisory result, got %+v", res)
	}
}

func TestStatusAndLastResult(t *testing.T) {
	fx := newFixture(t)
	if _, ok := fx.p.LastResult(); ok {
		t.Fatalf("unexpected last result before any run")
	}
	pub := NewMemoryPublisher()
	if _, err := fx.p.Start(Request{ImagePath: fx.img, ModelID: "modelA"}, pub); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitResult(t, pub)
	st := fx.p.Status()
	if st.RunsOK != 1 || st.CurrentModel != "modelA" || st.State != "ready" {
		t.Fatalf("unexpected status: %+v", st)
	}
	if last, ok := fx.p.LastResult(); !ok || last.Text != "hello world" {
		t.Fatalf("unexpected last result: %+v", last)
	}
}
