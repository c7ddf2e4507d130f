package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ocrd/pkg/types"
)

// RuntimeConfig configures the subprocess VL runtime adapter.
type RuntimeConfig struct {
	// Bin is the runtime server binary (OpenAI-compatible chat API with
	// image input, e.g. a vllm/transformers serving wrapper).
	Bin       string
	Host      string
	PortStart int
	PortEnd   int
	ExtraArgs []string
	// ReadyTimeout bounds how long a spawned runtime may take to become
	// healthy before the load is abandoned.
	ReadyTimeout time.Duration
	Logger       zerolog.Logger
}

// runtimeAdapter spawns one VL runtime server per loaded model. The
// process lifetime is the session lifetime: closing the session stops
// the process and releases its device memory, so at most one runtime
// holds the accelerator at a time.
type runtimeAdapter struct {
	cfg    RuntimeConfig
	client *http.Client
}

// NewRuntimeAdapter constructs the subprocess-backed adapter.
func NewRuntimeAdapter(cfg RuntimeConfig) Adapter {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 120 * time.Second
	}
	// Timeout stays 0: every request carries a context deadline.
	return &runtimeAdapter{cfg: cfg, client: &http.Client{Timeout: 0}}
}

type runtimeSession struct {
	a       *runtimeAdapter
	cmd     *exec.Cmd
	waitCh  <-chan error
	baseURL string
	modelID string
	opts    LoadOptions
}

func (a *runtimeAdapter) Load(ctx context.Context, model types.Model, opts LoadOptions) (Session, error) {
	if strings.TrimSpace(a.cfg.Bin) == "" {
		return nil, errors.New("runtime binary not configured")
	}
	port, err := pickPortInRange(a.cfg.Host, a.cfg.PortStart, a.cfg.PortEnd)
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("http://%s:%d", a.cfg.Host, port)

	args := []string{
		"--model", model.Path,
		"--host", a.cfg.Host,
		"--port", fmt.Sprint(port),
	}
	if opts.Device != "" {
		args = append(args, "--device", opts.Device)
	}
	if opts.MaxNewTokens > 0 {
		args = append(args, "--max-new-tokens", fmt.Sprint(opts.MaxNewTokens))
	}
	args = append(args, a.cfg.ExtraArgs...)

	cmd := exec.Command(a.cfg.Bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start runtime: %w", err)
	}
	a.cfg.Logger.Info().Str("model", model.ID).Int("pid", cmd.Process.Pid).Int("port", port).Msg("runtime spawned")

	waitErrCh := make(chan error, 1)
	go func() { waitErrCh <- cmd.Wait() }()

	deadline := time.Now().Add(a.cfg.ReadyTimeout)
	for {
		select {
		case werr := <-waitErrCh:
			tail := stderr.String()
			if len(tail) > 4096 {
				tail = tail[len(tail)-4096:]
			}
			return nil, fmt.Errorf("runtime exited before ready: %v: %s", werr, tail)
		case <-ctx.Done():
			stopProcess(cmd, waitErrCh)
			return nil, ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			stopProcess(cmd, waitErrCh)
			return nil, fmt.Errorf("runtime not ready in %s: %s", a.cfg.ReadyTimeout, baseURL)
		}
		if a.isHealthy(baseURL, time.Second) {
			break
		}
		time.Sleep(250 * time.Millisecond)
	}
	return &runtimeSession{a: a, cmd: cmd, waitCh: waitErrCh, baseURL: baseURL, modelID: model.ID, opts: opts}, nil
}

func (a *runtimeAdapter) isHealthy(baseURL string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// chatRequest is the OpenAI-compatible payload with one image part.
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream"`
	// Deterministic decoding settings the VL runtimes understand.
	Temperature      float64 `json:"temperature"`
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (s *runtimeSession) Generate(ctx context.Context, in GenerateInput, onProgress func(string)) (FinalResult, error) {
	payload := chatRequest{
		Model: s.modelID,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "image_url", ImageURL: &imageURL{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(in.ImagePNG)}},
				{Type: "text", Text: in.Prompt},
			},
		}},
		MaxTokens:         s.opts.MaxNewTokens,
		Stream:            true,
		Temperature:       0,
		RepetitionPenalty: 1.05,
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return FinalResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return FinalResult{}, ctx.Err()
		}
		// The runtime went away under us: treat as fatal so the engine
		// forces a reload.
		return FinalResult{}, &FatalError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Errorf("runtime http error: %s: %s", resp.Status, string(b))
		if isOutOfMemory(string(b)) {
			return FinalResult{}, &DeviceFaultError{Err: msg}
		}
		return FinalResult{}, msg
	}

	r := bufio.NewReader(resp.Body)
	var final FinalResult
	var text strings.Builder
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			l := strings.TrimSpace(line)
			if l != "" && strings.HasPrefix(strings.ToLower(l), "data:") {
				data := strings.TrimSpace(l[len("data:"):])
				if data == "[DONE]" {
					break
				}
				var msg chatStreamResponse
				if e := json.Unmarshal([]byte(data), &msg); e == nil {
					if len(msg.Choices) > 0 {
						if frag := msg.Choices[0].Delta.Content; frag != "" {
							text.WriteString(frag)
							if onProgress != nil {
								onProgress(frag)
							}
						}
					}
					if msg.Usage != nil {
						final.PromptTokens = msg.Usage.PromptTokens
						final.CompletionTokens = msg.Usage.CompletionTokens
					}
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return final, ctx.Err()
			}
			return final, &FatalError{Err: err}
		}
	}
	final.Text = text.String()
	return final, nil
}

// Close stops the runtime process, releasing its device memory.
func (s *runtimeSession) Close() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	stopProcess(s.cmd, s.waitCh)
	return nil
}

// stopProcess asks the runtime to exit and falls back to SIGKILL.
// waitCh must be the channel fed by the single cmd.Wait goroutine.
func stopProcess(cmd *exec.Cmd, waitCh <-chan error) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-waitCh:
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		<-waitCh
	}
}

func isOutOfMemory(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "out of memory") || strings.Contains(lower, "cuda oom")
}

func pickPortInRange(host string, start, end int) (int, error) {
	if start <= 0 || end < start {
		l, err := net.Listen("tcp", host+":0")
		if err != nil {
			return 0, err
		}
		port := l.Addr().(*net.TCPAddr).Port
		_ = l.Close()
		return port, nil
	}
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, p))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}
