package httpapi

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ocrd/internal/markdown"
	"ocrd/internal/pipeline"
	"ocrd/internal/registry"
	"ocrd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() ([]types.Model, error)
	ListTemplates() []types.PromptTemplate
	Status() types.StatusResponse
	Start(req pipeline.Request, pub pipeline.Publisher) (string, error)
	CancelCurrent() error
	LastResult() (*types.RunResult, bool)
}

// ndjsonPublisher streams run events to the response as NDJSON lines.
// Publish is called from the pipeline goroutine; writes are serialized
// and flushed per line so clients see progress as it happens.
type ndjsonPublisher struct {
	mu    sync.Mutex
	enc   *json.Encoder
	flush func()
	log   io.Writer
	done  chan struct{}
}

func newNDJSONPublisher(w http.ResponseWriter, logLines bool) *ndjsonPublisher {
	p := &ndjsonPublisher{done: make(chan struct{})}
	out := io.Writer(w)
	if logLines {
		out = io.MultiWriter(w, &loggingLineWriter{})
	}
	p.enc = json.NewEncoder(out)
	if f, ok := w.(http.Flusher); ok {
		p.flush = f.Flush
	}
	return p
}

func (p *ndjsonPublisher) Publish(e pipeline.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.enc.Encode(types.RunEvent{Type: e.Type, Message: e.Message, Result: e.Result})
	if p.flush != nil {
		p.flush()
	}
	if e.Type == "result" {
		close(p.done)
	}
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		models, err := svc.ListModels()
		if err != nil {
			if registry.IsEmpty(err) {
				writeJSONError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(types.ModelsResponse{Models: models}); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	r.Get("/templates", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := types.TemplatesResponse{Templates: svc.ListTemplates()}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	r.Post("/runs", func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.ImagePath) == "" {
			writeJSONError(w, http.StatusBadRequest, "image_path is required")
			return
		}

		lvl := requestLogLevel(r)
		pub := newNDJSONPublisher(w, lvl >= LevelDebug)
		start := time.Now()
		// Set before Start: the pipeline goroutine may write the
		// first event immediately. Error paths below overwrite it.
		w.Header().Set("Content-Type", "application/x-ndjson")
		runID, err := svc.Start(pipeline.Request{
			ImagePath:    req.ImagePath,
			ModelID:      req.Model,
			Template:     req.Template,
			CustomPrompt: req.CustomPrompt,
		}, pub)
		if err != nil {
			status := runErrorStatus(err)
			if status == http.StatusTooManyRequests {
				IncrementBusy("run_in_flight")
			}
			writeJSONError(w, status, err.Error())
			return
		}
		if lvl >= LevelInfo {
			logRun(r, "run start", runID, 0)
		}

		// The run keeps going even if the client disconnects; it is
		// cheap to finish and the result stays available via
		// /runs/last. Shutdown cancels it through the base context.
		joined, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		select {
		case <-pub.done:
		case <-joined.Done():
		}
		if lvl >= LevelInfo {
			logRun(r, "run end", runID, time.Since(start))
		}
	})

	r.Post("/runs/cancel", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.CancelCurrent(); err != nil {
			if pipeline.IsCannotCancel(err) {
				writeJSONError(w, http.StatusConflict, err.Error())
				return
			}
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"cancelled":true}`))
	})

	r.Get("/runs/last", func(w http.ResponseWriter, r *http.Request) {
		res, ok := svc.LastResult()
		if !ok {
			writeJSONError(w, http.StatusNotFound, "no completed run")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(res); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	r.Get("/runs/last/html", func(w http.ResponseWriter, r *http.Request) {
		res, ok := svc.LastResult()
		if !ok {
			writeJSONError(w, http.StatusNotFound, "no completed run")
			return
		}
		html, err := markdown.RenderHTML(res.Text)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(html))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Status().State != "loading" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// runErrorStatus maps synchronous Start failures to HTTP status codes.
func runErrorStatus(err error) int {
	switch {
	case pipeline.IsBusy(err):
		return http.StatusTooManyRequests
	case pipeline.IsInvalidImage(err):
		return http.StatusBadRequest
	case registry.IsNotFound(err):
		return http.StatusNotFound
	case registry.IsEmpty(err):
		return http.StatusServiceUnavailable
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

func logRun(r *http.Request, msg, runID string, dur time.Duration) {
	if zlog != nil {
		z := zlog.Info().Str("path", r.URL.Path).Str("run", runID)
		if dur > 0 {
			z = z.Dur("dur", dur)
		}
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		z.Msg(msg)
		return
	}
	if dur > 0 {
		log.Printf("%s run=%s dur=%s", msg, runID, dur)
		return
	}
	log.Printf("%s run=%s", msg, runID)
}
