package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ocrd/internal/httpapi"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Start the OCR HTTP API",
		Example: "  ocrd serve --config ocrd.yaml\n  ocrd serve --models-dir ~/models/vl --addr 127.0.0.1:8090",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log := newLogger(opts.logLevel)
			p, err := buildPipeline(cfg, log)
			if err != nil {
				return err
			}
			defer p.Close()

			httpapi.SetLogger(log)
			if len(cfg.CORSOrigins) > 0 {
				httpapi.SetCORSOptions(true, cfg.CORSOrigins,
					[]string{"GET", "POST", "OPTIONS"}, []string{"Content-Type"})
			}
			base, cancelBase := context.WithCancel(context.Background())
			defer cancelBase()
			httpapi.SetBaseContext(base)

			srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(p)}
			errCh := make(chan error, 1)
			go func() {
				log.Info().
					Str("addr", cfg.Addr).
					Str("models_dir", cfg.ModelsDir).
					Str("device", cfg.Device).
					Msg("ocrd listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			// Graceful shutdown (Ctrl+C / SIGTERM)
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-stop:
			}
			cancelBase()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Warn().Err(err).Msg("graceful shutdown error")
			}
			return nil
		},
	}
}
