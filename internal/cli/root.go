// Package cli wires the ocrd commands: a long-running API server and
// one-shot helpers for scripting (run, models, templates).
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ocrd/internal/common/fsutil"
	"ocrd/internal/config"
	"ocrd/internal/engine"
	"ocrd/internal/pipeline"
	"ocrd/internal/prompts"
	"ocrd/internal/registry"
	"ocrd/internal/runlog"
)

// options carries persistent flag values; non-empty values override
// the config file.
type options struct {
	configPath   string
	logLevel     string
	addr         string
	modelsDir    string
	promptsFile  string
	logDir       string
	rotation     string
	defaultModel string
	device       string
	corsOrigins  string
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func buildRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "ocrd",
		Short:         "Local OCR daemon driving a resident vision-language model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Path to config file (.yaml, .json or .toml)")
	pf.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	pf.StringVar(&opts.addr, "addr", "", "HTTP listen address, e.g. 127.0.0.1:8090")
	pf.StringVar(&opts.modelsDir, "models-dir", "", "Directory to scan for model checkpoint subdirectories")
	pf.StringVar(&opts.promptsFile, "prompts-file", "", "Path to the prompt templates JSON file")
	pf.StringVar(&opts.logDir, "log-dir", "", "Directory for run log files")
	pf.StringVar(&opts.rotation, "rotation", "", "Run log rotation: daily|session")
	pf.StringVar(&opts.defaultModel, "default-model", "", "Default model id when a run omits the model")
	pf.StringVar(&opts.device, "device", "", "Device the model binds to, e.g. cuda:0 or cpu")
	pf.StringVar(&opts.corsOrigins, "cors-origins", "", "Comma-separated CORS origins allowed to call the API")

	root.AddCommand(newServeCmd(opts), newRunCmd(opts), newModelsCmd(opts), newTemplatesCmd(opts))
	return root
}

// load merges the config file (if any) with flag overrides and applies
// defaults.
func (o *options) load() (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		var err error
		cfg, err = config.Load(o.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}
	if o.addr != "" {
		cfg.Addr = o.addr
	}
	if o.modelsDir != "" {
		cfg.ModelsDir = o.modelsDir
	}
	if o.promptsFile != "" {
		cfg.PromptsFile = o.promptsFile
	}
	if o.logDir != "" {
		cfg.LogDir = o.logDir
	}
	if o.rotation != "" {
		cfg.Rotation = o.rotation
	}
	if o.defaultModel != "" {
		cfg.DefaultModel = o.defaultModel
	}
	if o.device != "" {
		cfg.Device = o.device
	}
	if o.corsOrigins != "" {
		cfg.CORSOrigins = splitCSV(o.corsOrigins)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// buildPipeline assembles the full stack from a resolved config.
func buildPipeline(cfg config.Config, log zerolog.Logger) (*pipeline.Pipeline, error) {
	store, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	if cfg.RuntimeBin == "" {
		log.Warn().Msg("runtime_bin not configured; model loads will fail")
	} else if strings.ContainsRune(cfg.RuntimeBin, os.PathSeparator) && !fsutil.PathExists(cfg.RuntimeBin) {
		log.Warn().Str("bin", cfg.RuntimeBin).Msg("runtime binary not found")
	}
	adapter := engine.NewRuntimeAdapter(engine.RuntimeConfig{
		Bin:       cfg.RuntimeBin,
		Host:      cfg.RuntimeHost,
		PortStart: cfg.RuntimePortStart,
		PortEnd:   cfg.RuntimePortEnd,
		ExtraArgs: cfg.RuntimeExtraArgs,
		Logger:    log,
	})
	eng := engine.New(engine.Config{
		Adapter:      adapter,
		Device:       cfg.Device,
		GenTimeout:   cfg.GenTimeout(),
		MaxNewTokens: cfg.MaxNewTokens,
		Logger:       log,
	})
	return pipeline.New(pipeline.Config{
		Registry:     registry.New(cfg.ModelsDir),
		Templates:    store,
		Engine:       eng,
		RunLog:       runlog.New(cfg.LogDir, runlog.Policy(cfg.Rotation)),
		DefaultModel: cfg.DefaultModel,
		MaxImageSide: cfg.MaxImageSide,
		Logger:       log,
	}), nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
