package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the OCR pipeline.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr        string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir   string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	PromptsFile string `json:"prompts_file" yaml:"prompts_file" toml:"prompts_file"`
	LogDir      string `json:"log_dir" yaml:"log_dir" toml:"log_dir"`
	// Rotation selects the run-log rotation policy: "daily" or "session".
	Rotation     string `json:"rotation" yaml:"rotation" toml:"rotation"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`
	// Device the resident model binds to, e.g. "cuda:0" or "cpu".
	Device string `json:"device" yaml:"device" toml:"device"`
	// GenTimeoutSec bounds a single generation; 0 uses the default.
	GenTimeoutSec int `json:"gen_timeout_sec" yaml:"gen_timeout_sec" toml:"gen_timeout_sec"`
	// MaxNewTokens caps generated tokens per run; 0 uses the default.
	MaxNewTokens int `json:"max_new_tokens" yaml:"max_new_tokens" toml:"max_new_tokens"`
	// MaxImageSide downscales source images so their longest side does
	// not exceed this many pixels; 0 uses the default.
	MaxImageSide int `json:"max_image_side" yaml:"max_image_side" toml:"max_image_side"`
	// Runtime subprocess settings (VL runtime server).
	RuntimeBin       string   `json:"runtime_bin" yaml:"runtime_bin" toml:"runtime_bin"`
	RuntimeHost      string   `json:"runtime_host" yaml:"runtime_host" toml:"runtime_host"`
	RuntimePortStart int      `json:"runtime_port_start" yaml:"runtime_port_start" toml:"runtime_port_start"`
	RuntimePortEnd   int      `json:"runtime_port_end" yaml:"runtime_port_end" toml:"runtime_port_end"`
	RuntimeExtraArgs []string `json:"runtime_extra_args" yaml:"runtime_extra_args" toml:"runtime_extra_args"`
	// CORS origins allowed to call the API (the local GUI).
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultAddr         = "127.0.0.1:8090"
	DefaultModelsDir    = "~/models/vl"
	DefaultPromptsFile  = "prompts.json"
	DefaultLogDir       = "logs"
	DefaultRotation     = "daily"
	DefaultDevice       = "cuda:0"
	DefaultGenTimeout   = 5 * time.Minute
	DefaultMaxNewTokens = 4096
	DefaultMaxImageSide = 1536
)

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with package defaults.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.PromptsFile == "" {
		c.PromptsFile = DefaultPromptsFile
	}
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir
	}
	if c.Rotation == "" {
		c.Rotation = DefaultRotation
	}
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.GenTimeoutSec <= 0 {
		c.GenTimeoutSec = int(DefaultGenTimeout / time.Second)
	}
	if c.MaxNewTokens <= 0 {
		c.MaxNewTokens = DefaultMaxNewTokens
	}
	if c.MaxImageSide <= 0 {
		c.MaxImageSide = DefaultMaxImageSide
	}
}

// GenTimeout returns the generation timeout as a duration.
func (c Config) GenTimeout() time.Duration {
	if c.GenTimeoutSec <= 0 {
		return DefaultGenTimeout
	}
	return time.Duration(c.GenTimeoutSec) * time.Second
}
