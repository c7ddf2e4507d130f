package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9999\nmodels_dir: /tmp/models\ngen_timeout_sec: 120\ndefault_model: m1\nrotation: session\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.ModelsDir != "/tmp/models" || cfg.GenTimeoutSec != 120 || cfg.DefaultModel != "m1" || cfg.Rotation != "session" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","models_dir":"/m","max_new_tokens":512,"device":"cpu"}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.ModelsDir != "/m" || cfg.MaxNewTokens != 512 || cfg.Device != "cpu" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nmodels_dir=\"/x\"\nmax_image_side=1024\nruntime_bin=\"/usr/local/bin/vl-server\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.ModelsDir != "/x" || cfg.MaxImageSide != 1024 || cfg.RuntimeBin != "/usr/local/bin/vl-server" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	if _, err := Load(filepath.Join(d, "missing.yaml")); err == nil {
		t.Fatalf("expected error on missing file")
	}
	bad := writeTempFile(t, d, "bad.yaml", ":\n\t- broken")
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected yaml parse error")
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.Addr != DefaultAddr || cfg.Rotation != DefaultRotation || cfg.Device != DefaultDevice {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.GenTimeout() != DefaultGenTimeout {
		t.Fatalf("expected default timeout, got %v", cfg.GenTimeout())
	}
	cfg.GenTimeoutSec = 7
	if cfg.GenTimeout() != 7*time.Second {
		t.Fatalf("expected 7s, got %v", cfg.GenTimeout())
	}
}

func TestApplyDefaultsKeepsSetValues(t *testing.T) {
	cfg := Config{Addr: ":1", ModelsDir: "/m", MaxNewTokens: 64}
	cfg.ApplyDefaults()
	if cfg.Addr != ":1" || cfg.ModelsDir != "/m" || cfg.MaxNewTokens != 64 {
		t.Fatalf("set values overwritten: %+v", cfg)
	}
}
