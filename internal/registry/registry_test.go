package registry

import (
	"os"
	"path/filepath"
	"testing"
)

// helper: create a checkpoint directory with the required files.
func makeCheckpoint(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, f := range []string{"config.json", "model.safetensors"} {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("{}"), 0o644); err != nil {
			t.Fatalf("write %s: %v", f, err)
		}
	}
	return dir
}

func TestScanFiltersInvalidDirs(t *testing.T) {
	root := t.TempDir()
	makeCheckpoint(t, root, "modelA")
	// invalid: empty directory
	if err := os.MkdirAll(filepath.Join(root, "empty_dir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// invalid: config.json but no weights
	noWeights := filepath.Join(root, "no_weights")
	if err := os.MkdirAll(noWeights, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(noWeights, "config.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	// plain files at the root are ignored
	if err := os.WriteFile(filepath.Join(root, "readme.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	models, err := New(root).Scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(models) != 1 || models[0].ID != "modelA" {
		t.Fatalf("unexpected models: %+v", models)
	}
	if models[0].Path != filepath.Join(root, "modelA") {
		t.Fatalf("unexpected path: %s", models[0].Path)
	}
}

func TestScanSortedByID(t *testing.T) {
	root := t.TempDir()
	makeCheckpoint(t, root, "zeta")
	makeCheckpoint(t, root, "alpha")
	makeCheckpoint(t, root, "mid")
	models, err := New(root).Scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, id := range want {
		if models[i].ID != id {
			t.Fatalf("expected %v, got %+v", want, models)
		}
	}
}

func TestScanEmptyRegistry(t *testing.T) {
	root := t.TempDir()
	_, err := New(root).Scan()
	if err == nil || !IsEmpty(err) {
		t.Fatalf("expected empty-registry error, got %v", err)
	}
}

func TestScanMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope")).Scan()
	if err == nil || IsEmpty(err) {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	makeCheckpoint(t, root, "modelA")
	r := New(root)
	m, err := r.Resolve("modelA")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.ID != "modelA" {
		t.Fatalf("unexpected model: %+v", m)
	}
	if _, err := r.Resolve("missing"); err == nil || !IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestLegacyWeightsAccepted(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "legacy")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, f := range []string{"config.json", "pytorch_model-00001-of-00002.bin"} {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	models, err := New(root).Scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(models) != 1 || models[0].ID != "legacy" {
		t.Fatalf("unexpected: %+v", models)
	}
}

func TestQuantHint(t *testing.T) {
	root := t.TempDir()
	makeCheckpoint(t, root, "numarkdown-8b-bnb4")
	models, err := New(root).Scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if models[0].Quant != "bnb4" {
		t.Fatalf("expected quant hint bnb4, got %q", models[0].Quant)
	}
}
