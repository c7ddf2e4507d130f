// Package registry discovers installed VL checkpoints on disk.
//
// The on-disk contract is one subdirectory per model under a
// configured root; the subdirectory name is the model identifier. A
// directory counts as a checkpoint when it carries a config.json plus
// at least one weights file.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ocrd/internal/common/fsutil"
	"ocrd/pkg/types"
)

// emptyError is returned by Scan when the root holds no valid
// checkpoint directories.
type emptyError struct{ dir string }

func (e emptyError) Error() string { return "no valid model directories under: " + e.dir }

// IsEmpty reports whether err indicates an empty registry.
func IsEmpty(err error) bool {
	_, ok := err.(emptyError)
	return ok
}

// ErrEmpty constructs the canonical empty-registry error.
func ErrEmpty(dir string) error { return emptyError{dir: dir} }

type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "model not found: " + e.id }

// IsNotFound reports whether the error indicates an unknown model id.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// ErrNotFound constructs the canonical unknown-model error.
func ErrNotFound(id string) error { return notFoundError{id: id} }

// Registry scans a model root directory for checkpoints.
type Registry struct {
	root string
}

// New builds a Registry over the given root. The path may start with
// '~' which is expanded to the user's home directory.
func New(root string) *Registry { return &Registry{root: root} }

// Scan lists valid checkpoint directories, sorted by identifier.
// The scan is non-recursive and re-reads the filesystem on each call.
// Returns an IsEmpty error when no valid directory exists.
func (r *Registry) Scan() ([]types.Model, error) {
	base, err := fsutil.ExpandHome(r.root)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(abs, e.Name())
		if !isCheckpointDir(dir) {
			continue
		}
		models = append(models, types.Model{
			ID:    e.Name(),
			Name:  e.Name(),
			Path:  dir,
			Quant: readQuantHint(e.Name()),
		})
	}
	if len(models) == 0 {
		return nil, emptyError{dir: abs}
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// Resolve maps an identifier to its descriptor via a fresh scan.
// Returns an IsNotFound error for unknown ids.
func (r *Registry) Resolve(id string) (types.Model, error) {
	models, err := r.Scan()
	if err != nil {
		return types.Model{}, err
	}
	for _, m := range models {
		if m.ID == id {
			return m, nil
		}
	}
	return types.Model{}, notFoundError{id: id}
}

// isCheckpointDir checks for the files a VL runtime needs: a
// config.json plus at least one weights file (safetensors or legacy
// pytorch bin shards).
func isCheckpointDir(dir string) bool {
	if fi, err := os.Stat(filepath.Join(dir, "config.json")); err != nil || fi.IsDir() {
		return false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if strings.HasSuffix(name, ".safetensors") {
			return true
		}
		if strings.HasPrefix(name, "pytorch_model") && strings.HasSuffix(name, ".bin") {
			return true
		}
	}
	return false
}

// readQuantHint extracts a quantization tag from the directory name
// when present (e.g. "...-bnb4"). Purely cosmetic metadata.
func readQuantHint(name string) string {
	lower := strings.ToLower(name)
	for _, q := range []string{"bnb4", "bnb8", "awq", "gptq", "fp16"} {
		if strings.Contains(lower, q) {
			return q
		}
	}
	return ""
}

