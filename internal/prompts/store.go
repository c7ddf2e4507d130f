// Package prompts holds the named prompt templates steering the
// model's output format, plus support for user-supplied custom text.
package prompts

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"ocrd/pkg/types"
)

// CustomSelection is the selection value indicating a user-supplied
// prompt rather than a built-in template.
const CustomSelection = "custom"

// builtinOrder fixes the presentation order of the default templates.
var builtinOrder = []string{
	"Base OCR",
	"Manga FULL",
	"Manga CLEAN",
	"Plain Text",
	"Describe Layout",
	"Body Text Only",
}

var builtins = map[string]string{
	"Base OCR":        "Please extract all text from this image and format it as clean markdown. Include all visible text, maintaining structure and formatting.",
	"Manga FULL":      "Carefully and precisely extract all manga text - including character exclamations and off-panel text. Prioritize text outside page margins first. Then, extract frame text in original reading order: right-to-left, top-to-bottom. Preserve layout and sequence exactly as presented.",
	"Manga CLEAN":     "Extract only the text inside manga panels - ignore all margin notes, off-panel text, and page numbers. Focus exclusively on dialogue, narration, and sound effects within frames. Present content in original reading order: right-to-left, top-to-bottom.",
	"Plain Text":      "Extract text as plain, unformatted lines.",
	"Describe Layout": "Describe the content and layout of this image in detail.",
	"Body Text Only":  "Extract only the main body text, ignoring headers, footers, and page numbers.",
}

// Store resolves template selections to prompt strings. Templates are
// fixed at construction; instances are safe for concurrent reads.
type Store struct {
	order []string
	byName map[string]string
}

// NewBuiltin returns a store holding only the built-in templates.
func NewBuiltin() *Store {
	order := append([]string(nil), builtinOrder...)
	m := make(map[string]string, len(builtins))
	for k, v := range builtins {
		m[k] = v
	}
	return &Store{order: order, byName: m}
}

// Load reads templates from a JSON file mapping name to body. When
// the file is missing or unparsable, the default file is written and
// the built-ins are used, matching the original prompts.json behavior.
func Load(path string) (*Store, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if werr := writeDefaultFile(path); werr != nil {
			return NewBuiltin(), fmt.Errorf("prompts file unavailable and default not writable: %w", werr)
		}
		return NewBuiltin(), nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil || len(m) == 0 {
		if werr := writeDefaultFile(path); werr != nil {
			return NewBuiltin(), fmt.Errorf("prompts file corrupt and default not writable: %w", werr)
		}
		return NewBuiltin(), nil
	}
	// Drop entries with blank bodies; a template must never resolve empty.
	for k, v := range m {
		if strings.TrimSpace(v) == "" {
			delete(m, k)
		}
	}
	if len(m) == 0 {
		return NewBuiltin(), nil
	}
	return &Store{order: orderNames(m), byName: m}, nil
}

// orderNames keeps the built-in order for known names and appends the
// rest sorted, so user-added templates list after the defaults.
func orderNames(m map[string]string) []string {
	var order []string
	seen := make(map[string]bool, len(m))
	for _, name := range builtinOrder {
		if _, ok := m[name]; ok {
			order = append(order, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range m {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

func writeDefaultFile(path string) error {
	b, err := json.MarshalIndent(builtins, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

// List returns the templates in presentation order.
func (s *Store) List() []types.PromptTemplate {
	out := make([]types.PromptTemplate, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, types.PromptTemplate{Name: name, Body: s.byName[name]})
	}
	return out
}

// Default returns the first template; the store is never empty.
func (s *Store) Default() types.PromptTemplate {
	name := s.order[0]
	return types.PromptTemplate{Name: name, Body: s.byName[name]}
}

// Resolve maps a selection plus optional custom text to a concrete
// prompt. Pure: a built-in name returns its body; CustomSelection
// returns the trimmed custom text, falling back to the default
// template when blank; unknown selections fall back the same way.
// Never returns an empty string.
func (s *Store) Resolve(selection, custom string) types.PromptTemplate {
	if selection == CustomSelection {
		if text := strings.TrimSpace(custom); text != "" {
			return types.PromptTemplate{Name: CustomSelection, Body: text, Custom: true}
		}
		return s.Default()
	}
	if body, ok := s.byName[selection]; ok {
		return types.PromptTemplate{Name: selection, Body: body}
	}
	return s.Default()
}
