// Package markdown post-processes generated text for presentation.
package markdown

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// AdvisoryText replaces results too short to be usable extractions.
const AdvisoryText = "The model could not extract text from this image. Try another image or check its quality."

// minUsableRunes is the threshold below which a result is treated as
// unusable, matching the original tool's behavior.
const minUsableRunes = 5

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// StripFences removes a surrounding ```markdown code fence that some
// models wrap their whole answer in.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```markdown") {
		s = strings.TrimLeft(strings.TrimPrefix(s, "```markdown"), " \t\r\n")
	} else if strings.HasPrefix(s, "```md") {
		s = strings.TrimLeft(strings.TrimPrefix(s, "```md"), " \t\r\n")
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimRight(strings.TrimSuffix(s, "```"), " \t\r\n")
	}
	return s
}

// Clean normalizes a raw generation: fence stripping plus the
// short-result advisory. The second return reports whether the text
// was replaced by the advisory.
func Clean(s string) (string, bool) {
	out := StripFences(s)
	if len([]rune(out)) < minUsableRunes {
		return AdvisoryText, true
	}
	return out, false
}

// RenderHTML renders generated Markdown (GFM, tables included) to
// HTML for the GUI preview.
func RenderHTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
