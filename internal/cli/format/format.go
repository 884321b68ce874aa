// Package format renders model replies and JSON for the terminal.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/glamour"
)

const (
	maxMarkdownSize = 5 * 1024 * 1024 // 5MB
	maxJSONSize     = 10 * 1024 * 1024
)

// ansiEscapeRegex matches ANSI escape sequences.
var ansiEscapeRegex = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07`)

// StripANSI removes escape sequences. Model output is untrusted and is
// stripped before it reaches the terminal.
func StripANSI(s string) string {
	return ansiEscapeRegex.ReplaceAllString(s, "")
}

// Markdown renders a model reply. Off a TTY, or when the reply is too large
// or glamour fails, the stripped text is returned unchanged.
func Markdown(content string, isTTY bool) string {
	content = StripANSI(content)
	if !isTTY || len(content) > maxMarkdownSize || content == "" {
		return content
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return content
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// JSON indents v and, on a TTY, highlights it.
func JSON(v any, isTTY bool) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format JSON: %w", err)
	}
	if !isTTY || len(data) > maxJSONSize {
		return string(data), nil
	}

	var buf bytes.Buffer
	if err := quick.Highlight(&buf, string(data), "json", "terminal256", "monokai"); err != nil {
		return string(data), nil
	}
	return buf.String(), nil
}
