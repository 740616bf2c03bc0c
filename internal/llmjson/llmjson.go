// Package llmjson decodes JSON objects out of free-form model responses.
package llmjson

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	lineComment   = regexp.MustCompile(`//[^\n]*\n`)
	trailingComma = regexp.MustCompile(`,\s*([\]}])`)
)

// Clean strips markdown code fences and surrounding prose, returning the
// text between the first '{' and the last '}'.
func Clean(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// Unmarshal decodes text into v, progressively repairing common model
// mistakes: wrapping prose and fences, // comments, then single quotes and
// trailing commas. The returned error carries a snapshot of the raw text.
func Unmarshal(text string, v any) error {
	if strings.TrimSpace(text) == "" {
		return eris.New("llmjson: empty response")
	}

	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), v); err == nil {
		return nil
	}

	cleaned := Clean(text)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = lineComment.ReplaceAllString(cleaned+"\n", "\n")
	if err := json.Unmarshal([]byte(cleaned), v); err == nil {
		return nil
	}

	fixed := strings.ReplaceAll(cleaned, "'", `"`)
	fixed = trailingComma.ReplaceAllString(fixed, "$1")
	if err := json.Unmarshal([]byte(fixed), v); err != nil {
		return eris.Wrapf(err, "llmjson: unparseable response %q", snapshot(text))
	}
	return nil
}

func snapshot(text string) string {
	r := []rune(text)
	if len(r) > 200 {
		return string(r[:200]) + "..."
	}
	return text
}
