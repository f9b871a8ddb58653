package estimator

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when a refinement reply carries no valid JSON object.
var ErrNoJSON = errors.New("estimator: reply does not contain a JSON object")

// ExtractJSON pulls the outermost JSON object out of a model reply. Markdown
// fences are stripped first; the numbers inside are not interpreted.
func ExtractJSON(text string) (json.RawMessage, error) {
	cleaned := stripFences(strings.TrimSpace(text))

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, ErrNoJSON
	}

	candidate := cleaned[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, ErrNoJSON
	}
	return json.RawMessage(candidate), nil
}

func stripFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
