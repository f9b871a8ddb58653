// Package dataset turns completed estimates into prompt/answer pairs.
package dataset

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"paintEstimator/internal/prompts"
	"paintEstimator/internal/storage"
)

// Example is one prompt/answer pair.
type Example struct {
	EstimateID string            `json:"estimate_id"`
	Model      string            `json:"model,omitempty"`
	Form       prompts.FormState `json:"form"`
	Custom     bool              `json:"custom_prompt,omitempty"`
	InputText  string            `json:"input_text"`
	OutputText string            `json:"output_text"`
	OutputJSON json.RawMessage   `json:"output_json,omitempty"`
}

// Options control which estimates are exported.
type Options struct {
	MinWords    int
	RequireJSON bool
	SkipCustom  bool
}

// BuildExamples keeps completed estimates whose answer has at least MinWords words.
func BuildExamples(estimates []storage.Estimate, opts Options) []Example {
	if opts.MinWords <= 0 {
		opts.MinWords = 5
	}

	var examples []Example
	for _, e := range estimates {
		if e.Status != storage.StatusDone {
			continue
		}
		if opts.SkipCustom && e.CustomPrompt {
			continue
		}
		if opts.RequireJSON && len(e.JSON) == 0 {
			continue
		}
		answer := strings.TrimSpace(e.Answer)
		if wordCount(answer) < opts.MinWords {
			continue
		}
		examples = append(examples, Example{
			EstimateID: e.ID,
			Model:      e.Model,
			Form:       e.Form,
			Custom:     e.CustomPrompt,
			InputText:  strings.TrimSpace(e.Prompt),
			OutputText: answer,
			OutputJSON: e.JSON,
		})
	}
	return examples
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

// WriteJSONL writes one example per line.
func WriteJSONL(w io.Writer, examples []Example) error {
	enc := json.NewEncoder(w)
	for _, ex := range examples {
		if err := enc.Encode(ex); err != nil {
			return fmt.Errorf("encode example %s: %w", ex.EstimateID, err)
		}
	}
	return nil
}

// WriteJSONLFile serializes examples to path, or stdout when path is "-".
func WriteJSONLFile(path string, examples []Example) error {
	if path == "-" {
		return WriteJSONL(os.Stdout, examples)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteJSONL(file, examples); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
