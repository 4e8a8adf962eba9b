// Package extract surfaces live overview, plan and file previews from a
// response that is still streaming.
//
// Everything here is best effort. Nothing produced by an Extractor is
// persisted or bundled; the finalizer's strict parse is the source of truth.
package extract

import (
	"encoding/json"
	"slices"

	"prompt2web_server/internal/types"
)

// Snapshot is the working state after one pass.
type Snapshot struct {
	Overview string           `json:"overview"`
	Steps    []types.PlanStep `json:"steps"`
	Files    types.FileSet    `json:"files"`
	Changed  bool             `json:"-"`
}

// Extractor consumes the whole accumulated text on every call. It never
// fails; text it cannot read leaves the previous state untouched.
type Extractor interface {
	Update(text string) Snapshot
	Reset()
}

// Heuristic scans the raw text for the top-level "overview", "steps" and
// "files" keys without requiring the document to be complete.
type Heuristic struct {
	overview string
	steps    []types.PlanStep
	files    types.FileSet
}

var _ Extractor = (*Heuristic)(nil)

func NewHeuristic() *Heuristic {
	return &Heuristic{files: types.FileSet{}}
}

func (h *Heuristic) Reset() {
	h.overview = ""
	h.steps = nil
	h.files = types.FileSet{}
}

func (h *Heuristic) Update(text string) Snapshot {
	changed := false
	keys := topLevelKeys(text)

	if pos, ok := keys["overview"]; ok && pos < len(text) && text[pos] == '"' {
		if end, ok := stringEnd(text, pos); ok {
			if v := Unescape(text[pos+1 : end]); v != h.overview {
				h.overview = v
				changed = true
			}
		}
	}

	if pos, ok := keys["steps"]; ok && pos < len(text) && text[pos] == '[' {
		if end := matchingClose(text, pos); end > 0 {
			if steps, ok := parseSteps(text[pos : end+1]); ok && !slices.Equal(steps, h.steps) {
				h.steps = steps
				changed = true
			}
		}
	}

	if pos, ok := keys["files"]; ok && pos < len(text) && text[pos] == '{' {
		body := text[pos+1:]
		if end := matchingClose(text, pos); end > 0 {
			body = text[pos+1 : end]
		}
		scanPairs(body, func(path, content string) {
			if prev, ok := h.files[path]; !ok || prev != content {
				h.files[path] = content
				changed = true
			}
		})
	}

	return Snapshot{
		Overview: h.overview,
		Steps:    slices.Clone(h.steps),
		Files:    h.files.Clone(),
		Changed:  changed,
	}
}

// parseSteps decodes a complete steps array; the first entry becomes
// active and the rest pending until the stream ends.
func parseSteps(raw string) ([]types.PlanStep, bool) {
	var decoded []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil || len(decoded) == 0 {
		return nil, false
	}
	steps := make([]types.PlanStep, len(decoded))
	for i, s := range decoded {
		status := types.StepPending
		if i == 0 {
			status = types.StepActive
		}
		steps[i] = types.PlanStep{Title: s.Title, Description: s.Description, Status: status}
	}
	return steps, true
}
