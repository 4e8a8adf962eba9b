package types

import (
	"strings"
	"time"
)

// Mode selects the system prompt and step handling for a generation.
type Mode string

const (
	ModeFast     Mode = "fast"
	ModePlanning Mode = "planning"
)

// ParseMode normalizes user input, defaulting to fast.
func ParseMode(s string) Mode {
	if Mode(strings.ToLower(strings.TrimSpace(s))) == ModePlanning {
		return ModePlanning
	}
	return ModeFast
}

// ModelAuto asks the router to pick a provider from the prompt text.
const ModelAuto = "auto"

// GenerationRequest is immutable once submitted.
type GenerationRequest struct {
	Prompt string `json:"prompt" binding:"required"`
	Mode   Mode   `json:"mode"`
	Model  string `json:"model"` // provider/model id or "auto"
}

// StepStatus is the visible state of a plan step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepActive   StepStatus = "active"
	StepComplete StepStatus = "complete"
)

// PlanStep is one entry of the ordered plan shown while a project is built.
type PlanStep struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
}

// FileSet maps forward-slash paths to full file contents.
type FileSet map[string]string

// Clone returns an independent copy; nil becomes an empty set.
func (f FileSet) Clone() FileSet {
	out := make(FileSet, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ProjectRecord is the persisted result of one successful generation.
// Records are created once and never mutated.
type ProjectRecord struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Prompt    string    `json:"prompt"`
	Overview  string    `json:"overview"`
	Title     string    `json:"title"`
	Files     FileSet   `json:"files"`
	IndexFile string    `json:"indexFile"`
	CreatedAt time.Time `json:"createdAt"`
}
