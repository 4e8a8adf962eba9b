package session

import (
	"context"
	"strings"
	"time"

	"prompt2web_server/internal/bundle"
	"prompt2web_server/internal/extract"
	"prompt2web_server/internal/types"
)

// UpdateKind tags what a live update carries.
type UpdateKind string

const (
	UpdateSnapshot   UpdateKind = "snapshot"
	UpdateAnnotation UpdateKind = "annotation"
	UpdateResult     UpdateKind = "result"
	UpdateError      UpdateKind = "error"
)

// Update is one live event of a run.
type Update struct {
	Kind     UpdateKind
	Snapshot *extract.Snapshot // snapshot
	Text     string            // annotation
	Outcome  *Outcome          // result
	Err      error             // error
}

// Outcome is the finalized project of a ready session. Bundled is only for
// previewing and is never persisted.
type Outcome struct {
	ProjectID  string           `json:"projectId,omitempty"`
	Prompt     string           `json:"-"`
	Overview   string           `json:"overview"`
	Steps      []types.PlanStep `json:"steps"`
	Files      types.FileSet    `json:"files"`
	IndexFile  string           `json:"indexFile"`
	Bundled    string           `json:"-"`
	Fallback   bool             `json:"fallback,omitempty"`
	Diagnostic bool             `json:"diagnostic,omitempty"`
	Notice     string           `json:"notice,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// Record converts the outcome into the persisted form.
func (o *Outcome) Record(accountID string) types.ProjectRecord {
	title := o.Overview
	if strings.TrimSpace(title) == "" {
		title = o.Prompt
	}
	return types.ProjectRecord{
		ID:        o.ProjectID,
		AccountID: accountID,
		Prompt:    o.Prompt,
		Overview:  o.Overview,
		Title:     bundle.Title(title),
		Files:     o.Files.Clone(),
		IndexFile: o.IndexFile,
		CreatedAt: o.CreatedAt,
	}
}

type emitter struct {
	ctx context.Context
	ch  chan<- Update
}

// send drops the update once ctx is done so a vanished consumer cannot
// block the run.
func (e emitter) send(u Update) {
	if e.ch == nil {
		return
	}
	select {
	case e.ch <- u:
	case <-e.ctx.Done():
	}
}
