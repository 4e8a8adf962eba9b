// Package session drives one generation from the provider stream to a
// finalized, bundled and persisted project.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"prompt2web_server/internal/ai"
	"prompt2web_server/internal/apperr"
	"prompt2web_server/internal/bundle"
	"prompt2web_server/internal/extract"
	"prompt2web_server/internal/metrics"
	"prompt2web_server/internal/store"
	"prompt2web_server/internal/stream"
	"prompt2web_server/internal/tracer"
	"prompt2web_server/internal/types"
)

// State is the lifecycle position of a session.
type State string

const (
	StateIdle       State = "idle"
	StateStreaming  State = "streaming"
	StateFinalizing State = "finalizing"
	StateReady      State = "ready"
	StateFailed     State = "failed"
)

// ErrBusy rejects a submission while another one is in flight.
var ErrBusy = apperr.New(apperr.CodeSessionBusy, "a generation is already in progress")

const persistTimeout = 15 * time.Second

// FallbackSteps is the plan shown in planning mode until the model sends
// its own.
func FallbackSteps() []types.PlanStep {
	return []types.PlanStep{
		{Title: "Analyzing requirements", Description: "Understanding your requirements...", Status: types.StepActive},
		{Title: "Planning architecture", Description: "Designing component structure...", Status: types.StepPending},
		{Title: "Building", Description: "Generating production code...", Status: types.StepPending},
		{Title: "Optimizing", Description: "Adding responsive design & animations...", Status: types.StepPending},
		{Title: "Complete", Description: "Ready for preview!", Status: types.StepPending},
	}
}

// Options configure a Session. Zero values are usable.
type Options struct {
	AccountID   string
	IdleTimeout time.Duration
	Store       store.Store // nil disables persistence
	Now         func() time.Time
	NewID       func() string
}

// Session owns the state of one generation at a time. A session in ready or
// failed accepts a new request, which discards everything from the last one.
type Session struct {
	opts Options

	mu        sync.Mutex
	state     State
	text      strings.Builder
	steps     []types.PlanStep
	files     types.FileSet
	extractor extract.Extractor
	cancel    context.CancelFunc
	outcome   *Outcome

	persisting sync.WaitGroup
}

func New(opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Session{
		opts:      opts,
		state:     StateIdle,
		files:     types.FileSet{},
		extractor: extract.NewHeuristic(),
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome returns the last ready result, or nil.
func (s *Session) Outcome() *Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Text returns the accumulated response so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Cancel aborts an in-flight run and reports whether there was one. The
// run returns context.Canceled and the session goes back to idle with its
// partial state discarded; a run cancelled while finalizing is not persisted.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil || (s.state != StateStreaming && s.state != StateFinalizing) {
		return false
	}
	s.cancel()
	return true
}

// Wait blocks until background persistence started by Run has finished.
func (s *Session) Wait() {
	s.persisting.Wait()
}

func (s *Session) begin(ctx context.Context, mode types.Mode) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStreaming || s.state == StateFinalizing {
		return nil, ErrBusy
	}
	s.resetLocked()
	if mode == types.ModePlanning {
		s.steps = FallbackSteps()
	}
	s.state = StateStreaming
	ctx, s.cancel = context.WithCancel(ctx)
	return ctx, nil
}

func (s *Session) resetLocked() {
	s.text.Reset()
	s.steps = nil
	s.files = types.FileSet{}
	s.outcome = nil
	s.extractor.Reset()
}

func (s *Session) finish(state State, outcome *Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(state, outcome)
}

// settle moves a finalized run to ready unless it was cancelled first.
func (s *Session) settle(runCtx context.Context, outcome *Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if runCtx.Err() != nil {
		return false
	}
	s.finishLocked(StateReady, outcome)
	return true
}

func (s *Session) finishLocked(state State, outcome *Outcome) {
	if state == StateIdle {
		s.resetLocked()
	}
	s.state = state
	s.outcome = outcome
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Run streams req from provider, sending live updates, and returns the
// finalized outcome. updates may be nil; otherwise Run closes it on return.
//
// An upstream error annotation does not fail the run. A transport failure
// or idle timeout moves the session to failed. Cancellation moves it to
// idle and nothing is persisted.
func (s *Session) Run(ctx context.Context, req types.GenerationRequest, provider ai.Provider, updates chan<- Update) (*Outcome, error) {
	if updates != nil {
		defer close(updates)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, apperr.New(apperr.CodeInvalidParam, "prompt is required")
	}
	req.Mode = types.ParseMode(string(req.Mode))

	runCtx, err := s.begin(ctx, req.Mode)
	if err != nil {
		return nil, err
	}
	started := s.opts.Now()
	name := provider.Name()
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	runCtx, span := tracer.StartGeneration(runCtx, s.opts.AccountID, name, string(req.Mode))
	defer span.End()

	out := emitter{ctx: runCtx, ch: updates}
	body, err := provider.Stream(runCtx, req)
	if err != nil {
		return nil, s.fail(ctx, runCtx, span, name, req.Mode, err, out)
	}
	if req.Mode == types.ModePlanning {
		out.send(Update{Kind: UpdateSnapshot, Snapshot: s.snapshot()})
	}

	chunks := make(chan stream.Chunk, 64)
	readErr := make(chan error, 1)
	go func() {
		readErr <- stream.Read(runCtx, body, s.opts.IdleTimeout, chunks)
	}()

	for c := range chunks {
		metrics.StreamChunksTotal.WithLabelValues(name, kindLabel(c.Kind)).Inc()
		switch c.Kind {
		case stream.KindContent:
			if snap, changed := s.append(c.Text); changed {
				out.send(Update{Kind: UpdateSnapshot, Snapshot: snap})
			}
		case stream.KindError:
			log.Warn("Upstream reported an error mid-stream", "provider", name, "message", c.Message)
			s.append(c.Annotation())
			out.send(Update{Kind: UpdateAnnotation, Text: c.Annotation()})
		}
	}
	err = <-readErr
	_ = body.Close()
	if err != nil {
		if errors.Is(err, stream.ErrIdleTimeout) {
			err = apperr.Wrap(err, apperr.CodeIdleTimeout, "the provider stopped responding")
		} else if ctx.Err() == nil && runCtx.Err() == nil {
			err = apperr.Wrap(err, apperr.CodeTransport, "the connection to the provider was lost")
		}
		return nil, s.fail(ctx, runCtx, span, name, req.Mode, err, out)
	}

	outcome := s.finalize(runCtx, req)
	if !s.settle(runCtx, outcome) {
		return nil, s.fail(ctx, runCtx, span, name, req.Mode, context.Canceled, out)
	}
	span.SetAttributes(tracer.ProjectKey.String(outcome.ProjectID))
	s.persist(ctx, outcome)
	out.ctx = ctx

	status := "ready"
	switch {
	case outcome.Diagnostic:
		status = "diagnostic"
	case outcome.Fallback:
		status = "fallback"
	}
	metrics.GenerationsTotal.WithLabelValues(name, string(req.Mode), status).Inc()
	metrics.GenerationDuration.WithLabelValues(name).Observe(s.opts.Now().Sub(started).Seconds())
	metrics.GeneratedFiles.Observe(float64(len(outcome.Files)))
	log.Info("Generation finished", "provider", name, "mode", req.Mode, "files", len(outcome.Files), "status", status, "project", outcome.ProjectID)

	out.send(Update{Kind: UpdateResult, Outcome: outcome})
	return outcome, nil
}

// fail settles the session after an aborted run. Cancellation by either the
// caller or Cancel leads back to idle.
func (s *Session) fail(parent, runCtx context.Context, span trace.Span, provider string, mode types.Mode, err error, out emitter) error {
	if runCtx.Err() != nil {
		s.finish(StateIdle, nil)
		metrics.GenerationsTotal.WithLabelValues(provider, string(mode), "cancelled").Inc()
		log.Info("Generation cancelled", "provider", provider)
		return context.Canceled
	}

	s.finish(StateFailed, nil)
	tracer.Fail(span, err)
	metrics.GenerationsTotal.WithLabelValues(provider, string(mode), "failed").Inc()
	log.Error("Generation failed", "provider", provider, "err", err)
	out.ctx = parent
	out.send(Update{Kind: UpdateError, Err: err})
	return err
}

func (s *Session) append(text string) (*extract.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text.WriteString(text)
	snap := s.extractor.Update(s.text.String())
	if !snap.Changed {
		return nil, false
	}
	if len(snap.Steps) > 0 {
		s.steps = snap.Steps
	}
	s.files = snap.Files
	return s.snapshotLocked(snap.Overview), true
}

func (s *Session) snapshot() *extract.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked("")
}

func (s *Session) snapshotLocked(overview string) *extract.Snapshot {
	steps := make([]types.PlanStep, len(s.steps))
	copy(steps, s.steps)
	return &extract.Snapshot{Overview: overview, Steps: steps, Files: s.files.Clone()}
}

func (s *Session) finalize(ctx context.Context, req types.GenerationRequest) *Outcome {
	_, span := tracer.StartFinalize(ctx)
	defer span.End()

	s.mu.Lock()
	s.state = StateFinalizing
	text := s.text.String()
	known := s.steps
	s.mu.Unlock()

	res := bundle.Finalize(text, known)
	steps := make([]types.PlanStep, len(res.Steps))
	for i, st := range res.Steps {
		st.Status = types.StepComplete
		steps[i] = st
	}

	outcome := &Outcome{
		Prompt:     req.Prompt,
		Overview:   res.Overview,
		Steps:      steps,
		Files:      res.Files,
		IndexFile:  res.IndexFile,
		Bundled:    bundle.Bundle(res.Files, res.IndexFile),
		Fallback:   res.Fallback,
		Diagnostic: res.Err != nil,
		CreatedAt:  s.opts.Now(),
	}
	switch {
	case outcome.Diagnostic:
		outcome.Notice = "Could not fully parse the result; showing the raw response."
	case outcome.Fallback:
		outcome.Notice = "The model did not return a project; recovered the HTML document from its reply."
	}
	if !outcome.Diagnostic {
		outcome.ProjectID = s.opts.NewID()
	}
	span.SetAttributes(
		tracer.FilesKey.Int(len(outcome.Files)),
		tracer.FallbackKey.Bool(outcome.Fallback),
	)
	tracer.Fail(span, res.Err)
	return outcome
}

// persist writes the record in the background. It outlives the request so
// a client disconnecting after the result does not lose the project.
func (s *Session) persist(ctx context.Context, outcome *Outcome) {
	if s.opts.Store == nil || outcome.Diagnostic {
		return
	}
	rec := outcome.Record(s.opts.AccountID)
	backend := store.Backend(s.opts.Store)

	s.persisting.Add(1)
	go func() {
		defer s.persisting.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := s.opts.Store.Create(ctx, rec); err != nil {
			metrics.PersistTotal.WithLabelValues(backend, "error").Inc()
			log.Error("Failed to persist project", "project", rec.ID, "account", rec.AccountID, "err", err)
			return
		}
		metrics.PersistTotal.WithLabelValues(backend, "ok").Inc()
	}()
}

func kindLabel(k stream.Kind) string {
	switch k {
	case stream.KindContent:
		return "content"
	case stream.KindError:
		return "error"
	default:
		return "done"
	}
}
