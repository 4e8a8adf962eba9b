package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"prompt2web_server/internal/ai"
	"prompt2web_server/internal/apperr"
	"prompt2web_server/internal/bundle"
	"prompt2web_server/internal/deploy"
	"prompt2web_server/internal/extract"
	"prompt2web_server/internal/session"
	"prompt2web_server/internal/store"
	"prompt2web_server/internal/stream"
	"prompt2web_server/internal/tracer"
	"prompt2web_server/internal/types"
	"prompt2web_server/internal/utils"
)

const (
	accountHeader    = "X-Account-ID"
	defaultAccountID = "anonymous"
	previewCSP       = "sandbox allow-scripts allow-forms"
)

// APIHandler holds dependencies for API endpoints.
type APIHandler struct {
	providers   *ai.Router
	sessions    *session.Manager
	store       store.Store
	deployer    *deploy.Deployer
	idleTimeout time.Duration
}

// NewAPIHandler initializes a new API handler with its dependencies.
func NewAPIHandler(providers *ai.Router, sessions *session.Manager, st store.Store, deployer *deploy.Deployer, idleTimeout time.Duration) *APIHandler {
	return &APIHandler{
		providers:   providers,
		sessions:    sessions,
		store:       st,
		deployer:    deployer,
		idleTimeout: idleTimeout,
	}
}

// --- Request/Response Structs ---

type GenerateRequest struct {
	Prompt string `json:"prompt" binding:"required"`
	Mode   string `json:"mode"`
	Model  string `json:"model"`
}

func (r GenerateRequest) generation() types.GenerationRequest {
	return types.GenerationRequest{Prompt: r.Prompt, Mode: types.ParseMode(r.Mode), Model: r.Model}
}

type ResultEvent struct {
	ProjectID string           `json:"projectId,omitempty"`
	Overview  string           `json:"overview"`
	Steps     []types.PlanStep `json:"steps"`
	Files     types.FileSet    `json:"files"`
	IndexFile string           `json:"indexFile"`
	Notice    string           `json:"notice,omitempty"`
}

type ProjectSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Overview  string `json:"overview"`
	Prompt    string `json:"prompt"`
	CreatedAt string `json:"createdAt"`
	FileCount int    `json:"fileCount"`
}

func accountID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(accountHeader)); id != "" {
		return id
	}
	return defaultAccountID
}

// respondError writes the {"error", "details"} body with the error's status.
func respondError(c *gin.Context, err error) {
	appErr := apperr.As(err)
	body := gin.H{"error": appErr.Message}
	if appErr.Detail != "" {
		body["details"] = appErr.Detail
	} else if appErr.Err != nil {
		body["details"] = appErr.Err.Error()
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus, body)
}

// --- Handlers ---

// GenerateStream proxies a provider stream as data: {"content": ...} frames.
// Upstream error frames are folded into the content as an annotation and
// the stream always ends with data: [DONE].
func (h *APIHandler) GenerateStream(c *gin.Context) {
	h.generateStream(c, "")
}

// GenerateWith returns a handler bound to one provider id, mirroring the
// per-provider routes of the web client.
func (h *APIHandler) GenerateWith(model string) gin.HandlerFunc {
	return func(c *gin.Context) { h.generateStream(c, model) }
}

func (h *APIHandler) generateStream(c *gin.Context, fixedModel string) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.New(apperr.CodeInvalidParam, "Invalid request body").WithDetail(err.Error()))
		return
	}
	gen := req.generation()
	if fixedModel != "" && !h.keepsModel(fixedModel, gen.Model) {
		gen.Model = fixedModel
	}

	provider, err := h.providers.Resolve(gen.Model, gen.Prompt)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	body, err := provider.Stream(ctx, gen)
	if err != nil {
		log.Error("Provider stream failed to start", "provider", provider.Name(), "err", err)
		respondError(c, err)
		return
	}
	defer body.Close()

	chunks := make(chan stream.Chunk, 64)
	readErr := make(chan error, 1)
	go func() {
		readErr <- stream.Read(ctx, body, h.idleTimeout, chunks)
	}()

	setSSEHeaders(c)
	c.Stream(func(w io.Writer) bool {
		chunk, ok := <-chunks
		if !ok {
			if err := <-readErr; err != nil && ctx.Err() == nil {
				log.Warn("Passthrough stream ended early", "provider", provider.Name(), "err", err)
				writeData(w, gin.H{"content": stream.Chunk{Message: err.Error()}.Annotation()})
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return false
		}
		switch chunk.Kind {
		case stream.KindContent:
			writeData(w, gin.H{"content": chunk.Text})
		case stream.KindError:
			writeData(w, gin.H{"content": chunk.Annotation()})
		}
		return true
	})
}

// keepsModel lets a provider-specific route honour a finer model id from
// the body, for example a free OpenRouter model on the chimera route.
func (h *APIHandler) keepsModel(route, model string) bool {
	if model == "" {
		return false
	}
	switch route {
	case "chimera", "openrouter":
		return ai.IsOpenRouterModel(model)
	case "gemini":
		return strings.HasPrefix(model, "gemini")
	}
	return false
}

// GenerateProject runs a server-side session and streams snapshot,
// annotation, result and error events. Failures before the first event are
// returned as plain JSON errors with the upstream status.
func (h *APIHandler) GenerateProject(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.New(apperr.CodeInvalidParam, "Invalid request body").WithDetail(err.Error()))
		return
	}
	gen := req.generation()
	account := accountID(c)

	provider, err := h.providers.Resolve(gen.Model, gen.Prompt)
	if err != nil {
		respondError(c, err)
		return
	}
	log.Info("Received generation request", "account", account, "provider", provider.Name(), "mode", gen.Mode,
		"trace_id", tracer.TraceID(c.Request.Context()))

	updates := make(chan session.Update, 16)
	runErr := make(chan error, 1)
	go func() {
		_, err := h.sessions.Run(c.Request.Context(), account, gen, provider, updates)
		runErr <- err
	}()

	first, ok := <-updates
	if !ok {
		if err := <-runErr; err != nil {
			respondError(c, err)
		}
		return
	}
	if first.Kind == session.UpdateError {
		for range updates {
		}
		<-runErr
		respondError(c, first.Err)
		return
	}

	setSSEHeaders(c)
	pending := &first
	c.Stream(func(w io.Writer) bool {
		var u session.Update
		if pending != nil {
			u, pending = *pending, nil
		} else if u, ok = <-updates; !ok {
			<-runErr
			return false
		}
		writeUpdate(c, u)
		return true
	})
	// drain so Run never blocks on a departed client
	for range updates {
	}
}

func writeUpdate(c *gin.Context, u session.Update) {
	switch u.Kind {
	case session.UpdateSnapshot:
		c.SSEvent(string(u.Kind), snapshotEvent(u.Snapshot))
	case session.UpdateAnnotation:
		c.SSEvent(string(u.Kind), gin.H{"content": u.Text})
	case session.UpdateResult:
		o := u.Outcome
		c.SSEvent(string(u.Kind), ResultEvent{
			ProjectID: o.ProjectID,
			Overview:  o.Overview,
			Steps:     o.Steps,
			Files:     o.Files,
			IndexFile: o.IndexFile,
			Notice:    o.Notice,
		})
	case session.UpdateError:
		appErr := apperr.As(u.Err)
		c.SSEvent(string(u.Kind), gin.H{"error": appErr.Message, "details": appErr.Detail, "status": appErr.HTTPStatus})
	}
}

func snapshotEvent(s *extract.Snapshot) gin.H {
	if s == nil {
		return gin.H{}
	}
	return gin.H{"overview": s.Overview, "steps": s.Steps, "files": s.Files}
}

// CancelGeneration aborts the caller's in-flight generation.
func (h *APIHandler) CancelGeneration(c *gin.Context) {
	cancelled := h.sessions.Cancel(accountID(c))
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

// ListProjects returns the caller's projects, newest first.
func (h *APIHandler) ListProjects(c *gin.Context) {
	records, err := h.store.List(c.Request.Context(), accountID(c))
	if err != nil {
		log.Error("Failed to list projects", "err", err)
		respondError(c, apperr.Wrap(err, apperr.CodeStorage, "Failed to load projects"))
		return
	}
	out := make([]ProjectSummary, 0, len(records))
	for _, r := range records {
		out = append(out, ProjectSummary{
			ID:        r.ID,
			Title:     r.Title,
			Overview:  r.Overview,
			Prompt:    r.Prompt,
			CreatedAt: r.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			FileCount: len(r.Files),
		})
	}
	c.JSON(http.StatusOK, gin.H{"projects": out})
}

func (h *APIHandler) loadProject(c *gin.Context) (types.ProjectRecord, bool) {
	rec, err := h.store.Get(c.Request.Context(), accountID(c), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, apperr.New(apperr.CodeNotFound, "Project not found"))
		return rec, false
	}
	if err != nil {
		log.Error("Failed to load project", "id", c.Param("id"), "err", err)
		respondError(c, apperr.Wrap(err, apperr.CodeStorage, "Failed to load project"))
		return rec, false
	}
	return rec, true
}

// GetProject returns one stored project.
func (h *APIHandler) GetProject(c *gin.Context) {
	if rec, ok := h.loadProject(c); ok {
		c.JSON(http.StatusOK, rec)
	}
}

// PreviewProject serves the bundled single-page document inside a sandbox.
func (h *APIHandler) PreviewProject(c *gin.Context) {
	rec, ok := h.loadProject(c)
	if !ok {
		return
	}
	c.Header("Content-Security-Policy", previewCSP)
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(bundle.Bundle(rec.Files, rec.IndexFile)))
}

// ProjectFile serves a single generated file as-is.
func (h *APIHandler) ProjectFile(c *gin.Context) {
	rec, ok := h.loadProject(c)
	if !ok {
		return
	}
	name := strings.TrimPrefix(c.Param("path"), "/")
	content, found := rec.Files[name]
	if !found {
		respondError(c, apperr.New(apperr.CodeNotFound, "File not found").WithDetail(name))
		return
	}
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, utils.ContentType(name), []byte(content))
}

// DeployProject exports the project files and runs the publish command.
func (h *APIHandler) DeployProject(c *gin.Context) {
	rec, ok := h.loadProject(c)
	if !ok {
		return
	}
	res, err := h.deployer.DeployFiles(c.Request.Context(), rec.ID, rec.Files)
	if err != nil {
		log.Error("Deployment failed", "project", rec.ID, "err", err)
		if errors.Is(err, deploy.ErrUnsafePath) {
			respondError(c, apperr.Wrap(err, apperr.CodeInvalidParam, "Project contains unsafe file paths"))
			return
		}
		respondError(c, apperr.Wrap(err, apperr.CodeDeployFailed, "Failed to deploy project"))
		return
	}
	log.Info("Project deployed", "project", rec.ID, "path", res.Path)
	c.JSON(http.StatusOK, res)
}

// Health reports configured providers and the store backend.
func (h *APIHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"providers": h.providers.Names(),
		"store":     store.Backend(h.store),
	})
}

// --- SSE helpers ---

func setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

func writeData(w io.Writer, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
}
