package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prompt2web_server/internal/ai"
	"prompt2web_server/internal/apperr"
	"prompt2web_server/internal/deploy"
	"prompt2web_server/internal/session"
	"prompt2web_server/internal/store"
	"prompt2web_server/internal/types"
)

type scriptedProvider struct {
	name string
	body string
	err  error
}

func (p scriptedProvider) Name() string { return p.name }

func (p scriptedProvider) Stream(context.Context, types.GenerationRequest) (io.ReadCloser, error) {
	if p.err != nil {
		return nil, p.err
	}
	return io.NopCloser(strings.NewReader(p.body)), nil
}

func contentFrames(pieces ...string) string {
	var sb strings.Builder
	for _, p := range pieces {
		b, _ := json.Marshal(map[string]string{"content": p})
		sb.WriteString("data: " + string(b) + "\n\n")
	}
	return sb.String() + "data: [DONE]\n\n"
}

type testEnv struct {
	srv      *httptest.Server
	store    *store.Memory
	sessions *session.Manager
	guard    *session.MemoryGuard
}

func newTestEnv(t *testing.T, providers ...ai.Provider) *testEnv {
	gin.SetMode(gin.TestMode)
	router := ai.NewRouter()
	for _, p := range providers {
		router.Register(p, true)
	}
	st, err := store.NewMemory(32)
	require.NoError(t, err)
	guard := session.NewMemoryGuard()
	sessions := session.NewManager(guard, st, 0)
	h := NewAPIHandler(router, sessions, st, deploy.NewDeployer(t.TempDir(), ""), 0)

	srv := httptest.NewServer(NewEngine(ServerOptions{}, h))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: st, sessions: sessions, guard: guard}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, string) {
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(accountHeader, "acct-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

type sseEvent struct {
	Name string
	Data string
}

func parseEvents(body string) []sseEvent {
	var out []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event:"):
				ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				ev.Data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
		if ev.Name != "" {
			out = append(out, ev)
		}
	}
	return out
}

func TestGenerateStreamPassthrough(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"<html>\"}}]}\n\n" +
		"data: {\"error\":{\"message\":\"quota\"}}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"</html>\"}}]}\n\n" +
		"data: [DONE]\n\n"
	env := newTestEnv(t, scriptedProvider{name: "groq", body: body})

	resp, out := env.do(t, http.MethodPost, "/api/ai/generate", `{"prompt":"site","model":"groq"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	assert.Equal(t,
		"data: {\"content\":\"\\u003chtml\\u003e\"}\n\n"+
			"data: {\"content\":\"\\n\\n[Error: quota]\"}\n\n"+
			"data: {\"content\":\"\\u003c/html\\u003e\"}\n\n"+
			"data: [DONE]\n\n",
		out)
}

func TestGenerateStreamProviderRoute(t *testing.T) {
	env := newTestEnv(t,
		scriptedProvider{name: "deepseek", body: contentFrames("from deepseek")},
		scriptedProvider{name: "groq", body: contentFrames("from groq")},
	)
	_, out := env.do(t, http.MethodPost, "/api/ai/deepseek", `{"prompt":"site","model":"groq"}`)
	assert.Contains(t, out, "from deepseek")
}

func TestGenerateStreamMirrorsUpstreamError(t *testing.T) {
	env := newTestEnv(t, scriptedProvider{name: "groq", err: apperr.Upstream("Groq", http.StatusTooManyRequests, "rate limit exceeded")})

	resp, out := env.do(t, http.MethodPost, "/api/ai/generate", `{"prompt":"site","model":"groq"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "Groq API error", body["error"])
	assert.Equal(t, "rate limit exceeded", body["details"])
}

func TestGenerateRequiresPrompt(t *testing.T) {
	env := newTestEnv(t, scriptedProvider{name: "groq"})
	resp, _ := env.do(t, http.MethodPost, "/api/ai/generate", `{"model":"groq"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/project/generate", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateWithoutProviders(t *testing.T) {
	env := newTestEnv(t)
	resp, out := env.do(t, http.MethodPost, "/project/generate", `{"prompt":"site"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, out, "no provider API keys configured")
}

func TestProjectLifecycle(t *testing.T) {
	doc := `{"overview":"# Cafe\nCoffee","steps":[{"title":"Layout","description":"d"}],` +
		`"files":{"index.html":"<html><link href=\"main.css\"><body>Cafe</body></html>","main.css":"h1{color:red}"}}`
	env := newTestEnv(t, scriptedProvider{name: "groq", body: contentFrames(doc[:30], doc[30:])})

	resp, out := env.do(t, http.MethodPost, "/project/generate", `{"prompt":"a cafe","mode":"planning","model":"groq"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := parseEvents(out)
	require.NotEmpty(t, events)
	assert.Equal(t, "snapshot", events[0].Name)
	last := events[len(events)-1]
	require.Equal(t, "result", last.Name)

	var result ResultEvent
	require.NoError(t, json.Unmarshal([]byte(last.Data), &result))
	assert.NotEmpty(t, result.ProjectID)
	assert.Equal(t, "index.html", result.IndexFile)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, types.StepComplete, result.Steps[0].Status)

	env.sessions.Wait()

	resp, out = env.do(t, http.MethodGet, "/projects", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Projects []ProjectSummary `json:"projects"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list.Projects, 1)
	assert.Equal(t, "Cafe", list.Projects[0].Title)
	assert.Equal(t, 2, list.Projects[0].FileCount)

	resp, out = env.do(t, http.MethodGet, "/project/"+result.ProjectID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec types.ProjectRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "a cafe", rec.Prompt)

	resp, out = env.do(t, http.MethodGet, "/project/"+result.ProjectID+"/preview", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, previewCSP, resp.Header.Get("Content-Security-Policy"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, out, "<style>h1{color:red}</style>")

	resp, out = env.do(t, http.MethodGet, "/project/"+result.ProjectID+"/files/main.css", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/css; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "h1{color:red}", out)

	resp, _ = env.do(t, http.MethodGet, "/project/"+result.ProjectID+"/files/missing.js", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, out = env.do(t, http.MethodPost, "/project/"+result.ProjectID+"/deploy", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, out, result.ProjectID)
}

func TestProjectGenerateBusy(t *testing.T) {
	env := newTestEnv(t, scriptedProvider{name: "groq", body: contentFrames("x")})
	release, err := env.guard.Acquire(context.Background(), "acct-1")
	require.NoError(t, err)
	defer release()

	resp, out := env.do(t, http.MethodPost, "/project/generate", `{"prompt":"site","model":"groq"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, out, "already in progress")
}

func TestProjectGenerateUpstreamRejected(t *testing.T) {
	env := newTestEnv(t, scriptedProvider{name: "groq", err: apperr.Upstream("Groq", http.StatusUnauthorized, "bad key")})
	resp, out := env.do(t, http.MethodPost, "/project/generate", `{"prompt":"site","model":"groq","mode":"planning"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, out, "bad key")
}

func TestProjectNotFoundIsAccountScoped(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Create(context.Background(), types.ProjectRecord{
		ID: "p-other", AccountID: "someone-else", Files: types.FileSet{"index.html": "x"},
	}))

	resp, _ := env.do(t, http.MethodGet, "/project/p-other", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/project/p-other/preview", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, scriptedProvider{name: "groq"})

	resp, out := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","providers":["groq"],"store":"memory"}`, out)

	resp, out = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, out, "prompt2web_http_requests_total")
}

func TestCancelWithoutGeneration(t *testing.T) {
	env := newTestEnv(t)
	resp, out := env.do(t, http.MethodPost, "/project/cancel", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"cancelled":false}`, out)
}
