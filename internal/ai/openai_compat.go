package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	openai "github.com/sashabaranov/go-openai"

	"prompt2web_server/internal/ai/prompts"
	"prompt2web_server/internal/apperr"
	"prompt2web_server/internal/metrics"
	"prompt2web_server/internal/tracer"
	"prompt2web_server/internal/types"
	"prompt2web_server/internal/utils"
)

const maxErrorBody = 64 * 1024

// Profile describes an OpenAI-compatible chat completions endpoint.
type Profile struct {
	Name         string
	BaseURL      string
	DefaultModel string
	Headers      map[string]string
	// PassModel reports whether a requested model id is sent upstream as is.
	// When nil, or when it returns false, DefaultModel is used.
	PassModel func(model string) bool
}

// Built-in profiles.
var (
	GroqProfile = Profile{
		Name:         "groq",
		BaseURL:      "https://api.groq.com/openai/v1",
		DefaultModel: "llama-3.3-70b-versatile",
	}
	DeepSeekProfile = Profile{
		Name:         "deepseek",
		BaseURL:      "https://api.deepseek.com",
		DefaultModel: "deepseek-chat",
	}
	OpenRouterProfile = Profile{
		Name:         "openrouter",
		BaseURL:      "https://openrouter.ai/api/v1",
		DefaultModel: "openai/gpt-oss-120b:free",
		Headers: map[string]string{
			"HTTP-Referer": "https://prompt2web.vercel.app",
			"X-Title":      "Prompt2Web",
		},
		PassModel: IsOpenRouterModel,
	}
	OpenAIProfile = Profile{
		Name:         "openai",
		BaseURL:      "https://api.openai.com/v1",
		DefaultModel: openai.GPT4oMini,
		PassModel: func(model string) bool {
			return strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3")
		},
	}
)

// IsOpenRouterModel matches vendor-qualified ids and free-tier ids.
func IsOpenRouterModel(model string) bool {
	return strings.Contains(model, "/") || strings.HasSuffix(model, ":free")
}

// OpenAICompatible streams chat completions from any endpoint that speaks
// the OpenAI wire format. The upstream SSE body is returned unmodified.
type OpenAICompatible struct {
	profile  Profile
	apiKey   string
	settings Settings
}

var _ Provider = (*OpenAICompatible)(nil)

func NewOpenAICompatible(profile Profile, apiKey string, settings Settings) *OpenAICompatible {
	profile.BaseURL = strings.TrimRight(profile.BaseURL, "/")
	return &OpenAICompatible{profile: profile, apiKey: apiKey, settings: settings.withDefaults()}
}

func (p *OpenAICompatible) Name() string { return p.profile.Name }

// Model returns the upstream model id used for a requested id.
func (p *OpenAICompatible) Model(requested string) string {
	if p.profile.PassModel != nil && p.profile.PassModel(requested) {
		return requested
	}
	return p.profile.DefaultModel
}

func (p *OpenAICompatible) Stream(ctx context.Context, req types.GenerationRequest) (io.ReadCloser, error) {
	if strings.TrimSpace(p.apiKey) == "" {
		return nil, apperr.New(apperr.CodeProviderNotConfigured, p.profile.Name+" API key not configured")
	}

	model := p.Model(req.Model)
	ctx, span := tracer.StartProvider(ctx, p.profile.Name, model, string(req.Mode))
	defer span.End()

	body, err := json.Marshal(openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompts.GetSiteGenerationPrompt(req.Mode)},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: p.settings.Temperature,
		MaxTokens:   p.settings.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInvalidParam, "failed to encode request")
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			log.Warn("Retrying provider request", "provider", p.profile.Name, "err", lastErr)
			if err := sleepCtx(ctx, p.settings.RetryDelay); err != nil {
				return nil, err
			}
		}

		resp, err := p.do(ctx, body)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil || !utils.ShouldRetry(err) {
				break
			}
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp.Body, nil
		}

		lastErr = upstreamError(p.profile.Name, resp)
		metrics.UpstreamErrorsTotal.WithLabelValues(p.profile.Name, strconv.Itoa(resp.StatusCode)).Inc()
		if !utils.RetryableStatus(resp.StatusCode) {
			break
		}
	}

	tracer.Fail(span, lastErr)
	if apperr.Is(lastErr, apperr.CodeUpstream) || ctx.Err() != nil {
		return nil, lastErr
	}
	return nil, apperr.Wrap(lastErr, apperr.CodeTransport, "failed to reach "+p.profile.Name)
}

func (p *OpenAICompatible) do(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.profile.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", NormalizeKey(p.apiKey))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range p.profile.Headers {
		httpReq.Header.Set(k, v)
	}
	return p.settings.HTTPClient.Do(httpReq)
}

// upstreamError drains a non-2xx response into an AppError that mirrors the
// upstream status.
func upstreamError(provider string, resp *http.Response) error {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	detail := strings.TrimSpace(string(raw))
	var errResp openai.ErrorResponse
	if json.Unmarshal(raw, &errResp) == nil && errResp.Error != nil && errResp.Error.Message != "" {
		detail = errResp.Error.Message
	}
	if detail == "" {
		detail = fmt.Sprintf("status %d", resp.StatusCode)
	}
	log.Error("Provider rejected request", "provider", provider, "status", resp.StatusCode, "detail", detail)
	return apperr.Upstream(provider, resp.StatusCode, detail)
}
