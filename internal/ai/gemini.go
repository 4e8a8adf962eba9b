package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"

	"prompt2web_server/internal/ai/prompts"
	"prompt2web_server/internal/apperr"
	"prompt2web_server/internal/metrics"
	"prompt2web_server/internal/tracer"
	"prompt2web_server/internal/types"
)

const (
	GeminiFlashModel = "gemini-2.0-flash"
	GeminiProModel   = "gemini-2.0-pro-exp-02-05"
)

type streamFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

// Gemini streams from the Gemini API and re-frames the output as
// data: {"content": ...} lines ending with data: [DONE].
type Gemini struct {
	apiKey   string
	settings Settings
	stream   streamFunc
}

var _ Provider = (*Gemini)(nil)

// NewGemini builds the provider. An empty key yields a provider whose every
// call fails with CodeProviderNotConfigured.
func NewGemini(ctx context.Context, apiKey string, settings Settings) (*Gemini, error) {
	if settings.MaxTokens <= 0 {
		settings.MaxTokens = geminiMaxTokens
	}
	settings = settings.withDefaults()
	g := &Gemini{apiKey: apiKey, settings: settings}
	if strings.TrimSpace(apiKey) == "" {
		return g, nil
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: settings.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	g.stream = cli.Models.GenerateContentStream
	return g, nil
}

func (g *Gemini) Name() string { return "gemini" }

// Model maps the public ids onto Gemini model names.
func (g *Gemini) Model(requested string) string {
	if requested == "gemini-flash" {
		return GeminiFlashModel
	}
	return GeminiProModel
}

func (g *Gemini) Stream(ctx context.Context, req types.GenerationRequest) (io.ReadCloser, error) {
	if g.stream == nil {
		return nil, apperr.New(apperr.CodeProviderNotConfigured, "Gemini API key not configured")
	}
	model := g.Model(req.Model)
	ctx, cancel := context.WithCancel(ctx)

	ctx, span := tracer.StartProvider(ctx, g.Name(), model, string(req.Mode))

	seq := g.stream(ctx, model,
		[]*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(prompts.GetSiteGenerationPrompt(req.Mode), genai.RoleUser),
			Temperature:       genai.Ptr(g.settings.Temperature),
			MaxOutputTokens:   int32(g.settings.MaxTokens),
		},
	)
	next, stop := iter.Pull2(seq)

	// The first item is pulled here so a rejected request surfaces as an
	// HTTP error instead of an in-stream annotation.
	first, err, ok := next()
	if err != nil {
		stop()
		cancel()
		err = geminiError(err)
		tracer.Fail(span, err)
		span.End()
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		defer span.End()
		defer cancel()
		defer stop()

		resp := first
		for ok {
			if err != nil {
				log.Error("Gemini stream failed", "err", err)
				tracer.Fail(span, err)
				writeFrame(pw, map[string]any{"error": err.Error()})
				break
			}
			if text := responseText(resp); text != "" {
				if werr := writeFrame(pw, map[string]string{"content": text}); werr != nil {
					pw.CloseWithError(werr)
					return
				}
			}
			resp, err, ok = next()
		}
		_, werr := io.WriteString(pw, "data: [DONE]\n\n")
		pw.CloseWithError(werr)
	}()

	return &pipeBody{PipeReader: pr, cancel: cancel}, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func writeFrame(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "data: "+string(b)+"\n\n")
	return err
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		metrics.UpstreamErrorsTotal.WithLabelValues("gemini", strconv.Itoa(apiErr.Code)).Inc()
		return apperr.Upstream("Gemini", apiErr.Code, apiErr.Message)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperr.Wrap(err, apperr.CodeTransport, "failed to reach Gemini")
}

// pipeBody cancels the upstream call when the consumer closes the body.
type pipeBody struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (b *pipeBody) Close() error {
	b.cancel()
	return b.PipeReader.Close()
}
