// Package ai talks to the language model providers. Every provider returns
// its raw SSE body so the stream package owns all response parsing.
package ai

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"prompt2web_server/internal/types"
)

// Provider opens one streaming completion. The returned body must be closed
// by the caller; closing it aborts the upstream request.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req types.GenerationRequest) (io.ReadCloser, error)
}

// Settings are shared by every provider.
type Settings struct {
	MaxTokens   int
	Temperature float32
	HTTPClient  *http.Client
	RetryDelay  time.Duration
}

const (
	defaultMaxTokens   = 4000
	geminiMaxTokens    = 8000
	defaultTemperature = 0.7
	defaultRetryDelay  = 500 * time.Millisecond
)

func (s Settings) withDefaults() Settings {
	if s.MaxTokens <= 0 {
		s.MaxTokens = defaultMaxTokens
	}
	if s.Temperature <= 0 {
		s.Temperature = defaultTemperature
	}
	if s.HTTPClient == nil {
		// No overall timeout: streams legitimately run for minutes and the
		// session enforces an idle timeout instead.
		s.HTTPClient = &http.Client{}
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = defaultRetryDelay
	}
	return s
}

// NormalizeKey returns the Authorization header value for a key that may or
// may not already carry the Bearer scheme.
func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "Bearer ") {
		return key
	}
	return "Bearer " + key
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
