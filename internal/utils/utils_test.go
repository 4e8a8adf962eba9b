package utils

import (
	"errors"
	"net/http"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestShouldRetry(t *testing.T) {
	assert.False(t, ShouldRetry(nil))
	assert.True(t, ShouldRetry(&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}))
	assert.True(t, ShouldRetry(&openai.APIError{HTTPStatusCode: http.StatusBadGateway}))
	assert.False(t, ShouldRetry(&openai.APIError{HTTPStatusCode: http.StatusUnauthorized}))
	assert.True(t, ShouldRetry(errors.New("read tcp: connection reset by peer")))
	assert.False(t, ShouldRetry(errors.New("invalid json")))
}

func TestDetermineFileType(t *testing.T) {
	cases := map[string]FileType{
		"index.html":          FileHTML,
		"styles/Main.CSS":     FileCSS,
		"src/app.tsx":         FileTSX,
		"vite.config.ts":      FileTS,
		"tailwind.config.cjs": FileConfig,
		"logo.png":            FileImage,
		"Makefile":            FileUnknown,
	}
	for name, want := range cases {
		assert.Equal(t, want, DetermineFileType(name), name)
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/html; charset=utf-8", ContentType("index.htm"))
	assert.Equal(t, "text/javascript; charset=utf-8", ContentType("app.jsx"))
	assert.Equal(t, "image/svg+xml", ContentType("icon.svg"))
	assert.Equal(t, "text/plain; charset=utf-8", ContentType("notes"))
}
