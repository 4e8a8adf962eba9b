package utils

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ShouldRetry reports whether an upstream failure is worth one more attempt.
// Only errors raised before any bytes were streamed are ever retried.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var openAIErr *openai.APIError
	if errors.As(err, &openAIErr) {
		return RetryableStatus(openAIErr.HTTPStatusCode)
	}
	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "rate limit") ||
		strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "connection reset by peer") {
		return true
	}
	return false
}

// RetryableStatus is true for rate limiting and server-side failures.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// FileType classifies a generated file by extension.
type FileType string

const (
	FileHTML     FileType = "HTML"
	FileCSS      FileType = "CSS"
	FileJS       FileType = "JavaScript"
	FileJSX      FileType = "JSX"
	FileTS       FileType = "TypeScript"
	FileTSX      FileType = "TSX"
	FileJSON     FileType = "JSON"
	FileMarkdown FileType = "Markdown"
	FileText     FileType = "Text"
	FileSVG      FileType = "SVG"
	FileImage    FileType = "Image"
	FileConfig   FileType = "Config"
	FileUnknown  FileType = "Unknown"
)

// DetermineFileType maps a path to its FileType.
func DetermineFileType(filename string) FileType {
	lowerFilename := strings.ToLower(filename)
	switch filepath.Ext(lowerFilename) {
	case ".html", ".htm":
		return FileHTML
	case ".css":
		return FileCSS
	case ".js", ".mjs":
		return FileJS
	case ".jsx":
		return FileJSX
	case ".ts":
		return FileTS
	case ".tsx":
		return FileTSX
	case ".json":
		return FileJSON
	case ".md":
		return FileMarkdown
	case ".txt":
		return FileText
	case ".svg":
		return FileSVG
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return FileImage
	default:
		base := filepath.Base(lowerFilename)
		if strings.Contains(base, "vite.config") || strings.Contains(base, "tailwind.config") {
			return FileConfig
		}
		return FileUnknown
	}
}

// ContentType is the MIME type used when serving a generated file.
func ContentType(filename string) string {
	switch DetermineFileType(filename) {
	case FileHTML:
		return "text/html; charset=utf-8"
	case FileCSS:
		return "text/css; charset=utf-8"
	case FileJS, FileJSX, FileTS, FileTSX:
		return "text/javascript; charset=utf-8"
	case FileJSON:
		return "application/json"
	case FileSVG:
		return "image/svg+xml"
	default:
		return "text/plain; charset=utf-8"
	}
}
