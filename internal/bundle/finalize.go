// Package bundle resolves a finished model response into a project and
// inlines its styles and scripts into a single previewable document.
package bundle

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"prompt2web_server/internal/types"
)

const (
	DefaultIndexFile = "index.html"
	DiagnosticFile   = "response.txt"
	untitled         = "Untitled project"
	maxTitleRunes    = 80
)

// ErrUnparsed means neither JSON nor an HTML document could be recovered.
// The raw response is still returned as a diagnostic file.
var ErrUnparsed = errors.New("could not fully parse the result")

var (
	fenceOpen  = regexp.MustCompile("^```[a-zA-Z]*[ \t]*\r?\n?")
	fenceClose = regexp.MustCompile("\r?\n?```$")
	doctypeDoc = regexp.MustCompile(`(?is)<!DOCTYPE html.*</html>`)
	htmlDoc    = regexp.MustCompile(`(?is)<html.*</html>`)
)

// Result is the resolved project. Err is set only when the diagnostic
// fallback was used; the session stays usable either way.
type Result struct {
	Overview  string           `json:"overview"`
	Steps     []types.PlanStep `json:"steps"`
	Files     types.FileSet    `json:"files"`
	IndexFile string           `json:"indexFile"`
	Fallback  bool             `json:"fallback"`
	Err       error            `json:"-"`
}

type document struct {
	Overview  string          `json:"overview"`
	Steps     json.RawMessage `json:"steps"`
	Files     json.RawMessage `json:"files"`
	IndexFile string          `json:"indexFile"`
	Code      string          `json:"code"`
}

// Finalize strictly parses the accumulated text. known is the step list
// shown while streaming; it is completed when the response has no steps.
// Calling Finalize twice on the same input yields identical results.
func Finalize(text string, known []types.PlanStep) Result {
	if res, ok := parseDocument(StripFence(text)); ok {
		if res.Steps == nil {
			res.Steps = completeAll(known)
		}
		return res
	}

	res := Result{Steps: completeAll(known), IndexFile: DefaultIndexFile, Fallback: true}
	if doc := findHTML(text); doc != "" {
		res.Files = types.FileSet{DefaultIndexFile: doc}
		return res
	}
	res.Files = types.FileSet{DiagnosticFile: text}
	res.IndexFile = DiagnosticFile
	res.Err = ErrUnparsed
	return res
}

// StripFence removes a Markdown code fence wrapped around the whole text.
func StripFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = fenceOpen.ReplaceAllString(t, "")
	t = fenceClose.ReplaceAllString(t, "")
	return strings.TrimSpace(t)
}

func parseDocument(text string) (Result, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return Result{}, false
	}

	var doc document
	if err := json.Unmarshal([]byte(text[start:end+1]), &doc); err != nil {
		return Result{}, false
	}

	files, order, err := decodeFiles(doc.Files)
	if err != nil {
		return Result{}, false
	}
	if len(files) == 0 && strings.TrimSpace(doc.Code) != "" {
		files = types.FileSet{DefaultIndexFile: doc.Code}
		order = []string{DefaultIndexFile}
	}
	if len(files) == 0 {
		return Result{}, false
	}

	res := Result{
		Overview:  doc.Overview,
		Files:     files,
		IndexFile: pickIndex(doc.IndexFile, files, order),
	}
	if steps, ok := decodeSteps(doc.Steps); ok {
		res.Steps = steps
	}
	return res, true
}

// generatedFile is one entry of a files list. Models use either "path" or
// "filename" for the name.
type generatedFile struct {
	Path     string          `json:"path"`
	Filename string          `json:"filename"`
	Content  json.RawMessage `json:"content"`
}

// decodeFiles accepts a files object, keeping its key order so "first
// index.html" means first in the response, or a list of generatedFile.
// Non-string contents are kept as JSON text.
func decodeFiles(raw json.RawMessage) (types.FileSet, []string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	d, _ := tok.(json.Delim)
	switch d {
	case '{':
	case '[':
		return decodeFileList(raw)
	default:
		return nil, nil, errors.New("files is neither an object nor a list")
	}

	files := types.FileSet{}
	var order []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		path, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, nil, err
		}
		order = addFile(files, order, path, value)
	}
	return files, order, nil
}

func decodeFileList(raw json.RawMessage) (types.FileSet, []string, error) {
	var list []generatedFile
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, nil, err
	}
	files := types.FileSet{}
	var order []string
	for _, f := range list {
		path := f.Path
		if path == "" {
			path = f.Filename
		}
		if path == "" {
			continue
		}
		order = addFile(files, order, path, f.Content)
	}
	return files, order, nil
}

func addFile(files types.FileSet, order []string, path string, value json.RawMessage) []string {
	var content string
	if err := json.Unmarshal(value, &content); err != nil {
		content = string(value)
	}
	if _, dup := files[path]; !dup {
		order = append(order, path)
	}
	files[path] = content
	return order
}

func decodeSteps(raw json.RawMessage) ([]types.PlanStep, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	var decoded []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil || len(decoded) == 0 {
		return nil, false
	}
	steps := make([]types.PlanStep, len(decoded))
	for i, s := range decoded {
		steps[i] = types.PlanStep{Title: s.Title, Description: s.Description, Status: types.StepComplete}
	}
	return steps, true
}

func pickIndex(declared string, files types.FileSet, order []string) string {
	if _, ok := files[declared]; ok && declared != "" {
		return declared
	}
	for _, p := range order {
		if strings.HasSuffix(p, DefaultIndexFile) {
			return p
		}
	}
	return DefaultIndexFile
}

func findHTML(text string) string {
	if m := doctypeDoc.FindString(text); m != "" {
		return m
	}
	return htmlDoc.FindString(text)
}

func completeAll(steps []types.PlanStep) []types.PlanStep {
	out := make([]types.PlanStep, len(steps))
	for i, s := range steps {
		s.Status = types.StepComplete
		out[i] = s
	}
	return out
}

// Title derives a record title from the first line of the overview.
func Title(overview string) string {
	for _, line := range strings.Split(overview, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxTitleRunes {
			line = string([]rune(line)[:maxTitleRunes])
		}
		return line
	}
	return untitled
}
