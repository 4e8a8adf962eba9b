package extract

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prompt2web_server/internal/types"
)

const fullResponse = `{
  "overview": "# Bakery\nA small \"artisan\" site",
  "steps": [
    {"title": "Layout", "description": "Grid and nav"},
    {"title": "Styles", "description": "Warm palette"}
  ],
  "files": {
    "index.html": "<html><head><link href=\"styles/main.css\"></head><body>Hi</body></html>",
    "styles/main.css": "body{color:red}\n",
    "scripts/app.js": "console.log(\"a\\\\nb\")"
  },
  "indexFile": "index.html"
}`

func TestUnescape(t *testing.T) {
	assert.Equal(t, "a\nb", Unescape(`a\nb`))
	assert.Equal(t, `a\nb`, Unescape(`a\\nb`))
	assert.Equal(t, "tab\there \"q\" /", Unescape(`tab\there \"q\" \/`))
	assert.Equal(t, "<div>", Unescape(`<div>`))
	assert.Equal(t, "😀", Unescape(`😀`))
	assert.Equal(t, `\x`, Unescape(`\x`))
	assert.Equal(t, `trailing\`, Unescape(`trailing\`))
	assert.Equal(t, `\uZZ`, Unescape(`\uZZ`))
}

func TestUnescapeRoundTrip(t *testing.T) {
	originals := []string{
		"line1\nline2\ttabbed",
		`quote " and backslash \ and literal \n text`,
		"mixed \\\" \r\n <script>&</script>",
		"unicode ✓ é 😀",
	}
	for _, orig := range originals {
		encoded, err := json.Marshal(orig)
		require.NoError(t, err)
		inner := string(encoded[1 : len(encoded)-1])
		assert.Equal(t, orig, Unescape(inner))
	}
}

func TestUpdateOnCompleteDocument(t *testing.T) {
	h := NewHeuristic()
	snap := h.Update(fullResponse)

	assert.True(t, snap.Changed)
	assert.Equal(t, "# Bakery\nA small \"artisan\" site", snap.Overview)
	require.Len(t, snap.Steps, 2)
	assert.Equal(t, types.StepActive, snap.Steps[0].Status)
	assert.Equal(t, types.StepPending, snap.Steps[1].Status)
	assert.Equal(t, "body{color:red}\n", snap.Files["styles/main.css"])
	assert.Equal(t, `console.log("a\\nb")`, snap.Files["scripts/app.js"])
	assert.Len(t, snap.Files, 3)

	again := h.Update(fullResponse)
	assert.False(t, again.Changed)
}

func TestUpdateIsPrefixTolerant(t *testing.T) {
	h := NewHeuristic()
	var last Snapshot
	for i := 0; i <= len(fullResponse); i++ {
		assert.NotPanics(t, func() { last = h.Update(fullResponse[:i]) })
	}
	assert.Len(t, last.Files, 3)
	assert.Equal(t, "<html><head><link href=\"styles/main.css\"></head><body>Hi</body></html>", last.Files["index.html"])
}

func TestTruncatedFileKeepsEarlierEntries(t *testing.T) {
	h := NewHeuristic()
	cut := strings.Index(fullResponse, `"scripts/app.js": "console`) + len(`"scripts/app.js": "console`)
	snap := h.Update(fullResponse[:cut])

	assert.Equal(t, "body{color:red}\n", snap.Files["styles/main.css"])
	assert.Contains(t, snap.Files, "index.html")
	assert.NotContains(t, snap.Files, "scripts/app.js")
}

func TestStepsWaitForClosingBracket(t *testing.T) {
	h := NewHeuristic()
	cut := strings.Index(fullResponse, `{"title": "Styles"`)
	snap := h.Update(fullResponse[:cut])
	assert.Empty(t, snap.Steps)
	assert.NotEmpty(t, snap.Overview)
}

func TestKeysInsideStringsAreIgnored(t *testing.T) {
	h := NewHeuristic()
	snap := h.Update(`{"overview": "mentions \"files\": {\"x\": \"y\"}", "files": {"a.txt": "ok"}}`)
	assert.Equal(t, types.FileSet{"a.txt": "ok"}, snap.Files)
}

func TestFencedAndProseWrappedText(t *testing.T) {
	h := NewHeuristic()
	snap := h.Update("Here you go:\n```json\n{\"files\": {\"index.html\": \"<p>x</p>\"}}\n```")
	assert.Equal(t, "<p>x</p>", snap.Files["index.html"])
}

func TestGarbageNeverPanics(t *testing.T) {
	h := NewHeuristic()
	for _, s := range []string{"", "{", `{"files":`, `{"files": {"a": 1}}`, `{"steps": [}`, `{"overview": 12}`, "}}}{{{"} {
		assert.NotPanics(t, func() { h.Update(s) })
	}
}

func TestReset(t *testing.T) {
	h := NewHeuristic()
	h.Update(fullResponse)
	h.Reset()
	snap := h.Update("")
	assert.Empty(t, snap.Overview)
	assert.Empty(t, snap.Steps)
	assert.Empty(t, snap.Files)
}
