package bundle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prompt2web_server/internal/types"
)

func TestBundleInlinesStylesAndScripts(t *testing.T) {
	files := types.FileSet{
		"index.html":      `<html><head><link href="styles/main.css"></head><body><script src="scripts/app.js"></script></body></html>`,
		"styles/main.css": "body{color:red}",
		"scripts/app.js":  "console.log(1)",
	}
	doc := Bundle(files, "index.html")

	assert.Contains(t, doc, "<style>body{color:red}</style>")
	assert.Contains(t, doc, `<script type="module">console.log(1)</script>`)
	assert.NotContains(t, doc, "styles/main.css")
	assert.NotContains(t, doc, "scripts/app.js")
}

func TestBundleAttributeVariants(t *testing.T) {
	files := types.FileSet{
		"index.html": `<link rel="stylesheet" href='./a.css' /><SCRIPT defer src="/b.tsx">
</SCRIPT><script src="https://cdn.example.com/x.js"></script>`,
		"a.css": "a{}",
		"b.tsx": "const b = 1",
	}
	doc := Bundle(files, "index.html")

	assert.Contains(t, doc, "<style>a{}</style>")
	assert.Contains(t, doc, `<script type="module">const b = 1</script>`)
	assert.Contains(t, doc, "https://cdn.example.com/x.js")
}

func TestBundlePathsAreLiteral(t *testing.T) {
	files := types.FileSet{
		"index.html": `<link href="a.css"><link href="a+css">`,
		"a.css":      "x",
	}
	doc := Bundle(files, "index.html")
	assert.Equal(t, `<style>x</style><link href="a+css">`, doc)

	files = types.FileSet{
		"index.html": `<link href="aXcss">`,
		"a.css":      "x",
	}
	assert.Equal(t, `<link href="aXcss">`, Bundle(files, "index.html"))
}

func TestBundleDoesNotExpandReplacementTemplates(t *testing.T) {
	files := types.FileSet{
		"index.html": `<script src="app.js"></script>`,
		"app.js":     "const price = '$1' + `${x}`",
	}
	assert.Equal(t, "<script type=\"module\">const price = '$1' + `${x}`</script>", Bundle(files, "index.html"))
}

func TestBundleLeavesInlinedContentAlone(t *testing.T) {
	files := types.FileSet{
		"index.html":      `<link href="styles/main.css"><script src="scripts/app.js"></script>`,
		"styles/main.css": "body{color:red}",
		"scripts/app.js":  `const tpl = '<link href="styles/main.css">'`,
	}
	doc := Bundle(files, "index.html")

	assert.Equal(t, `<style>body{color:red}</style>`+
		`<script type="module">const tpl = '<link href="styles/main.css">'</script>`, doc)
}

func TestBundleSkipsNonStylesheetLinks(t *testing.T) {
	files := types.FileSet{
		"index.html": `<link rel="icon" href="logo.svg"><script src="data.json"></script>`,
		"logo.svg":   "<svg/>",
		"data.json":  "{}",
	}
	assert.Equal(t, files["index.html"], Bundle(files, "index.html"))
}

func TestBundleMissingEntry(t *testing.T) {
	assert.Empty(t, Bundle(types.FileSet{"a.css": "x"}, "index.html"))
}

func TestFinalizeStrictParse(t *testing.T) {
	text := "```json\n" + `{"overview":"Shop","steps":[{"title":"A","description":"d"}],"files":{"src/index.html":"<p>","index.html":"<h1>"}}` + "\n```"
	res := Finalize(text, nil)

	require.NoError(t, res.Err)
	assert.False(t, res.Fallback)
	assert.Equal(t, "Shop", res.Overview)
	assert.Equal(t, "src/index.html", res.IndexFile)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, types.StepComplete, res.Steps[0].Status)
}

func TestFinalizeDeclaredIndexMustExist(t *testing.T) {
	res := Finalize(`{"files":{"home.html":"x","index.html":"y"},"indexFile":"missing.html"}`, nil)
	assert.Equal(t, "index.html", res.IndexFile)

	res = Finalize(`{"files":{"home.html":"x"},"indexFile":"home.html"}`, nil)
	assert.Equal(t, "home.html", res.IndexFile)

	res = Finalize(`{"files":{"app.js":"x"}}`, nil)
	assert.Equal(t, DefaultIndexFile, res.IndexFile)
}

func TestFinalizeCompletesKnownStepsWhenAbsent(t *testing.T) {
	known := []types.PlanStep{
		{Title: "A", Status: types.StepActive},
		{Title: "B", Status: types.StepPending},
	}
	res := Finalize(`{"files":{"index.html":"x"}}`, known)
	require.Len(t, res.Steps, 2)
	for _, s := range res.Steps {
		assert.Equal(t, types.StepComplete, s.Status)
	}
	assert.Equal(t, types.StepActive, known[0].Status)
}

func TestFinalizeFileList(t *testing.T) {
	text := `{"files":[{"path":"index.html","content":"<!DOCTYPE html><html><body class=\"x\">Hi</body></html>"},` +
		`{"filename":"style.css","type":"css","content":"body{}"},{"content":"nameless"}]}`
	res := Finalize(text, nil)

	require.NoError(t, res.Err)
	assert.False(t, res.Fallback)
	assert.Equal(t, types.FileSet{
		"index.html": `<!DOCTYPE html><html><body class="x">Hi</body></html>`,
		"style.css":  "body{}",
	}, res.Files)
	assert.Equal(t, "index.html", res.IndexFile)
}

func TestFinalizeLegacyCodeField(t *testing.T) {
	res := Finalize(`{"steps":[],"code":"<!DOCTYPE html><html></html>"}`, nil)
	assert.Equal(t, types.FileSet{"index.html": "<!DOCTYPE html><html></html>"}, res.Files)
	assert.False(t, res.Fallback)
}

func TestFinalizeHTMLFallback(t *testing.T) {
	text := "Sure, here you go:\n<!DOCTYPE html><html><body>Hi</body></html>\nHope that helps!"
	res := Finalize(text, nil)

	assert.NoError(t, res.Err)
	assert.True(t, res.Fallback)
	assert.Equal(t, types.FileSet{"index.html": "<!DOCTYPE html><html><body>Hi</body></html>"}, res.Files)
	assert.Equal(t, "index.html", res.IndexFile)
}

func TestFinalizeHTMLFallbackWithoutDoctype(t *testing.T) {
	res := Finalize("text <HTML lang=\"en\"><body>x</body></HTML> more", nil)
	assert.Equal(t, "<HTML lang=\"en\"><body>x</body></HTML>", res.Files["index.html"])
}

func TestFinalizeDiagnosticFallback(t *testing.T) {
	res := Finalize(`{"files": {"index.html": "unterminated`, nil)

	assert.ErrorIs(t, res.Err, ErrUnparsed)
	assert.Equal(t, DiagnosticFile, res.IndexFile)
	assert.Equal(t, `{"files": {"index.html": "unterminated`, res.Files[DiagnosticFile])
}

func TestFinalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		`{"overview":"o","files":{"b.js":"1","index.html":"2"}}`,
		"junk <html>x</html>",
		"nothing useful",
	}
	for _, in := range inputs {
		a, b := Finalize(in, nil), Finalize(in, nil)
		assert.Equal(t, a.Files, b.Files)
		assert.Equal(t, a.Overview, b.Overview)
		assert.Equal(t, a.IndexFile, b.IndexFile)
	}
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFence("  {\"a\":1} "))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Bakery site", Title("\n## Bakery site\nMore text"))
	assert.Equal(t, "Untitled project", Title("  \n "))
	long := ""
	for i := 0; i < 100; i++ {
		long += "é"
	}
	assert.Len(t, []rune(Title(long)), 80)
}
