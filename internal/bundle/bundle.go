package bundle

import (
	"regexp"
	"strings"

	"prompt2web_server/internal/types"
	"prompt2web_server/internal/utils"
)

// includeTag matches a stylesheet link (group 1 holds its href) or an empty
// script include (group 2 holds its src).
var includeTag = regexp.MustCompile(`(?is)<link\b[^>]*\bhref\s*=\s*["']([^"']*)["'][^>]*>` +
	`|<script\b[^>]*\bsrc\s*=\s*["']([^"']*)["'][^>]*>\s*</script\s*>`)

// Bundle returns the entry file with every local stylesheet link and
// script include replaced by the referenced file's content. Tags are
// matched once against the entry file, so inlined content is never
// rewritten.
func Bundle(files types.FileSet, entry string) string {
	doc := files[entry]
	matches := includeTag.FindAllStringSubmatchIndex(doc, -1)
	if len(matches) == 0 {
		return doc
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		inline, ok := inlineFor(files, entry, doc, m)
		if !ok {
			continue
		}
		sb.WriteString(doc[last:m[0]])
		sb.WriteString(inline)
		last = m[1]
	}
	sb.WriteString(doc[last:])
	return sb.String()
}

func inlineFor(files types.FileSet, entry, doc string, m []int) (string, bool) {
	if m[2] >= 0 {
		path := localPath(doc[m[2]:m[3]])
		content, ok := files[path]
		if !ok || path == entry || utils.DetermineFileType(path) != utils.FileCSS {
			return "", false
		}
		return "<style>" + content + "</style>", true
	}

	path := localPath(doc[m[4]:m[5]])
	content, ok := files[path]
	if !ok || path == entry {
		return "", false
	}
	switch utils.DetermineFileType(path) {
	case utils.FileJS, utils.FileTS, utils.FileTSX:
		return `<script type="module">` + content + "</script>", true
	}
	return "", false
}

// localPath drops a leading "./" or "/" so references resolve against the
// file set keys.
func localPath(ref string) string {
	if strings.HasPrefix(ref, "./") {
		return ref[2:]
	}
	return strings.TrimPrefix(ref, "/")
}
