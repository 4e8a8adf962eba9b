package extract

import (
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Unescape decodes JSON string escapes in a single left-to-right pass, so a
// literal backslash followed by "n" in the source (`\\n`) stays a backslash
// and an "n". Unknown escapes are kept as written.
func Unescape(s string) string {
	if strings.IndexByte(s, '\\') < 0 {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '"':
			sb.WriteByte('"')
		case '\\':
			sb.WriteByte('\\')
		case '/':
			sb.WriteByte('/')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'u':
			r, n := decodeUnicode(s[i+1:])
			if n == 0 {
				sb.WriteString(`\u`)
				continue
			}
			sb.WriteRune(r)
			i += n
		default:
			sb.WriteByte('\\')
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

// decodeUnicode reads the hex digits after `\u`, joining surrogate pairs.
// It returns the number of bytes consumed, zero if the escape is malformed.
func decodeUnicode(s string) (rune, int) {
	r, ok := hex4(s)
	if !ok {
		return 0, 0
	}
	if utf16.IsSurrogate(r) {
		if len(s) >= 10 && s[4] == '\\' && s[5] == 'u' {
			if r2, ok := hex4(s[6:]); ok {
				if dec := utf16.DecodeRune(r, r2); dec != utf8.RuneError {
					return dec, 10
				}
			}
		}
		return utf8.RuneError, 4
	}
	return r, 4
}

func hex4(s string) (rune, bool) {
	if len(s) < 4 {
		return 0, false
	}
	v, err := strconv.ParseUint(s[:4], 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(v), true
}

// stringEnd returns the index of the quote closing the string that opens at
// s[open]. ok is false while the string is still arriving.
func stringEnd(s string, open int) (int, bool) {
	for i := open + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i, true
		}
	}
	return 0, false
}

// matchingClose returns the index of the bracket closing the one at
// s[open], ignoring brackets inside strings, or -1.
func matchingClose(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '"':
			end, ok := stringEnd(s, i)
			if !ok {
				return -1
			}
			i = end
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func skipSpace(s string, i int) int {
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}

// topLevelKeys maps each key of the outermost object to the offset where
// its value starts. Keys are reported as soon as their colon has arrived;
// scanning stops at the first unterminated string.
func topLevelKeys(s string) map[string]int {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil
	}
	keys := make(map[string]int)
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '"':
			end, ok := stringEnd(s, i)
			if !ok {
				return keys
			}
			if depth == 1 {
				j := skipSpace(s, end+1)
				if j < len(s) && s[j] == ':' {
					key := Unescape(s[i+1 : end])
					if _, seen := keys[key]; !seen {
						keys[key] = skipSpace(s, j+1)
					}
				}
			}
			i = end
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return keys
			}
		}
	}
	return keys
}

// scanPairs walks `"path": "content"` pairs in the body of an object,
// calling fn for each pair whose value has fully arrived. It stops at the
// first value still being streamed or at anything that is not a string.
func scanPairs(body string, fn func(path, content string)) {
	i := 0
	for {
		for i < len(body) && (body[i] == ',' || body[i] == ' ' || body[i] == '\n' || body[i] == '\r' || body[i] == '\t') {
			i++
		}
		if i >= len(body) || body[i] != '"' {
			return
		}
		keyEnd, ok := stringEnd(body, i)
		if !ok {
			return
		}
		j := skipSpace(body, keyEnd+1)
		if j >= len(body) || body[j] != ':' {
			return
		}
		j = skipSpace(body, j+1)
		if j >= len(body) || body[j] != '"' {
			return
		}
		valEnd, ok := stringEnd(body, j)
		if !ok {
			return
		}
		fn(Unescape(body[i+1:keyEnd]), Unescape(body[j+1:valEnd]))
		i = valEnd + 1
	}
}
