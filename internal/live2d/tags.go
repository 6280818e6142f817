package live2d

import (
	"sort"
	"strings"
)

// ExpressionList scans text for bracketed emotion tags and returns the
// mapped expression indexes in order of appearance. Matching is
// case-insensitive; unknown tags are ignored.
func ExpressionList(text string, emoMap map[string]int) []int {
	var out []int
	for _, tag := range scanTags(text) {
		if idx, ok := lookupTag(emoMap, tag); ok {
			out = append(out, idx)
		}
	}
	return out
}

// StripTags removes every recognized emotion tag from text. Bracketed
// tokens that are not emotion keywords are left alone.
func StripTags(text string, emoMap map[string]int) string {
	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(text); {
		if text[i] != '[' {
			b.WriteByte(text[i])
			i++
			continue
		}
		end := strings.IndexByte(text[i:], ']')
		if end < 0 {
			b.WriteString(text[i:])
			break
		}
		token := text[i+1 : i+end]
		if _, ok := lookupTag(emoMap, token); ok {
			i += end + 1
			continue
		}
		b.WriteString(text[i : i+end+1])
		i += end + 1
	}
	return b.String()
}

// TagHint formats the known emotion keywords for inclusion in a system
// prompt, e.g. "[joy], [anger], [neutral],".
func TagHint(emoMap map[string]int) string {
	keys := make([]string, 0, len(emoMap))
	for key := range emoMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, key := range keys {
		parts[i] = "[" + key + "],"
	}
	return strings.Join(parts, " ")
}

// scanTags extracts the inner text of every bracketed token, left to
// right.
func scanTags(text string) []string {
	var tags []string
	for i := 0; i < len(text); {
		if text[i] != '[' {
			i++
			continue
		}
		end := strings.IndexByte(text[i:], ']')
		if end < 0 {
			break
		}
		tags = append(tags, text[i+1:i+end])
		i += end + 1
	}
	return tags
}

func lookupTag(emoMap map[string]int, tag string) (int, bool) {
	lowered := strings.ToLower(strings.TrimSpace(tag))
	for key, idx := range emoMap {
		if strings.ToLower(key) == lowered {
			return idx, true
		}
	}
	return 0, false
}
