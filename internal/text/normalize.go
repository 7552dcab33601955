package text

import (
	"strings"
	"unicode"
)

// Normalize strips NUL bytes and collapses every whitespace run to a single
// space, or to a single newline when the run contained one.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")

	var b strings.Builder
	b.Grow(len(s))

	inSpace, sawNewline := false, false
	flush := func() {
		if !inSpace {
			return
		}
		if sawNewline {
			b.WriteByte('\n')
		} else {
			b.WriteByte(' ')
		}
		inSpace, sawNewline = false, false
	}

	for _, r := range s {
		if unicode.IsSpace(r) {
			inSpace = true
			if r == '\n' {
				sawNewline = true
			}
			continue
		}
		flush()
		b.WriteRune(r)
	}

	return strings.TrimSpace(b.String())
}

func WordCount(s string) int {
	return len(strings.Fields(s))
}
