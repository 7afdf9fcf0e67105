package loader

import (
	"regexp"
	"strings"
)

var reBlankRuns = regexp.MustCompile(`\n{3,}`)

// NormalizeText unifies line endings, trims trailing spaces per line and
// collapses runs of blank lines. NUL bytes and invalid UTF-8 are dropped,
// Postgres text columns reject both.
func NormalizeText(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")
	s = reBlankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
