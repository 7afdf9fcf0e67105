package pipeline

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var tableDelimiter = regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)+\|?\s*$`)

// sentenceSplitter accumulates lines into sentences. Sentences may span
// lines; a blank line always ends one. Markdown tables with a delimiter row
// are kept together as a single sentence.
type sentenceSplitter struct {
	out     []string
	current strings.Builder
	inTable bool
}

func (s *sentenceSplitter) flush() {
	if t := strings.TrimSpace(s.current.String()); t != "" {
		s.out = append(s.out, t)
	}
	s.current.Reset()
}

func (s *sentenceSplitter) addProse(line string) {
	for _, part := range splitLine(line) {
		if s.current.Len() > 0 {
			s.current.WriteByte(' ')
		}
		s.current.WriteString(part)
		if endsSentence(part) {
			s.flush()
		}
	}
}

func isTableRow(line string) bool {
	t := strings.TrimSpace(line)
	return t != "" && strings.Contains(t, "|")
}

func endsSentence(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?")
}

// splitSentences breaks extracted text into trimmed, non-empty sentences in
// document order.
func splitSentences(text string) []string {
	lines := strings.Split(text, "\n")
	s := &sentenceSplitter{}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if s.inTable {
			if isTableRow(line) {
				s.current.WriteByte('\n')
				s.current.WriteString(line)
				continue
			}
			s.inTable = false
			s.flush()
		}

		switch {
		case trimmed == "":
			s.flush()
		case isTableRow(line) && i+1 < len(lines) && tableDelimiter.MatchString(strings.TrimSpace(lines[i+1])):
			s.flush()
			s.inTable = true
			s.current.WriteString(line)
		case isTableRow(line):
			s.flush()
			s.out = append(s.out, trimmed)
		default:
			s.addProse(trimmed)
		}
	}
	s.flush()
	return s.out
}

// splitLine cuts a single line after sentence punctuation. A digit followed
// by a period and a space is a list marker, not a sentence end. Trailing
// punctuation runs and closing quotes or brackets stay with their sentence.
func splitLine(line string) []string {
	var out []string
	var current strings.Builder

	for i := 0; i < len(line); i++ {
		c := line[i]
		current.WriteByte(c)
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i > 0 && unicode.IsDigit(rune(line[i-1])) && i+1 < len(line) && line[i+1] == ' ' {
			continue
		}

		j := i + 1
		for j < len(line) && strings.IndexByte(".!?", line[j]) >= 0 {
			current.WriteByte(line[j])
			j++
		}
		for j < len(line) && strings.IndexByte("\"')]}", line[j]) >= 0 {
			current.WriteByte(line[j])
			j++
		}

		if t := strings.TrimSpace(current.String()); t != "" {
			out = append(out, t)
		}
		current.Reset()
		i = j - 1
	}

	if t := strings.TrimSpace(current.String()); t != "" {
		out = append(out, t)
	}
	return out
}

// meaningfulSentences keeps sentences longer than minSentenceLength runes.
func meaningfulSentences(text string) []string {
	var out []string
	for _, s := range splitSentences(text) {
		if utf8.RuneCountInString(s) > minSentenceLength {
			out = append(out, s)
		}
	}
	return out
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
