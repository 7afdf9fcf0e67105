// Package text decodes plain text and markdown files of unknown charset to
// UTF-8.
package text

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

// ErrBinary is returned for content that does not look like text.
var ErrBinary = errors.New("content is not text")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decoded is text converted to UTF-8 along with what was detected.
type Decoded struct {
	Text       string
	Encoding   string
	Language   string
	Confidence float64
}

// Decode converts content to UTF-8. Valid UTF-8 is taken as is with
// confidence 1; otherwise the charset is detected and the confidence is the
// detector's.
func Decode(content []byte) (Decoded, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	if bytes.IndexByte(content, 0) >= 0 && !looksLikeUTF16(content) {
		return Decoded{}, ErrBinary
	}
	if utf8.Valid(content) {
		return Decoded{Text: string(content), Encoding: "utf-8", Confidence: 1}, nil
	}

	best, err := chardet.NewTextDetector().DetectBest(content)
	if err != nil {
		return Decoded{}, fmt.Errorf("failed to detect charset: %w", err)
	}

	enc, err := htmlindex.Get(best.Charset)
	if err != nil {
		return Decoded{}, fmt.Errorf("unsupported charset %q: %w", best.Charset, err)
	}
	out, err := enc.NewDecoder().Bytes(content)
	if err != nil {
		return Decoded{}, fmt.Errorf("failed to decode %s: %w", best.Charset, err)
	}

	name, err := htmlindex.Name(enc)
	if err != nil {
		name = strings.ToLower(best.Charset)
	}
	return Decoded{
		Text:       string(out),
		Encoding:   name,
		Language:   best.Language,
		Confidence: float64(best.Confidence) / 100,
	}, nil
}

func looksLikeUTF16(content []byte) bool {
	return bytes.HasPrefix(content, []byte{0xFF, 0xFE}) || bytes.HasPrefix(content, []byte{0xFE, 0xFF})
}

// MarkdownTitle returns the text of the first level one heading.
func MarkdownTitle(s string) (string, bool) {
	for line := range strings.SplitSeq(s, "\n") {
		line = strings.TrimSpace(line)
		if title, ok := strings.CutPrefix(line, "# "); ok {
			title = strings.TrimSpace(strings.TrimRight(title, "#"))
			if title != "" {
				return title, true
			}
		}
	}
	return "", false
}

// MarkdownHeadings returns all ATX headings in document order.
func MarkdownHeadings(s string) []string {
	var out []string
	inFence := false
	for line := range strings.SplitSeq(s, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "```") || strings.HasPrefix(line, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence || !strings.HasPrefix(line, "#") {
			continue
		}
		level := len(line) - len(strings.TrimLeft(line, "#"))
		if level > 6 || len(line) == level || line[level] != ' ' {
			continue
		}
		if h := strings.TrimSpace(strings.TrimRight(line[level:], "#")); h != "" {
			out = append(out, h)
		}
	}
	return out
}
