// Package doc extracts text from Office Open XML word documents by walking
// word/document.xml. Paragraphs become lines, table cells are tab separated
// and deleted revisions are skipped. Heading styles are rendered as markdown
// headings so later steps can pick up the structure.
package doc

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const documentXMLMax = 50 << 20

var ErrNoDocument = errors.New("word/document.xml not found")

type walker struct {
	out  strings.Builder
	para strings.Builder

	inText       bool
	delDepth     int
	tableDepth   int
	cellIdx      int
	headingLevel int
}

func (w *walker) visible() bool {
	return w.delDepth == 0
}

func (w *walker) flushParagraph() {
	text := strings.TrimRight(w.para.String(), " \t")
	w.para.Reset()

	if w.headingLevel > 0 && strings.TrimSpace(text) != "" && w.tableDepth == 0 {
		w.out.WriteString(strings.Repeat("#", w.headingLevel))
		w.out.WriteByte(' ')
		text = strings.TrimSpace(text)
	}
	w.headingLevel = 0

	w.out.WriteString(text)
	if w.tableDepth == 0 {
		w.out.WriteByte('\n')
	}
}

func (w *walker) start(t xml.StartElement) {
	switch t.Name.Local {
	case "del":
		w.delDepth++
	case "t":
		w.inText = true
	case "tab":
		if w.visible() {
			w.para.WriteByte('\t')
		}
	case "br", "cr":
		if w.visible() {
			w.para.WriteByte('\n')
		}
	case "noBreakHyphen":
		if w.visible() {
			w.para.WriteByte('-')
		}
	case "pStyle":
		w.headingLevel = headingLevel(attr(t, "val"))
	case "tbl":
		if w.tableDepth == 0 && w.out.Len() > 0 && !strings.HasSuffix(w.out.String(), "\n") {
			w.out.WriteByte('\n')
		}
		w.tableDepth++
	case "tr":
		w.cellIdx = 0
	case "tc":
		if w.tableDepth > 0 && w.visible() {
			if w.cellIdx > 0 {
				w.out.WriteByte('\t')
			}
			w.cellIdx++
		}
	}
}

func (w *walker) end(t xml.EndElement) {
	switch t.Name.Local {
	case "t":
		w.inText = false
	case "p":
		if w.visible() {
			w.flushParagraph()
		} else {
			w.para.Reset()
		}
	case "tr":
		if w.visible() {
			w.out.WriteByte('\n')
		}
	case "tbl":
		if w.tableDepth > 0 {
			w.tableDepth--
		}
		if w.tableDepth == 0 {
			w.out.WriteByte('\n')
		}
	case "del":
		if w.delDepth > 0 {
			w.delDepth--
		}
	}
}

// Parse returns the text of a .docx file.
func Parse(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx: %w", err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", ErrNoDocument
	}
	if docFile.UncompressedSize64 > documentXMLMax {
		return "", fmt.Errorf("document.xml too large: %d bytes", docFile.UncompressedSize64)
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open document.xml: %w", err)
	}
	defer rc.Close()

	return walk(io.LimitReader(rc, documentXMLMax))
}

func walk(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	w := &walker{}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			w.start(t)
		case xml.EndElement:
			w.end(t)
		case xml.CharData:
			if w.inText && w.visible() {
				w.para.Write(t)
			}
		}
	}

	return strings.TrimSpace(w.out.String()), nil
}

func attr(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// headingLevel maps style ids like "Heading1" or "Title" to a level.
func headingLevel(style string) int {
	s := strings.ToLower(style)
	if s == "title" {
		return 1
	}
	rest, ok := strings.CutPrefix(s, "heading")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || n < 1 {
		return 0
	}
	return min(n, 6)
}
