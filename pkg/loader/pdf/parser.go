// Package pdf extracts text from PDF files with the poppler command line
// tools, which must be on PATH.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	extractTimeout = 60 * time.Second
	infoTimeout    = 10 * time.Second
)

var ErrToolMissing = errors.New("pdf tool not found in PATH")

// withTempPDF writes input to a private temp dir and calls fn with the path.
func withTempPDF(input []byte, fn func(path string) error) error {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("nanoid: %w", err)
	}
	dir := filepath.Join(os.TempDir(), "ingest-pdf-"+id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir tmp: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(path, input, 0o600); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return fn(path)
}

func command(ctx context.Context, name string, args ...string) (*exec.Cmd, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrToolMissing, name)
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "LANG=C.UTF-8", "LC_ALL=C.UTF-8")
	return cmd, nil
}

// Parse returns the text layer of a PDF. Scanned PDFs without a text layer
// yield an empty string.
func Parse(ctx context.Context, input []byte) (string, error) {
	var text string
	err := withTempPDF(input, func(path string) error {
		ctx, cancel := context.WithTimeout(ctx, extractTimeout)
		defer cancel()

		cmd, err := command(ctx, "pdftotext", "-enc", "UTF-8", "-eol", "unix", "-nopgbrk", "-q", path, "-")
		if err != nil {
			return err
		}
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		out, err := cmd.Output()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("pdftotext timed out after %s", extractTimeout)
		}
		if err != nil {
			return fmt.Errorf("pdftotext failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		text = string(out)
		return nil
	})
	return text, err
}

// CountPages returns the page count reported by pdfinfo.
func CountPages(ctx context.Context, input []byte) (int, error) {
	var pages int
	err := withTempPDF(input, func(path string) error {
		ctx, cancel := context.WithTimeout(ctx, infoTimeout)
		defer cancel()

		cmd, err := command(ctx, "pdfinfo", path)
		if err != nil {
			return err
		}
		out, err := cmd.Output()
		if err != nil {
			return fmt.Errorf("pdfinfo failed: %w", err)
		}
		n, ok := parsePages(string(out))
		if !ok {
			return fmt.Errorf("pdfinfo output has no page count")
		}
		pages = n
		return nil
	})
	return pages, err
}

func parsePages(info string) (int, bool) {
	for line := range strings.SplitSeq(info, "\n") {
		rest, ok := strings.CutPrefix(line, "Pages:")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
