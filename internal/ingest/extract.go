// Package ingest turns uploaded files into stored documents and indexed
// chunks.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html/charset"
)

// ErrUnsupportedFormat is returned for files whose extension has no extractor.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// maxExtractLen bounds the text kept from a single file.
const maxExtractLen = 2 << 20

// ExtractText returns the plain text of a file, choosing the extractor by
// extension.
func ExtractText(filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	var (
		text string
		err  error
	)
	switch ext {
	case ".pdf":
		text, err = extractPDF(data)
	case ".html", ".htm":
		text, err = extractHTML(data)
	case ".docx":
		text, err = extractDOCX(data)
	case ".txt", ".md", ".eml", ".csv":
		text = extractPlain(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", filename, err)
	}

	text = strings.TrimSpace(text)
	if len(text) > maxExtractLen {
		slog.Default().Warn("extracted text truncated",
			"filename", filename, "length", len(text), "limit", maxExtractLen)
		text = truncateUTF8(text, maxExtractLen)
	}
	return text, nil
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return string(b), nil
}

func extractHTML(data []byte) (string, error) {
	// Decode to UTF-8 using the meta charset or content sniffing.
	r, err := charset.NewReader(bytes.NewReader(data), "text/html")
	if err != nil {
		return "", fmt.Errorf("detecting charset: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	doc.Find("script, style, nav, noscript, iframe").Remove()

	var blocks []string
	doc.Find("title, h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		// Nested matches are covered by their outermost block.
		if s.ParentsFiltered("p, li, td, th, pre, blockquote").Length() > 0 {
			return
		}
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			blocks = append(blocks, t)
		}
	})
	if len(blocks) == 0 {
		return strings.Join(strings.Fields(doc.Find("body").Text()), " "), nil
	}
	return strings.Join(blocks, "\n\n"), nil
}

func extractPlain(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return strings.ReplaceAll(string(data), "\r\n", "\n")
	}
	return strings.ReplaceAll(strings.ToValidUTF8(string(data), "�"), "\r\n", "\n")
}

func truncateUTF8(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// SupportedExtension reports whether ExtractText can handle filename.
func SupportedExtension(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".html", ".htm", ".docx", ".txt", ".md", ".eml", ".csv":
		return true
	}
	return false
}
