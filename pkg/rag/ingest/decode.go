package ingest

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/dslipak/pdf"

	"github.com/liliang-cn/graphmem/pkg/domain"
)

// DecodeText extracts plain text from an uploaded file. Markdown, text and
// CSV pass through; PDF goes through text extraction; HTML is converted to
// markdown so headings survive for the chunker.
func DecodeText(filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return decodePDF(data)
	case ".html", ".htm":
		return decodeHTML(data)
	case ".txt", ".md", ".markdown", ".csv", ".json", ".yaml", ".yml", ".log", "":
		return decodePlain(data)
	default:
		// Unknown extensions are accepted when the payload is valid text.
		return decodePlain(data)
	}
}

func decodePlain(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: file is not valid UTF-8 text", domain.ErrInvalidInput)
	}
	return string(data), nil
}

func decodePDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: unreadable PDF: %v", domain.ErrInvalidInput, err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: PDF text extraction failed: %v", domain.ErrInvalidInput, err)
	}
	var b strings.Builder
	if _, err := io.Copy(&b, plain); err != nil {
		return "", fmt.Errorf("%w: PDF text extraction failed: %v", domain.ErrInvalidInput, err)
	}
	return b.String(), nil
}

func decodeHTML(data []byte) (string, error) {
	markdown, err := htmltomarkdown.ConvertString(string(data))
	if err != nil {
		return "", fmt.Errorf("%w: HTML conversion failed: %v", domain.ErrInvalidInput, err)
	}
	return markdown, nil
}
