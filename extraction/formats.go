// Package extraction turns source files into plain (text, source) pairs
// for the segmenter. Format readers are collaborators of the pipeline:
// the core only depends on the Document shape they produce.
package extraction

import (
	"path/filepath"
	"strings"
)

// Format enumerates supported document payload formats.
type Format string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown Format = ""
	// FormatText represents plain text documents.
	FormatText Format = "text"
	// FormatMarkdown represents Markdown documents, read as plain text.
	FormatMarkdown Format = "markdown"
	// FormatPDF represents PDF documents (embedded text only; no OCR).
	FormatPDF Format = "pdf"
	// FormatCSV represents comma separated values documents.
	FormatCSV Format = "csv"
)

// DetectFormat infers a document format from the provided path's extension.
func DetectFormat(path string) Format {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt":
		return FormatText
	case ".md", ".markdown":
		return FormatMarkdown
	case ".pdf":
		return FormatPDF
	case ".csv":
		return FormatCSV
	default:
		return FormatUnknown
	}
}
