package extraction

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
)

// Document is a plain-text rendering of one source file. Source is the
// file's base name; it becomes the chunk tag cited in answers.
type Document struct {
	Text   string
	Source string
}

// Extract reads a single file and returns its plain text. Unsupported
// formats yield an error.
func Extract(ctx context.Context, path string) (Document, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return Document{}, fmt.Errorf("unsupported format: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read file: %w", err)
	}

	text, err := parse(ctx, format, data)
	if err != nil {
		return Document{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	return Document{Text: text, Source: filepath.Base(path)}, nil
}

// ExtractDirectory walks dir and extracts every supported file. Per-file
// failures are logged and skipped; only the walk itself can fail the
// call.
func ExtractDirectory(ctx context.Context, dir string, logger *log.Logger) ([]Document, error) {
	if logger == nil {
		logger = log.Default()
	}

	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("data directory: %w", err)
	}

	var docs []Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if DetectFormat(path) == FormatUnknown {
			return nil
		}

		doc, err := Extract(ctx, path)
		if err != nil {
			logger.Printf("skip %s: %v", path, err)
			return nil
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk data directory: %w", err)
	}

	return docs, nil
}

func parse(ctx context.Context, format Format, data []byte) (string, error) {
	switch format {
	case FormatText, FormatMarkdown:
		return normalizePlainText(string(data)), nil
	case FormatPDF:
		return parsePDF(ctx, data)
	case FormatCSV:
		return parseCSV(data)
	default:
		return "", fmt.Errorf("no parser for format %q", format)
	}
}
