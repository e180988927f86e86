package loader

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"

	"github.com/Aman-CERP/storyrag/internal/document"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
)

// SupportedExtensions lists the document formats the loader understands.
var SupportedExtensions = []string{".txt", ".pdf", ".docx"}

// IsSupported reports whether name has a supported extension (case-insensitive).
func IsSupported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// extractFunc turns one file into text units tagged with rel.
type extractFunc func(ctx context.Context, path, rel string) ([]document.TextUnit, error)

func extractorFor(name string) extractFunc {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return extractText
	case ".pdf":
		return extractPDF
	case ".docx":
		return extractDocx
	default:
		return nil
	}
}

func extractText(ctx context.Context, path, rel string) ([]document.TextUnit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, unreadable(rel, err)
	}
	defer func() { _ = f.Close() }()

	docs, err := documentloaders.NewText(f).Load(ctx)
	if err != nil {
		return nil, unreadable(rel, err)
	}

	units := make([]document.TextUnit, 0, len(docs))
	for _, d := range docs {
		units = append(units, document.TextUnit{Text: d.PageContent, Source: rel})
	}
	return units, nil
}

// extractPDF yields one unit per page, in page order.
func extractPDF(ctx context.Context, path, rel string) ([]document.TextUnit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, unreadable(rel, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, unreadable(rel, err)
	}

	docs, err := documentloaders.NewPDF(f, info.Size()).Load(ctx)
	if err != nil {
		return nil, corrupt(rel, "PDF", err)
	}

	units := make([]document.TextUnit, 0, len(docs))
	for i, d := range docs {
		page := i + 1
		if p, ok := d.Metadata["page"].(int); ok {
			page = p
		}
		units = append(units, document.TextUnit{Text: d.PageContent, Source: rel, Page: page})
	}
	return units, nil
}

// extractDocx reads word/document.xml and returns its paragraphs as one unit.
func extractDocx(_ context.Context, path, rel string) ([]document.TextUnit, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, corrupt(rel, "DOCX", err)
	}
	defer func() { _ = zr.Close() }()

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return nil, corrupt(rel, "DOCX", fmt.Errorf("word/document.xml missing"))
	}

	rc, err := body.Open()
	if err != nil {
		return nil, corrupt(rel, "DOCX", err)
	}
	defer func() { _ = rc.Close() }()

	text, err := docxText(rc)
	if err != nil {
		return nil, corrupt(rel, "DOCX", err)
	}
	return []document.TextUnit{{Text: text, Source: rel}}, nil
}

// docxText flattens WordprocessingML: runs of w:t are concatenated, w:tab
// becomes a tab, w:br and w:cr become newlines, and each w:p ends a line.
func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		sb     strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func unreadable(rel string, err error) error {
	return serrors.New(serrors.ErrCodeFileUnreadable, fmt.Sprintf("cannot read document %s", rel), err).
		WithDetail("path", rel)
}

func corrupt(rel, kind string, err error) error {
	return serrors.New(serrors.ErrCodeFileCorrupt, fmt.Sprintf("malformed %s document %s", kind, rel), err).
		WithDetail("path", rel)
}
