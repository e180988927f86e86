package mcp

import (
	"path/filepath"
	"strings"
)

var mimeTypes = map[string]string{
	".txt":  "text/plain",
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// MimeTypeForPath returns the MIME type of a document by extension.
func MimeTypeForPath(path string) string {
	if t, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}
	return "application/octet-stream"
}

// isText reports whether a document can be returned as text as is.
func isText(path string) bool {
	return strings.HasPrefix(MimeTypeForPath(path), "text/")
}
