// Package mimetype resolves a file's Content-Type: first by a configurable
// extension table (the usual case, and the only one the original fastpath
// implementation supported), falling back to content sniffing for
// extensionless or unrecognized files.
package mimetype

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
)

// defaultTypes seeds the table with the extensions the fastpath handler
// serves most often; callers extend it via Register for anything else.
var defaultTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".txt":  "text/plain",
	".xml":  "application/xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".pdf":  "application/pdf",
	".wasm": "application/wasm",
	".woff": "font/woff",
	".woff2": "font/woff2",
}

// Table is a case-insensitive extension-to-Content-Type map with a
// configurable default for unknown extensions.
type Table struct {
	mu          sync.RWMutex
	byExt       map[string]string
	defaultType string
}

// NewTable returns a Table seeded with the built-in defaults. defaultType is
// returned by ContentType when neither the table nor content sniffing
// recognizes the file.
func NewTable(defaultType string) *Table {
	t := &Table{
		byExt:       make(map[string]string, len(defaultTypes)),
		defaultType: defaultType,
	}
	for ext, ct := range defaultTypes {
		t.byExt[ext] = ct
	}
	return t
}

// Register adds or overrides the Content-Type for ext (with or without a
// leading dot).
func (t *Table) Register(ext, contentType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byExt[normalizeExt(ext)] = contentType
}

// Lookup returns the registered Content-Type for path's extension, or "" if
// none is registered.
func (t *Table) Lookup(path string) string {
	ext := normalizeExt(filepath.Ext(path))
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byExt[ext]
}

// ContentType resolves path's Content-Type: extension table first, then
// content sniffing against the file's first 3072 bytes (mimetype's default
// read size), then the table's default.
func (t *Table) ContentType(path string) string {
	if ct := t.Lookup(path); ct != "" {
		return ct
	}
	if mt, err := mimetype.DetectFile(path); err == nil {
		return mt.String()
	}
	return t.defaultType
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && ext[0] != '.' {
		ext = "." + ext
	}
	return ext
}
