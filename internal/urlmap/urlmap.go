// Package urlmap maps request URL paths to filesystem paths beneath a
// document root, rejecting any path that would escape it, and enumerates
// the directory-index candidates a bare directory URL should try.
package urlmap

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned by Resolve when the requested path, after
// cleaning, would land outside the document root.
var ErrOutsideRoot = errors.New("urlmap: path escapes document root")

// Resolver maps URL paths under one document root, trying docIndexes in
// order when a URL names a directory.
type Resolver struct {
	docRoot    string
	docIndexes []string
}

// New returns a Resolver rooted at docRoot (converted to an absolute,
// cleaned path) trying indexFiles, in order, for directory URLs.
func New(docRoot string, indexFiles []string) (*Resolver, error) {
	abs, err := filepath.Abs(docRoot)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		docRoot:    filepath.Clean(abs),
		docIndexes: append([]string(nil), indexFiles...),
	}, nil
}

// Resolve maps urlPath to an absolute filesystem path beneath the document
// root. The URL is always treated as rooted at "/" regardless of what the
// caller passed, and "." / ".." segments are resolved before joining so a
// request for "/../../etc/passwd" cannot walk above docRoot.
func (r *Resolver) Resolve(urlPath string) (string, error) {
	clean := path.Clean("/" + urlPath)
	rel := strings.TrimPrefix(clean, "/")

	full := filepath.Join(r.docRoot, filepath.FromSlash(rel))
	if !r.within(full) {
		return "", ErrOutsideRoot
	}
	return full, nil
}

// within reports whether candidate is docRoot itself or a descendant of it.
// filepath.Join already collapses ".." segments, so in practice this never
// trips for paths that came through Resolve; it guards direct callers of a
// pre-joined path and survivors of future refactors.
func (r *Resolver) within(candidate string) bool {
	if candidate == r.docRoot {
		return true
	}
	return strings.HasPrefix(candidate, r.docRoot+string(filepath.Separator))
}

// DocRoot returns the resolver's document root.
func (r *Resolver) DocRoot() string { return r.docRoot }

// IndexCandidates returns the absolute paths to try, in order, when dir is
// requested directly (a URL ending in "/", or resolving to a directory).
func (r *Resolver) IndexCandidates(dir string) []string {
	out := make([]string, len(r.docIndexes))
	for i, name := range r.docIndexes {
		out[i] = filepath.Join(dir, name)
	}
	return out
}
