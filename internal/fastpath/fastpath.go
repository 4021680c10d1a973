// Package fastpath orchestrates a static-file GET/HEAD request: resolve the
// URL, stat the target, apply conditional and range semantics, and deliver
// the body from the file cache, an mmap'd file, or a plain file handle.
package fastpath

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Elettrotecnica/naviserver/internal/byterange"
	"github.com/Elettrotecnica/naviserver/internal/filecache"
	"github.com/Elettrotecnica/naviserver/internal/metrics"
	"github.com/Elettrotecnica/naviserver/internal/mimetype"
	"github.com/Elettrotecnica/naviserver/internal/response"
	"github.com/Elettrotecnica/naviserver/internal/urlmap"
)

// Config mirrors the ns/fastpath and ns/server/<S>/fastpath configuration
// keys.
type Config struct {
	PageRoot       string
	DirectoryIndex []string // e.g. []string{"index.html"}, checked in order

	MMapEnabled   bool
	CacheEnabled  bool
	CacheMaxSize  int64
	CacheMaxEntry int64

	// DirectoryListingHandler, if set, is invoked when a directory URL
	// matches none of DirectoryIndex. Left nil, unmatched directories 404.
	DirectoryListingHandler http.Handler
}

// Handler is an http.Handler implementing the fast path over one Config.
type Handler struct {
	cfg      Config
	resolver *urlmap.Resolver
	cache    *filecache.Cache // nil when Config.CacheEnabled is false
	mime     *mimetype.Table
	log      *logrus.Logger

	shuttingDown atomic.Bool
}

// BeginShutdown marks the handler as no longer accepting new requests; every
// request after this call answers ErrShutdownPending instead of being
// served, so a graceful drain can let in-flight responses finish writing
// without racing newly-arriving ones. Intended to be called from the same
// signal handling path that stops the listener.
func (h *Handler) BeginShutdown() {
	h.shuttingDown.Store(true)
}

// Option customizes a Handler beyond what Config captures.
type Option func(*Handler)

// WithMimeTable overrides the default extension/sniffing MIME table.
func WithMimeTable(t *mimetype.Table) Option {
	return func(h *Handler) { h.mime = t }
}

// WithLogger overrides the default logrus logger.
func WithLogger(l *logrus.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// NewHandler builds a Handler over cfg. When cfg.CacheEnabled is true it
// constructs its own filecache.Cache sized to cfg.CacheMaxSize.
func NewHandler(cfg Config, opts ...Option) (*Handler, error) {
	resolver, err := urlmap.New(cfg.PageRoot, cfg.DirectoryIndex)
	if err != nil {
		return nil, fmt.Errorf("fastpath: resolving page root: %w", err)
	}

	h := &Handler{
		cfg:      cfg,
		resolver: resolver,
		mime:     mimetype.NewTable("application/octet-stream"),
		log:      logrus.StandardLogger(),
	}
	if cfg.CacheEnabled {
		h.cache = filecache.New(cfg.CacheMaxSize)
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { metrics.RequestDuration.Observe(time.Since(start).Seconds()) }()

	if h.shuttingDown.Load() {
		h.writeError(w, ErrShutdownPending)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.serve(w, r, r.URL.Path)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, urlPath string) {
	fsPath, err := h.resolver.Resolve(urlPath)
	if err != nil {
		h.writeError(w, ErrNotFound)
		return
	}

	fi, err := os.Stat(fsPath)
	if err != nil {
		if os.IsNotExist(err) {
			h.writeError(w, ErrNotFound)
			return
		}
		if os.IsPermission(err) {
			// Silent per the error handling design: same wire response as
			// NotFound, no warning logged.
			h.writeError(w, ErrPermissionDenied)
			return
		}
		h.log.WithError(err).WithField("path", fsPath).Warn("fastpath: unexpected stat failure")
		h.writeError(w, withCause(ErrNotFound, err))
		return
	}

	switch {
	case fi.Mode().IsRegular():
		h.deliver(w, r, fsPath, fi, http.StatusOK, "")
	case fi.IsDir():
		h.serveDirectory(w, r, urlPath, fsPath)
	default:
		h.writeError(w, ErrNotFound)
	}
}

// writeError answers the request with e's status, with no body beyond what
// http.Error produces, and records it in the request metric.
func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	metrics.RequestsTotal.WithLabelValues(strconv.Itoa(e.Status)).Inc()
	http.Error(w, http.StatusText(e.Status), e.Status)
}

func (h *Handler) serveDirectory(w http.ResponseWriter, r *http.Request, urlPath, dirPath string) {
	for _, candidate := range h.resolver.IndexCandidates(dirPath) {
		fi, err := os.Stat(candidate)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		if !strings.HasSuffix(urlPath, "/") {
			http.Redirect(w, r, urlPath+"/", http.StatusFound)
			return
		}
		h.deliver(w, r, candidate, fi, http.StatusOK, "")
		return
	}

	if h.cfg.DirectoryListingHandler != nil {
		h.cfg.DirectoryListingHandler.ServeHTTP(w, r)
		return
	}
	h.writeError(w, ErrNotFound)
}

// deliver is the stat->conditional->range->emitter subroutine, invoked both
// for a direct file hit and for a resolved directory-index candidate.
func (h *Handler) deliver(w http.ResponseWriter, r *http.Request, path string, fi os.FileInfo, status int, contentType string) {
	if contentType == "" {
		contentType = h.mime.ContentType(path)
	}
	mtime := fi.ModTime()
	w.Header().Set("Last-Modified", mtime.UTC().Format(http.TimeFormat))

	if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		if t, err := http.ParseTime(ims); err == nil && !mtime.Truncate(time.Second).After(t) {
			metrics.RequestsTotal.WithLabelValues("304").Inc()
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
		metrics.RequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
		w.WriteHeader(status)
		return
	}

	rs := byterange.Parse(r.Header.Get("Range"), r.Header.Get("If-Range"), fi.Size(), mtime)
	if rs.Unsatisfiable() {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", fi.Size()))
		metrics.RequestsTotal.WithLabelValues(strconv.Itoa(ErrRangeNotSatisfiable.Status)).Inc()
		w.WriteHeader(ErrRangeNotSatisfiable.Status)
		return
	}

	src, release, err := h.openSource(path, fi)
	if err != nil {
		ioErr := withCause(ErrIOError, err)
		h.log.WithError(err).WithField("path", path).Warn("fastpath: failed to open delivery source")
		h.writeError(w, ioErr)
		return
	}
	defer release()

	finalStatus := status
	if len(rs.Ranges) > 0 {
		finalStatus = rs.Status
	}
	metrics.RequestsTotal.WithLabelValues(strconv.Itoa(finalStatus)).Inc()

	if err := response.Emit(w, status, rs, src, contentType); err != nil {
		// Headers (and possibly part of the body) are already on the wire;
		// the only recourse left is to drop the connection.
		h.log.WithError(err).WithField("path", path).Warn("fastpath: response write failed mid-delivery")
	}
}

// openSource picks the cache, mmap, or plain-file delivery path per Config,
// returning a Source and a cleanup function the caller must invoke once done
// with the Source. On error both are nil.
func (h *Handler) openSource(path string, fi os.FileInfo) (response.Source, func(), error) {
	if h.cache != nil && fi.Size() <= h.cfg.CacheMaxEntry {
		entry, err := h.lookupOrBuildCached(path, fi)
		if err != nil {
			return nil, nil, err
		}
		return response.NewMemSource(entry.Bytes), func() { entry.Release() }, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	if h.cfg.MMapEnabled {
		if src, mmapErr := response.OpenMmap(f, fi.Size()); mmapErr == nil {
			return src, func() { src.Close(); f.Close() }, nil
		}
		// mmap unavailable or failed (e.g. zero-length file on some
		// platforms); fall through to the channel-backed path on the file
		// we already have open.
	}
	return response.NewFileSource(f, fi.Size()), func() { f.Close() }, nil
}

// lookupOrBuildCached resolves path through the file cache, revalidating
// the resident entry against the fresh stat and invalidating and retrying
// for as long as the entry it gets back is stale.
func (h *Handler) lookupOrBuildCached(path string, fi os.FileInfo) (*filecache.Entry, error) {
	key := filecache.KeyFor(path, fi)
	for {
		built := false
		entry, err := h.cache.LookupOrBuild(key, func() (*filecache.Entry, error) {
			built = true
			data, readErr := os.ReadFile(path)
			if readErr != nil {
				metrics.CacheBuildErrors.Inc()
				return nil, readErr
			}
			if int64(len(data)) != fi.Size() {
				metrics.CacheBuildErrors.Inc()
				return nil, fmt.Errorf("fastpath: size changed while reading %s", path)
			}
			return &filecache.Entry{Mtime: fi.ModTime(), Size: fi.Size(), Bytes: data}, nil
		})
		if err != nil {
			return nil, err
		}

		if built {
			metrics.CacheMisses.Inc()
		} else {
			metrics.CacheHits.Inc()
		}
		metrics.CacheEntries.Set(float64(h.cache.Len()))
		metrics.CacheBytes.Set(float64(h.cache.TotalBytes()))

		if entry.Mtime.Equal(fi.ModTime()) && entry.Size == fi.Size() {
			return entry, nil
		}
		entry.Release()
		h.cache.InvalidateIfStale(key, fi.ModTime(), fi.Size())
	}
}
