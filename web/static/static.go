// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package static serves files from a directory tree.
package static

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/z5labs/evhttp/pkg/noop"
	"github.com/z5labs/evhttp/pkg/slogfield"
	"github.com/z5labs/evhttp/web"
	"github.com/z5labs/evhttp/wire"

	"github.com/fsnotify/fsnotify"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultType is the content type of files nothing else could type.
const DefaultType = "application/octet-stream"

// Config describes one mounted directory.
type Config struct {
	// Path is the URL path the directory is mounted at.
	Path string `config:"path" validate:"required,startswith=/"`

	// Root is the local directory served.
	Root string `config:"root" validate:"required,dir"`

	// DefaultFiles are tried in order for requests naming a directory.
	DefaultFiles []string `config:"default_files" validate:"dive,required,excludesall=/\\"`

	// MaxCachedSize is the largest file kept in memory. Zero disables caching.
	MaxCachedSize int64 `config:"max_cached_size" validate:"gte=0"`

	// MimeTypes maps file extensions, without the dot, to content types.
	// They override the built in table.
	MimeTypes map[string]string `config:"mime_types"`
}

// Option configures a Service.
type Option func(*Service)

// LogHandler configures the logger.
func LogHandler(h slog.Handler) Option {
	return func(s *Service) {
		s.log = slog.New(h)
	}
}

type entry struct {
	data        []byte
	contentType string
	modTime     string
}

// Service is a web.Service serving the files under a root directory.
// Paths resolving outside the root, including through symlinks, are
// answered with 404.
type Service struct {
	log          *slog.Logger
	path         string
	root         string
	defaultFiles []string
	maxCached    int64
	mimeTypes    map[string]string

	site *web.Site

	mu      sync.RWMutex
	cache   map[string]entry
	watched map[string]bool
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New validates cfg and returns a Service for it.
func New(cfg Config, opts ...Option) (*Service, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, err
	}

	s := &Service{
		log:          noop.Logger(),
		path:         strings.TrimSuffix(cfg.Path, "/"),
		root:         root,
		defaultFiles: cfg.DefaultFiles,
		maxCached:    cfg.MaxCachedSize,
		mimeTypes:    make(map[string]string, len(defaultMimeTypes)+len(cfg.MimeTypes)),
		cache:        make(map[string]entry),
		watched:      make(map[string]bool),
	}
	for ext, typ := range defaultMimeTypes {
		s.mimeTypes[ext] = typ
	}
	for ext, typ := range cfg.MimeTypes {
		s.mimeTypes[strings.TrimPrefix(ext, ".")] = typ
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.maxCached > 0 {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		s.watcher = w
		s.done = make(chan struct{})
		go s.watch()
	}
	return s, nil
}

// Root returns the canonical root directory.
func (s *Service) Root() string {
	return s.root
}

// Close stops watching cached files.
func (s *Service) Close() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	<-s.done
	return err
}

// Register implements the web.Service interface.
func (s *Service) Register(site *web.Site) {
	s.site = site
	site.OnRequestsFor(wire.Any, s.path+"*", s.serve)
}

func (s *Service) serve(req *web.Request, resp *web.Response) {
	if req.Method != wire.Get && req.Method != wire.Head {
		resp.SetStatus(http.StatusMethodNotAllowed)
		resp.Headers.Set("Allow", "GET, HEAD")
		resp.End()
		return
	}

	decoded, err := wire.Decode(req.URL.Path)
	if err != nil || strings.IndexByte(decoded, 0) >= 0 {
		s.pageError(req, resp, http.StatusNotFound)
		return
	}

	rel := strings.TrimPrefix(decoded, s.path)
	if rel != "" && rel[0] != '/' {
		s.pageError(req, resp, http.StatusNotFound)
		return
	}

	path, info, err := s.resolve(rel)
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, errOutsideRoot):
		s.pageError(req, resp, http.StatusNotFound)
		return
	case errors.Is(err, fs.ErrPermission):
		s.pageError(req, resp, http.StatusForbidden)
		return
	case err != nil:
		s.log.Error("failed to resolve static file", slogfield.String("path", rel), slogfield.Error(err))
		s.pageError(req, resp, http.StatusInternalServerError)
		return
	}

	if e, ok := s.cached(path, info); ok {
		writeHead(resp, e.contentType, e.modTime)
		resp.End(e.data)
		return
	}

	if s.maxCached > 0 && info.Size() <= s.maxCached {
		e, err := s.load(path, info)
		if err != nil {
			s.log.Error("failed to read static file", slogfield.String("path", path), slogfield.Error(err))
			s.pageError(req, resp, http.StatusInternalServerError)
			return
		}
		writeHead(resp, e.contentType, e.modTime)
		resp.End(e.data)
		return
	}

	writeHead(resp, s.contentType(path, nil), info.ModTime().UTC().Format(http.TimeFormat))
	if err := resp.PrepareRawWrite(info.Size()); err != nil {
		resp.Close(false)
		return
	}
	resp.WriteFile(path)
	resp.End()
}

var errOutsideRoot = errors.New("static: path resolves outside the root")

// resolve maps a request path to a regular file under the root.
func (s *Service) resolve(rel string) (string, fs.FileInfo, error) {
	joined := filepath.Clean(s.root + string(filepath.Separator) + filepath.FromSlash(rel))
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", nil, err
	}
	if !within(s.root, resolved) {
		return "", nil, errOutsideRoot
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", nil, err
	}
	if info.Mode().IsRegular() {
		return resolved, info, nil
	}
	if !info.IsDir() {
		return "", nil, fs.ErrNotExist
	}

	for _, name := range s.defaultFiles {
		candidate := filepath.Join(resolved, name)
		path, err := filepath.EvalSymlinks(candidate)
		if err != nil {
			continue
		}
		if !within(s.root, path) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		return path, info, nil
	}
	return "", nil, fs.ErrNotExist
}

func within(root, path string) bool {
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *Service) cached(path string, info fs.FileInfo) (entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.cache[path]
	if !ok || e.modTime != info.ModTime().UTC().Format(http.TimeFormat) {
		return entry{}, false
	}
	return e, true
}

func (s *Service) load(path string, info fs.FileInfo) (entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return entry{}, err
	}
	e := entry{
		data:        data,
		contentType: s.contentType(path, data),
		modTime:     info.ModTime().UTC().Format(http.TimeFormat),
	}

	dir := filepath.Dir(path)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.watched[dir] {
		if err := s.watcher.Add(dir); err != nil {
			s.log.Warn("not caching static file", slogfield.String("path", path), slogfield.Error(err))
			return e, nil
		}
		s.watched[dir] = true
	}
	s.cache[path] = e
	return e, nil
}

func (s *Service) watch() {
	defer close(s.done)

	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.evict(ev.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("file watcher failed", slogfield.Error(err))
		}
	}
}

func (s *Service) evict(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, path)
}

// contentType types by extension, then by sniffing data or the file itself.
func (s *Service) contentType(path string, data []byte) string {
	if ext := filepath.Ext(path); ext != "" {
		if typ, ok := s.mimeTypes[strings.ToLower(ext[1:])]; ok {
			return typ
		}
	}

	var mt *mimetype.MIME
	if data != nil {
		mt = mimetype.Detect(data)
	} else {
		var err error
		mt, err = mimetype.DetectFile(path)
		if err != nil {
			return DefaultType
		}
	}
	return mt.String()
}

func writeHead(resp *web.Response, contentType, modTime string) {
	resp.Headers.Set("Content-Type", contentType)
	resp.Headers.Set("Last-Modified", modTime)
}

func (s *Service) pageError(req *web.Request, resp *web.Response, code int) {
	s.site.EmitPageError(req, resp, code)
}
