package devserver

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"linkreload/internal/cache"
	"linkreload/internal/registry"
)

// ModulePrefix is the URL prefix for files served from a package's watch
// target: /@pkg/<name>/<path>.
const ModulePrefix = "/@pkg/"

// ModuleURL returns the URL the dev server serves a package file under.
func ModuleURL(name, rel string) string {
	return ModulePrefix + name + "/" + strings.TrimPrefix(filepath.ToSlash(rel), "/")
}

// splitModulePath parses "/@pkg/<name>/<rel>" into a package name and a
// cleaned slash-separated relative path.
func splitModulePath(urlPath string) (string, string, error) {
	trimmed := strings.TrimPrefix(urlPath, ModulePrefix)
	name, rel, ok := strings.Cut(trimmed, "/")
	if !ok || name == "" {
		return "", "", errors.New("missing package name")
	}
	cleaned, err := cleanFSPath(rel)
	if err != nil {
		return "", "", err
	}
	if cleaned == "." {
		return "", "", errors.New("missing file path")
	}
	return name, cleaned, nil
}

func cleanFSPath(value string) (string, error) {
	slashPath := strings.TrimPrefix(filepath.ToSlash(value), "/")
	if slashPath == "" {
		return ".", nil
	}
	cleaned := path.Clean(slashPath)
	if cleaned == "." {
		return ".", nil
	}
	if !fs.ValidPath(cleaned) {
		return "", fmt.Errorf("invalid path: %q", value)
	}
	return cleaned, nil
}

func (s *Server) handleModule(w http.ResponseWriter, r *http.Request) *apiError {
	if err := requireRead(w, r); err != nil {
		return err
	}
	name, rel, err := splitModulePath(r.URL.Path)
	if err != nil {
		return &apiError{Status: http.StatusBadRequest, Message: err.Error()}
	}
	root, ok := s.registry.Lookup(name)
	if !ok {
		return &apiError{Status: http.StatusNotFound, Message: "unknown package: " + name}
	}

	url := ModuleURL(name, rel)
	if module, ok := s.cache.Get(url); ok {
		s.writeModule(w, r, module, "hit")
		return nil
	}

	file := filepath.Join(registry.WatchTarget(root, s.watchDir), filepath.FromSlash(rel))
	content, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &apiError{Status: http.StatusNotFound, Message: "not found: " + url}
		}
		if isDirectory(file) {
			return &apiError{Status: http.StatusNotFound, Message: "not a file: " + url}
		}
		s.logger.Warn("module read failed", map[string]string{
			"url":   url,
			"error": err.Error(),
		})
		return &apiError{Status: http.StatusInternalServerError, Message: "read failed"}
	}

	module := s.cache.Put(cache.Module{
		Entry:   cache.Entry{URL: url, File: file},
		Content: content,
	})
	s.writeModule(w, r, module, "miss")
	return nil
}

func (s *Server) writeModule(w http.ResponseWriter, r *http.Request, module cache.Module, status string) {
	etag := module.ETag()
	w.Header().Set("ETag", etag)
	w.Header().Set("X-Linkreload-Cache", status)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	contentType := mime.TypeByExtension(path.Ext(module.URL))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(module.Content)
}

func isDirectory(file string) bool {
	info, err := os.Stat(file)
	return err == nil && info.IsDir()
}
