package auth

import (
	"errors"
	"os"
	"strings"
	"sync"
)

var ErrEmptyToken = errors.New("auth: empty token")

// FileLoader reads the upstream auth token from disk and caches the last
// value. The settings store rotates the file in place; Load reports whether
// the content changed since the previous read.
type FileLoader struct {
	path   string
	mu     sync.Mutex
	cached string
}

func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load reads and trims the token from the loader's file. The returned boolean
// indicates whether the value differs from the cached one.
func (l *FileLoader) Load() (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		return "", false, err
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		l.cached = ""
		return "", false, ErrEmptyToken
	}

	if token == l.cached {
		return l.cached, false, nil
	}

	l.cached = token
	return token, true, nil
}

// SetCached pre-populates the cached value, e.g. when falling back to a
// static token while still monitoring the file for rotations.
func (l *FileLoader) SetCached(token string) {
	l.mu.Lock()
	l.cached = strings.TrimSpace(token)
	l.mu.Unlock()
}

// Source resolves the current upstream auth token: the file-loaded value when
// a token file is configured, otherwise the static token from the
// environment. The token is optional; an empty result is a degraded mode, not
// an error.
type Source struct {
	static string
	loader *FileLoader

	mu      sync.RWMutex
	current string
}

func NewSource(static string, loader *FileLoader) *Source {
	s := &Source{static: strings.TrimSpace(static), loader: loader}
	s.current = s.static
	if loader != nil {
		if token, _, err := loader.Load(); err == nil && token != "" {
			s.current = token
		}
	}
	return s
}

func (s *Source) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Reload re-reads the token file and reports whether the token changed.
func (s *Source) Reload() (bool, error) {
	if s.loader == nil {
		return false, nil
	}
	token, changed, err := s.loader.Load()
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	s.mu.Lock()
	s.current = token
	s.mu.Unlock()
	return true, nil
}
