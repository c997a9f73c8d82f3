// Package artifact manages short-lived audio files: uploads waiting for
// transcription and synthesized speech waiting to be downloaded.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrNotFound    = errors.New("artifact not found")
	ErrInvalidName = errors.New("invalid artifact name")
)

const namePrefix = "artifact-"

// Observer receives lifecycle events (written, served, deleted, swept, delete_failed).
type Observer interface {
	ObserveArtifact(event string, n int)
}

// Store owns a single directory of temporary artifacts. Uniqueness of names
// comes from the filesystem, so a Store needs no lock of its own.
type Store struct {
	dir      string
	logger   zerolog.Logger
	observer Observer
	now      func() time.Time
}

type Option func(*Store)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// New creates dir when missing and returns a Store rooted at its absolute path.
func New(dir string, opts ...Option) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("artifact dir is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	s := &Store{
		dir:    abs,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the absolute directory the store manages.
func (s *Store) Dir() string { return s.dir }

// Create opens a new uniquely named file for writing. The caller closes it.
func (s *Store) Create(suffix string) (*os.File, error) {
	if strings.ContainsAny(suffix, `/\`) {
		return nil, fmt.Errorf("%w: suffix %q", ErrInvalidName, suffix)
	}
	f, err := os.CreateTemp(s.dir, namePrefix+"*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("create artifact: %w", err)
	}
	s.observe("written", 1)
	return f, nil
}

// Write copies r into a new artifact and returns its absolute path. A partial
// file is removed when the copy fails.
func (s *Store) Write(r io.Reader, suffix string) (string, error) {
	f, err := s.Create(suffix)
	if err != nil {
		return "", err
	}
	path := f.Name()
	_, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		s.Delete(path)
		if copyErr != nil {
			return "", fmt.Errorf("write artifact: %w", copyErr)
		}
		return "", fmt.Errorf("close artifact: %w", closeErr)
	}
	return path, nil
}

// Resolve maps a caller-supplied filename to a path inside the store. Only
// the base name is honored, so "../x" and "/etc/x" both resolve to dir/x.
func (s *Store) Resolve(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	base := filepath.Base(name)
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, base), nil
}

// Artifact is an open artifact that is deleted when closed.
type Artifact struct {
	file    *os.File
	info    fs.FileInfo
	path    string
	store   *Store
	release sync.Once
}

// Open acquires the artifact at path for reading. Close deletes it.
func (s *Store) Open(path string) (*Artifact, error) {
	f, info, path, err := s.openRegular(path)
	if err != nil {
		return nil, err
	}
	return &Artifact{file: f, info: info, path: path, store: s}, nil
}

func (s *Store) openRegular(path string) (*os.File, fs.FileInfo, string, error) {
	path, err := s.within(path)
	if err != nil {
		return nil, nil, path, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, path, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		return nil, nil, path, fmt.Errorf("open artifact: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, path, fmt.Errorf("stat artifact: %w", err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, nil, path, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
	}
	return f, info, path, nil
}

func (a *Artifact) Read(p []byte) (int, error) { return a.file.Read(p) }

func (a *Artifact) Seek(offset int64, whence int) (int64, error) { return a.file.Seek(offset, whence) }

func (a *Artifact) Name() string { return filepath.Base(a.path) }

func (a *Artifact) Path() string { return a.path }

func (a *Artifact) Size() int64 { return a.info.Size() }

func (a *Artifact) ModTime() time.Time { return a.info.ModTime() }

// Close releases the file handle, then deletes the artifact. It is safe to
// call more than once; deletion failures are logged only.
func (a *Artifact) Close() error {
	var err error
	a.release.Do(func() {
		err = a.file.Close()
		a.store.Delete(a.path)
	})
	return err
}

// ServeAndDelete streams the artifact at path to w and deletes it after the
// handler has finished writing, whatever the outcome of the transfer.
func (s *Store) ServeAndDelete(w http.ResponseWriter, r *http.Request, path, downloadName string) error {
	a, err := s.Open(path)
	if err != nil {
		return err
	}
	defer a.Close()

	s.serveContent(w, r, a, a.path, a.ModTime(), downloadName)
	return nil
}

// Serve streams the artifact at path to w and leaves it on disk, so range
// requests can re-fetch it. Removal is left to Delete or Sweep.
func (s *Store) Serve(w http.ResponseWriter, r *http.Request, path, downloadName string) error {
	f, info, path, err := s.openRegular(path)
	if err != nil {
		return err
	}
	defer f.Close()

	s.serveContent(w, r, f, path, info.ModTime(), downloadName)
	return nil
}

func (s *Store) serveContent(w http.ResponseWriter, r *http.Request, content io.ReadSeeker, path string, modTime time.Time, downloadName string) {
	if ct := contentType(path); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if downloadName != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": downloadName}))
	}
	http.ServeContent(w, r, filepath.Base(path), modTime, content)
	s.observe("served", 1)
}

// Delete removes the artifact at path. It reports whether a file was removed;
// a missing file is not an error.
func (s *Store) Delete(path string) bool {
	path, err := s.within(path)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("refusing to delete artifact outside store")
		return false
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false
		}
		s.logger.Error().Err(err).Str("path", path).Msg("artifact delete failed")
		s.observe("delete_failed", 1)
		return false
	}
	s.observe("deleted", 1)
	return true
}

// Sweep deletes regular files whose modification time is older than ttl and
// returns how many were removed. Per-file failures are logged and skipped.
func (s *Store) Sweep(ttl time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error().Err(err).Str("dir", s.dir).Msg("artifact sweep: read dir failed")
		return 0
	}
	cutoff := s.now().Add(-ttl)
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Gone between ReadDir and Info.
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if s.Delete(filepath.Join(s.dir, entry.Name())) {
			removed++
		}
	}
	if removed > 0 {
		s.observe("swept", removed)
		s.logger.Info().Int("deleted_files", removed).Dur("ttl", ttl).Msg("artifact sweep finished")
	}
	return removed
}

func (s *Store) within(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, fmt.Errorf("%w: %q", ErrInvalidName, path)
	}
	rel, err := filepath.Rel(s.dir, abs)
	if err != nil || rel == "." || rel == ".." || strings.ContainsRune(rel, filepath.Separator) {
		return abs, fmt.Errorf("%w: %q is outside %s", ErrInvalidName, path, s.dir)
	}
	return abs, nil
}

func contentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".wav" {
		// mime tables disagree between audio/wav and audio/x-wav.
		return "audio/wav"
	}
	return mime.TypeByExtension(ext)
}

func (s *Store) observe(event string, n int) {
	if s.observer != nil {
		s.observer.ObserveArtifact(event, n)
	}
}
