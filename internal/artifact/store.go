// Package artifact persists run outputs under a stable directory layout.
//
// Artifacts for one run live under <runs_dir>/<thread_id>/; raw source
// captures live in a sources/ subdirectory, one text file and one metadata
// file per source, named by label. The store does not interpret content:
// it is a byte map keyed by (thread_id, name).
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	ErrArtifactNotFound = errors.New("artifact: not found")
	ErrInvalidThreadID  = errors.New("artifact: invalid thread id")
	ErrInvalidName      = errors.New("artifact: invalid artifact name")
)

// RequiredArtifacts are the deliverables every completed run must carry.
var RequiredArtifacts = []string{"plan.md", "notes.md", "sources.json", "report.md"}

// Info describes one stored artifact.
type Info struct {
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mtime"`
}

// Store is a filesystem-backed artifact store rooted at a runs directory.
type Store struct {
	runsDir string
}

// NewStore creates the runs directory if needed and returns a store.
func NewStore(runsDir string) (*Store, error) {
	if runsDir == "" {
		return nil, fmt.Errorf("artifact: runs dir is empty")
	}
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create runs dir: %w", err)
	}
	return &Store{runsDir: runsDir}, nil
}

// RunsDir returns the store root.
func (s *Store) RunsDir() string { return s.runsDir }

// EnsureThread creates (if needed) and returns the directory for one run.
func (s *Store) EnsureThread(threadID string) (string, error) {
	if err := validThreadID(threadID); err != nil {
		return "", err
	}
	dir := filepath.Join(s.runsDir, threadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifact: create thread dir: %w", err)
	}
	return dir, nil
}

// Write stores one artifact atomically: content is written to a temporary
// file in the target directory and renamed into place, so readers never
// observe a partial artifact.
func (s *Store) Write(threadID, name string, content []byte) error {
	path, err := s.resolve(threadID, name)
	if err != nil {
		return err
	}
	if _, err := s.EnsureThread(threadID); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("artifact: create parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("artifact: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("artifact: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("artifact: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("artifact: rename temp file: %w", err)
	}
	return nil
}

// Read returns one artifact's content or ErrArtifactNotFound.
func (s *Store) Read(threadID, name string) ([]byte, error) {
	path, err := s.resolve(threadID, name)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrArtifactNotFound, threadID, name)
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: read %s: %w", name, err)
	}
	return b, nil
}

// Exists reports whether one artifact is present.
func (s *Store) Exists(threadID, name string) bool {
	path, err := s.resolve(threadID, name)
	if err != nil {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// Path resolves an artifact name to its absolute path after traversal
// checks. The file is not required to exist.
func (s *Store) Path(threadID, name string) (string, error) {
	return s.resolve(threadID, name)
}

// List returns all artifacts of one run, sorted by relative path.
func (s *Store) List(threadID string) ([]Info, error) {
	if err := validThreadID(threadID); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.runsDir, threadID)
	var out []Info
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		st, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Info{
			Path:      filepath.ToSlash(rel),
			SizeBytes: st.Size(),
			ModTime:   st.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: list %s: %w", threadID, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *Store) resolve(threadID, name string) (string, error) {
	if err := validThreadID(threadID); err != nil {
		return "", err
	}
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	dir := filepath.Join(s.runsDir, threadID)
	path := filepath.Join(dir, filepath.FromSlash(name))
	if path != dir && !strings.HasPrefix(path, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return path, nil
}

func validThreadID(threadID string) error {
	if threadID == "" || strings.ContainsAny(threadID, "/\\") || strings.Contains(threadID, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidThreadID, threadID)
	}
	return nil
}
