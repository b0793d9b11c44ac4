// Package assets stores uploaded binary files on disk, one directory per
// project, and resolves them back for compilation.
package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// textExtensions lists the upload extensions treated as editable text; any
// other extension is stored as a binary asset.
var textExtensions = []string{
	".tex", ".bib", ".sty", ".cls", ".txt", ".md", ".json", ".xml", ".csv",
	".m", ".py", ".r", ".jl", ".js", ".ts", ".c", ".cpp", ".h", ".hpp",
	".java", ".rb", ".sh", ".bat", ".yaml", ".yml", ".toml", ".ini", ".cfg",
	".html", ".css", ".scss", ".less", ".sql", ".awk", ".sed", ".pl", ".lua",
}

// IsTextPath reports whether the path names an editable text file.
func IsTextPath(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range textExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// ErrBadPath rejects asset paths that escape the project directory.
var ErrBadPath = errors.New("invalid asset path")

// Store is a disk-backed asset store rooted at a single uploads directory.
type Store struct {
	root string
}

// NewStore returns a store rooted at root, creating it if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads dir: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the uploads directory, for serving assets statically.
func (s *Store) Root() string { return s.root }

func (s *Store) resolve(projectID, path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", ErrBadPath
	}
	return filepath.Join(s.root, projectID, clean), nil
}

// Put writes an asset's bytes.
func (s *Store) Put(projectID, path string, data []byte) error {
	target, err := s.resolve(projectID, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create asset dir: %w", err)
	}
	return os.WriteFile(target, data, 0o644)
}

// Get reads an asset's bytes. os.ErrNotExist is returned when absent.
func (s *Store) Get(projectID, path string) ([]byte, error) {
	target, err := s.resolve(projectID, path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(target)
}

// Purge removes every asset stored for a project.
func (s *Store) Purge(projectID string) error {
	if projectID == "" {
		return ErrBadPath
	}
	return os.RemoveAll(filepath.Join(s.root, projectID))
}

// URL returns the public path an asset is served under.
func (s *Store) URL(projectID, path string) string {
	return "/uploads/" + projectID + "/" + path
}
