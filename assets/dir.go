package assets

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DirSource serves assets from a plain directory on disk, typically an
// unpacked data/ folder overlaying the archives.
type DirSource struct {
	name     string
	root     string
	priority int
}

// NewDirSource creates a source rooted at root.
func NewDirSource(root string, priority int) *DirSource {
	return &DirSource{
		name:     fmt.Sprintf("dir(%s)", root),
		root:     root,
		priority: priority,
	}
}

func (s *DirSource) Name() string {
	return s.name
}

func (s *DirSource) Priority() int {
	return s.priority
}

func (s *DirSource) fullPath(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(Normalize(name)))
}

func (s *DirSource) Exists(name string) bool {
	st, err := os.Stat(s.fullPath(name))
	return err == nil && st.Mode().IsRegular()
}

func (s *DirSource) Load(name string) ([]byte, error) {
	full := s.fullPath(name)
	b, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "%q", name)
		}
		return nil, errors.Wrapf(err, "reading %q", full)
	}
	return b, nil
}

func (s *DirSource) ListFiles() []string {
	var files []string
	filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	return files
}
