package assets

import (
	"io/fs"

	"github.com/pkg/errors"
)

// FSSource serves assets from any fs.FS. Its main use is the embedded
// fallback set in the datafiles package, registered at the lowest
// priority so bundled defaults only apply when nothing else matches.
type FSSource struct {
	name     string
	fsys     fs.FS
	priority int
}

// NewFSSource wraps fsys as a source.
func NewFSSource(name string, fsys fs.FS, priority int) *FSSource {
	return &FSSource{name: name, fsys: fsys, priority: priority}
}

func (s *FSSource) Name() string {
	return s.name
}

func (s *FSSource) Priority() int {
	return s.priority
}

func (s *FSSource) Exists(name string) bool {
	st, err := fs.Stat(s.fsys, Normalize(name))
	return err == nil && st.Mode().IsRegular()
}

func (s *FSSource) Load(name string) ([]byte, error) {
	b, err := fs.ReadFile(s.fsys, Normalize(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotFound, "%q", name)
		}
		return nil, errors.Wrapf(err, "reading embedded %q", name)
	}
	return b, nil
}

func (s *FSSource) ListFiles() []string {
	var files []string
	fs.WalkDir(s.fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files
}
