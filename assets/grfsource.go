package assets

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/EndurnyrProject/lifthrasir/grf"
)

// GRFSource serves assets out of one opened GRF archive. The archive
// handle is opened once and kept for the whole session; the table of
// contents never changes after open, so the source is freely shareable.
type GRFSource struct {
	name     string
	f        *grf.File
	priority int
}

// NewGRFSource opens the archive at path and wraps it as a source.
func NewGRFSource(path string, priority int) (*GRFSource, error) {
	f, err := grf.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening grf source")
	}
	return &GRFSource{
		name:     fmt.Sprintf("grf(%s)", path),
		f:        f,
		priority: priority,
	}, nil
}

// Archive exposes the underlying archive, e.g. for entry metadata.
func (s *GRFSource) Archive() *grf.File {
	return s.f
}

func (s *GRFSource) Name() string {
	return s.name
}

func (s *GRFSource) Priority() int {
	return s.priority
}

func (s *GRFSource) Exists(name string) bool {
	_, ok := s.f.Lookup(name)
	return ok
}

func (s *GRFSource) Load(name string) ([]byte, error) {
	e, ok := s.f.Lookup(name)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%q", name)
	}
	// A corrupt entry is a real error, not a miss: it must not fall
	// through to a lower-priority source.
	return s.f.ReadEntry(e)
}

func (s *GRFSource) ListFiles() []string {
	entries := s.f.Entries()
	files := make([]string, 0, len(entries))
	for i := range entries {
		if !entries[i].IsFile() {
			continue
		}
		files = append(files, Normalize(entries[i].Name))
	}
	return files
}

// Close releases the archive handle. Only the owner of the source (the
// composite it was registered with) should call this.
func (s *GRFSource) Close() error {
	return s.f.Close()
}
