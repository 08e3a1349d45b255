package assets

import (
	"sort"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// Composite resolves paths against its sources in priority order.
//
// Resolution is deterministic: for an unchanged source list, the same
// path always resolves to the same source. A per-path resolution cache
// remembers which source served a path; it is only dropped when the
// source list itself changes.
type Composite struct {
	mu       sync.RWMutex
	sources  []Source
	resolved map[string]int // normalized path -> index into sources
}

// NewComposite creates an empty composite resolver.
func NewComposite() *Composite {
	return &Composite{resolved: make(map[string]int)}
}

// Add registers a source and re-sorts the list by priority. Sources
// with equal priority keep their registration order.
func (c *Composite) Add(s Source) {
	c.mu.Lock()
	defer c.mu.Unlock()

	glog.V(1).Infof("assets: adding source %s (priority %d)", s.Name(), s.Priority())
	// Build a fresh slice so readers holding the previous snapshot
	// never observe the re-sort.
	sources := make([]Source, 0, len(c.sources)+1)
	sources = append(sources, c.sources...)
	sources = append(sources, s)
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Priority() < sources[j].Priority()
	})
	c.sources = sources
	c.resolved = make(map[string]int)
}

// Sources returns the names of the registered sources in resolution
// order.
func (c *Composite) Sources() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.sources))
	for _, s := range c.sources {
		names = append(names, s.Name())
	}
	return names
}

// Exists reports whether any source can serve the path.
func (c *Composite) Exists(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.findLocked(Normalize(name)) >= 0
}

// findLocked returns the index of the first source that has the path,
// or -1. Caller holds at least the read lock.
func (c *Composite) findLocked(norm string) int {
	if i, ok := c.resolved[norm]; ok && i < len(c.sources) && c.sources[i].Exists(norm) {
		return i
	}
	for i, s := range c.sources {
		if s.Exists(norm) {
			return i
		}
	}
	return -1
}

// Load resolves the path and returns its bytes from the winning source.
//
// A source that simply lacks the path is skipped; a source that matches
// the path but fails to produce it (a corrupt archive entry, an I/O
// fault) stops resolution and the error propagates. ErrNotFound is only
// reported once every source has been exhausted.
func (c *Composite) Load(name string) ([]byte, error) {
	norm := Normalize(name)

	c.mu.RLock()
	sources := c.sources
	cached, hasCached := c.resolved[norm]
	c.mu.RUnlock()

	if hasCached && cached < len(sources) {
		if b, err := sources[cached].Load(norm); err == nil {
			return b, nil
		} else if errors.Cause(err) != ErrNotFound {
			return nil, errors.Wrapf(err, "source %s", sources[cached].Name())
		}
		// The cached source no longer has it; fall through to a full
		// scan.
	}

	for i := 0; i < len(sources); i++ {
		s := sources[i]
		if !s.Exists(norm) {
			continue
		}
		b, err := s.Load(norm)
		if err != nil {
			if errors.Cause(err) == ErrNotFound {
				continue
			}
			return nil, errors.Wrapf(err, "source %s", s.Name())
		}

		glog.V(2).Infof("assets: %q served by %s", norm, s.Name())
		c.mu.Lock()
		c.resolved[norm] = i
		c.mu.Unlock()
		return b, nil
	}

	return nil, errors.Wrapf(ErrNotFound, "%q (tried %d sources)", norm, len(sources))
}

// ListFiles merges every source's file list, deduplicated, higher
// priority first.
func (c *Composite) ListFiles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	var files []string
	for _, s := range c.sources {
		for _, f := range s.ListFiles() {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	return files
}
