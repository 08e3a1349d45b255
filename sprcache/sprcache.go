// Package sprcache caches rendered sprite PNGs across three tiers: an
// in-memory LRU, a disk directory, and on-demand generation through a
// renderer. Lookups fall through the tiers in that order; generated
// frames are written back to both.
package sprcache

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/glog"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/EndurnyrProject/lifthrasir/assets"
	"github.com/EndurnyrProject/lifthrasir/render"
)

const metadataFile = "cache.json"

// DefaultMemoryCapacity is the LRU entry count used when the caller
// passes zero.
const DefaultMemoryCapacity = 256

// Key identifies one rendered frame: the 64-bit hash of its request
// parameters, in hex.
type Key string

// KeyFor derives the cache key for a request. Each field is hashed
// length-prefixed so adjacent fields cannot alias, and the scale enters
// as its exact bit pattern.
func KeyFor(req *render.Request) Key {
	h := xxhash.New()
	writeString(h, assets.Normalize(req.SpritePath))
	writeString(h, assets.Normalize(req.ActPath))
	writeUint64(h, uint64(req.ActionIndex))
	writeUint64(h, uint64(req.FrameIndex))
	writeString(h, assets.Normalize(req.PalettePath))
	writeUint64(h, uint64(math.Float32bits(req.Scale)))
	return Key(fmt.Sprintf("%016x", h.Sum64()))
}

func writeString(h *xxhash.Digest, s string) {
	writeUint64(h, uint64(len(s)))
	h.WriteString(s)
}

func writeUint64(h *xxhash.Digest, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	h.Write(b[:])
}

// Response is a cache answer: the encoded PNG plus the placement
// metadata a client needs to position the frame.
type Response struct {
	PNG     []byte `json:"-"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	OffsetX int    `json:"offset_x"`
	OffsetY int    `json:"offset_y"`

	// FromCache reports whether the answer came from the memory or disk
	// tier rather than a fresh render.
	FromCache bool `json:"from_cache"`
}

// Base64 returns the PNG as a base64 string, for embedding in JSON
// payloads.
func (r *Response) Base64() string {
	return base64.StdEncoding.EncodeToString(r.PNG)
}

type entryMeta struct {
	Width   int   `json:"width"`
	Height  int   `json:"height"`
	OffsetX int   `json:"offset_x"`
	OffsetY int   `json:"offset_y"`
	Size    int64 `json:"size"`
}

// FrameRenderer produces frames on cache misses.
type FrameRenderer interface {
	Render(req *render.Request) (*render.Result, error)
}

// Stats describes the cache's current footprint.
type Stats struct {
	MemoryEntries int   `json:"memory_entries"`
	DiskEntries   int   `json:"disk_entries"`
	DiskBytes     int64 `json:"disk_bytes"`
}

// BatchResult summarizes a PreloadBatch run.
type BatchResult struct {
	Total     int   `json:"total"`
	Succeeded []Key `json:"succeeded"`
	Failed    []Key `json:"failed"`
}

// Cache is the three-tier frame cache. Safe for concurrent use.
type Cache struct {
	renderer FrameRenderer
	dir      string
	group    singleflight.Group

	mu         sync.Mutex
	mem        *lru.Cache[Key, *Response]
	meta       map[Key]entryMeta
	generation uint64
}

// New opens or creates the cache rooted at dir. Existing disk entries
// listed in the metadata sidecar become visible immediately.
func New(renderer FrameRenderer, dir string, memoryCapacity int) (*Cache, error) {
	if memoryCapacity <= 0 {
		memoryCapacity = DefaultMemoryCapacity
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating cache dir %q", dir)
	}

	mem, err := lru.New[Key, *Response](memoryCapacity)
	if err != nil {
		return nil, errors.Wrap(err, "creating memory tier")
	}

	c := &Cache{
		renderer: renderer,
		dir:      dir,
		mem:      mem,
		meta:     make(map[Key]entryMeta),
	}
	if err := c.loadMetadata(); err != nil {
		glog.Errorf("sprcache: discarding unreadable metadata: %v", err)
		c.meta = make(map[Key]entryMeta)
	}
	glog.V(1).Infof("sprcache: opened %q with %d disk entries", dir, len(c.meta))
	return c, nil
}

func (c *Cache) pngPath(key Key) string {
	return filepath.Join(c.dir, string(key)+".png")
}

// GetOrGenerate returns the frame for the request, consulting memory,
// then disk, then rendering it. Concurrent requests for the same key
// share one render.
func (c *Cache) GetOrGenerate(req *render.Request) (*Response, error) {
	key := KeyFor(req)

	c.mu.Lock()
	if resp, ok := c.mem.Get(key); ok {
		c.mu.Unlock()
		return cached(resp), nil
	}
	meta, onDisk := c.meta[key]
	gen := c.generation
	c.mu.Unlock()

	if onDisk {
		if resp, err := c.loadDisk(key, meta, gen); err == nil {
			return cached(resp), nil
		} else {
			glog.Warningf("sprcache: dropping unreadable disk entry %s: %v", key, err)
			c.dropDiskEntry(key)
		}
	}

	v, err, _ := c.group.Do(string(key), func() (interface{}, error) {
		return c.generate(key, req)
	})
	if err != nil {
		return nil, err
	}
	resp := v.(*Response)
	return &Response{
		PNG:     resp.PNG,
		Width:   resp.Width,
		Height:  resp.Height,
		OffsetX: resp.OffsetX,
		OffsetY: resp.OffsetY,
	}, nil
}

func cached(resp *Response) *Response {
	return &Response{
		PNG:       resp.PNG,
		Width:     resp.Width,
		Height:    resp.Height,
		OffsetX:   resp.OffsetX,
		OffsetY:   resp.OffsetY,
		FromCache: true,
	}
}

// loadDisk reads the PNG tier entry and promotes it to memory. The
// generation guard keeps a concurrent ClearAll from resurrecting a
// purged entry.
func (c *Cache) loadDisk(key Key, meta entryMeta, gen uint64) (*Response, error) {
	png, err := os.ReadFile(c.pngPath(key))
	if err != nil {
		return nil, errors.Wrap(err, "reading disk tier")
	}
	resp := &Response{
		PNG:     png,
		Width:   meta.Width,
		Height:  meta.Height,
		OffsetX: meta.OffsetX,
		OffsetY: meta.OffsetY,
	}

	c.mu.Lock()
	if c.generation == gen {
		c.mem.Add(key, resp)
	}
	c.mu.Unlock()
	return resp, nil
}

func (c *Cache) dropDiskEntry(key Key) {
	c.mu.Lock()
	delete(c.meta, key)
	if err := c.saveMetadataLocked(); err != nil {
		glog.Errorf("sprcache: saving metadata: %v", err)
	}
	c.mu.Unlock()
	os.Remove(c.pngPath(key))
}

// generate renders the frame and persists it to both tiers.
func (c *Cache) generate(key Key, req *render.Request) (*Response, error) {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	res, err := c.renderer.Render(req)
	if err != nil {
		return nil, err
	}
	resp := &Response{
		PNG:     res.PNG,
		Width:   res.Width,
		Height:  res.Height,
		OffsetX: res.OffsetX,
		OffsetY: res.OffsetY,
	}

	tmp, err := os.CreateTemp(c.dir, "write-*.png")
	if err != nil {
		return nil, errors.Wrap(err, "persisting frame")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(resp.PNG); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, errors.Wrap(err, "persisting frame")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, errors.Wrap(err, "persisting frame")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		// Cleared while rendering; hand the frame back but do not
		// store it.
		os.Remove(tmpName)
		return resp, nil
	}
	if err := os.Rename(tmpName, c.pngPath(key)); err != nil {
		os.Remove(tmpName)
		return nil, errors.Wrap(err, "persisting frame")
	}
	c.meta[key] = entryMeta{
		Width:   resp.Width,
		Height:  resp.Height,
		OffsetX: resp.OffsetX,
		OffsetY: resp.OffsetY,
		Size:    int64(len(resp.PNG)),
	}
	if err := c.saveMetadataLocked(); err != nil {
		glog.Errorf("sprcache: saving metadata: %v", err)
	}
	c.mem.Add(key, resp)
	return resp, nil
}

// PreloadBatch renders every request that is not already cached.
// Failures do not abort the batch.
func (c *Cache) PreloadBatch(reqs []*render.Request) *BatchResult {
	result := &BatchResult{Total: len(reqs)}
	for _, req := range reqs {
		key := KeyFor(req)
		if _, err := c.GetOrGenerate(req); err != nil {
			glog.Warningf("sprcache: preload %s: %v", key, err)
			result.Failed = append(result.Failed, key)
			continue
		}
		result.Succeeded = append(result.Succeeded, key)
	}
	return result
}

// ClearAll drops both tiers. Renders in flight when the clear happens
// still complete but are not stored.
func (c *Cache) ClearAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.mem.Purge()
	for key := range c.meta {
		os.Remove(c.pngPath(key))
	}
	c.meta = make(map[Key]entryMeta)
	if err := c.saveMetadataLocked(); err != nil {
		return errors.Wrap(err, "clearing cache")
	}
	glog.V(1).Infof("sprcache: cleared (generation %d)", c.generation)
	return nil
}

// Stats reports the footprint of both tiers.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var bytes int64
	for _, m := range c.meta {
		bytes += m.Size
	}
	return Stats{
		MemoryEntries: c.mem.Len(),
		DiskEntries:   len(c.meta),
		DiskBytes:     bytes,
	}
}

func (c *Cache) loadMetadata() error {
	b, err := os.ReadFile(filepath.Join(c.dir, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(b, &c.meta)
}

// saveMetadataLocked writes the sidecar through a temp file so a crash
// never leaves a half-written index. Caller holds c.mu.
func (c *Cache) saveMetadataLocked() error {
	b, err := json.Marshal(c.meta)
	if err != nil {
		return err
	}
	tmp := filepath.Join(c.dir, metadataFile+".tmp")
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(c.dir, metadataFile))
}
