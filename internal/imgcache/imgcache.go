// Package imgcache keeps downloaded cover images on disk. Files are named
// <sha1-of-url>-<unix-ts>; the timestamp records the last use and the oldest
// files are evicted beyond MaxEntries.
package imgcache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/core"
	"github.com/feeluown/fuocore/internal/ports"
)

// MaxEntries bounds the number of cached images.
const MaxEntries = 100

// MaxImageBytes bounds a single download.
const MaxImageBytes = 16 << 20

// Cache is an on-disk image cache.
type Cache struct {
	log   *zap.Logger
	fs    afero.Fs
	dir   string
	clock ports.Clock
	http  *http.Client
	max   int

	mu sync.Mutex
}

// Options configure a Cache.
type Options struct {
	HTTPClient *http.Client
	MaxEntries int
}

// New creates a cache rooted at dir.
func New(log *zap.Logger, fs afero.Fs, dir string, clock ports.Clock, opts Options) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = MaxEntries
	}
	return &Cache{log: log, fs: fs, dir: dir, clock: clock, http: opts.HTTPClient, max: opts.MaxEntries}
}

// Key hashes url without its query string.
func Key(url string) string {
	pure, _, _ := strings.Cut(url, "?")
	sum := sha1.Sum([]byte(pure))
	return hex.EncodeToString(sum[:])
}

type entry struct {
	name string
	key  string
	ts   int64
}

func (c *Cache) entries() ([]entry, error) {
	infos, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		return nil, err
	}
	out := make([]entry, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		key, tsRaw, ok := strings.Cut(info.Name(), "-")
		if !ok {
			continue
		}
		ts, err := strconv.ParseInt(tsRaw, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, entry{name: info.Name(), key: key, ts: ts})
	}
	return out, nil
}

func (c *Cache) find(key string) (entry, bool, error) {
	entries, err := c.entries()
	if err != nil {
		return entry{}, false, err
	}
	for _, e := range entries {
		if e.key == key {
			return e, true, nil
		}
	}
	return entry{}, false, nil
}

func (c *Cache) fileName(key string) string {
	return fmt.Sprintf("%s-%d", key, c.clock.NowUnix())
}

// Lookup returns cached bytes for url and refreshes their timestamp.
func (c *Cache) Lookup(url string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fs.MkdirAll(c.dir, 0o755); err != nil {
		return nil, false, err
	}
	e, ok, err := c.find(Key(url))
	if err != nil || !ok {
		return nil, false, err
	}
	oldPath := path.Join(c.dir, e.name)
	data, err := afero.ReadFile(c.fs, oldPath)
	if err != nil {
		return nil, false, err
	}
	if fresh := c.fileName(e.key); fresh != e.name {
		if err := c.fs.Rename(oldPath, path.Join(c.dir, fresh)); err != nil {
			c.log.Debug("image touch failed", zap.String("file", e.name), zap.Error(err))
		}
	}
	return data, true, nil
}

// Store writes data for url and prunes old entries.
func (c *Cache) Store(url string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fs.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	key := Key(url)
	if e, ok, err := c.find(key); err != nil {
		return err
	} else if ok {
		_ = c.fs.Remove(path.Join(c.dir, e.name))
	}
	if err := afero.WriteFile(c.fs, path.Join(c.dir, c.fileName(key)), data, 0o644); err != nil {
		return err
	}
	return c.pruneLocked()
}

func (c *Cache) pruneLocked() error {
	entries, err := c.entries()
	if err != nil {
		return err
	}
	if len(entries) <= c.max {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ts != entries[j].ts {
			return entries[i].ts < entries[j].ts
		}
		return entries[i].name < entries[j].name
	})
	for _, e := range entries[:len(entries)-c.max] {
		if err := c.fs.Remove(path.Join(c.dir, e.name)); err != nil {
			return err
		}
		c.log.Debug("image evicted", zap.String("file", e.name))
	}
	return nil
}

// Len returns the number of cached images.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := c.entries()
	if err != nil {
		return 0
	}
	return len(entries)
}

// Get returns the image at url, downloading it on a miss.
func (c *Cache) Get(ctx context.Context, url string) ([]byte, error) {
	if data, ok, err := c.Lookup(url); err != nil {
		return nil, err
	} else if ok {
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, core.Wrap(core.KindBadURI, "bad image url", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, core.Wrap(core.KindProviderError, "image download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, core.Errorf(core.KindProviderError, "image download failed: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes))
	if err != nil {
		return nil, core.Wrap(core.KindProviderError, "image download failed", err)
	}
	if err := c.Store(url, data); err != nil {
		c.log.Warn("image cache store failed", zap.String("url", url), zap.Error(err))
	}
	return data, nil
}
