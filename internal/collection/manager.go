package collection

import (
	"errors"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/core"
	"github.com/feeluown/fuocore/internal/ports"
)

// LibraryName is the collection that always exists.
const LibraryName = "library"

// Manager owns the collections directory.
type Manager struct {
	log   *zap.Logger
	fs    afero.Fs
	dir   string
	clock ports.Clock

	mu    sync.Mutex
	colls map[string]*Collection
}

// NewManager creates a manager for dir.
func NewManager(log *zap.Logger, fs afero.Fs, dir string, clock ports.Clock) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{log: log, fs: fs, dir: dir, clock: clock, colls: map[string]*Collection{}}
}

func (m *Manager) now() time.Time {
	return time.Unix(m.clock.NowUnix(), 0).UTC()
}

// Scan loads every .fuo file, creating the library collection if missing.
func (m *Manager) Scan() error {
	if err := m.fs.MkdirAll(m.dir, 0o755); err != nil {
		return err
	}
	libPath := path.Join(m.dir, LibraryName+Ext)
	if ok, err := afero.Exists(m.fs, libPath); err != nil {
		return err
	} else if !ok {
		m.log.Info("creating library collection", zap.String("path", libPath))
		if _, err := m.create(libPath, "Library"); err != nil {
			return err
		}
	}

	infos, err := afero.ReadDir(m.fs, m.dir)
	if err != nil {
		return err
	}
	colls := map[string]*Collection{}
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), Ext) {
			continue
		}
		c, err := Load(m.fs, path.Join(m.dir, info.Name()), m.now)
		if err != nil {
			m.log.Warn("skipping collection", zap.String("file", info.Name()), zap.Error(err))
			continue
		}
		if c.Skipped > 0 {
			m.log.Warn("collection has invalid lines", zap.String("file", info.Name()), zap.Int("lines", c.Skipped))
		}
		colls[c.Name] = c
	}

	m.mu.Lock()
	m.colls = colls
	m.mu.Unlock()
	return nil
}

// List returns collections with the library first, then by name.
func (m *Manager) List() []*Collection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Collection, 0, len(m.colls))
	for _, c := range m.colls {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Name == LibraryName) != (out[j].Name == LibraryName) {
			return out[i].Name == LibraryName
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Get returns the collection named name.
func (m *Manager) Get(name string) (*Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.colls[name]; ok {
		return c, nil
	}
	return nil, core.Errorf(core.KindNotFound, "no such collection: %s", name)
}

// Create makes an empty collection with a header.
func (m *Manager) Create(name, title string) (*Collection, error) {
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, core.Errorf(core.KindBadOption, "invalid collection name: %q", name)
	}
	p := path.Join(m.dir, name+Ext)
	if ok, err := afero.Exists(m.fs, p); err != nil {
		return nil, err
	} else if ok {
		return nil, core.Errorf(core.KindBadOption, "collection already exists: %s", name)
	}
	c, err := m.create(p, title)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.colls[c.Name] = c
	m.mu.Unlock()
	return c, nil
}

func (m *Manager) create(p, title string) (*Collection, error) {
	now := m.now()
	c := &Collection{
		Name:      strings.TrimSuffix(path.Base(p), Ext),
		Path:      p,
		Header:    Header{Title: title, Created: now, Updated: now},
		hasHeader: true,
		fs:        m.fs,
		now:       m.now,
	}
	if err := m.fs.MkdirAll(m.dir, 0o755); err != nil {
		return nil, err
	}
	data, err := c.Encode()
	if err != nil {
		return nil, err
	}
	if err := afero.WriteFile(m.fs, p, data, 0o644); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes a collection file. The library collection cannot be removed.
func (m *Manager) Delete(name string) error {
	if name == LibraryName {
		return errors.New("the library collection cannot be removed")
	}
	c, err := m.Get(name)
	if err != nil {
		return err
	}
	if err := m.fs.Remove(c.Path); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.colls, name)
	m.mu.Unlock()
	return nil
}
