package shellcache

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrGenerationDeleted is returned when writing through a handle to a
// generation that has since been deleted.
var ErrGenerationDeleted = errors.New("cache generation deleted")

// CacheStorage holds named cache generations. Implementations must be safe
// for concurrent use.
type CacheStorage interface {
	// Open returns the named generation, creating it when absent.
	Open(name string) (Cache, error)
	// Lookup returns the named generation without creating it.
	Lookup(name string) (Cache, bool, error)
	Has(name string) (bool, error)
	// Names lists every generation, sorted.
	Names() ([]string, error)
	// Delete drops a generation and all of its entries. It reports whether
	// the generation existed.
	Delete(name string) (bool, error)
	Close() error
}

// Cache is one generation. Entries are replaced whole, never patched.
type Cache interface {
	Name() string
	Match(key string) (Response, bool, error)
	// Put and PutAll fail with ErrGenerationDeleted once the generation is
	// gone; a handle never brings its generation back.
	Put(key string, resp Response) error
	// PutAll stores every entry or none of them.
	PutAll(entries []Entry) error
	Keys() ([]string, error)
}

// ---- memory storage ----

type memStorage struct {
	mu     sync.RWMutex
	caches map[string]*memCache
}

func NewMemStorage() CacheStorage {
	return &memStorage{caches: map[string]*memCache{}}
}

func (s *memStorage) Open(name string) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		c = &memCache{s: s, name: name, entries: map[string]storedEntry{}}
		s.caches[name] = c
	}
	return c, nil
}

func (s *memStorage) Lookup(name string) (Cache, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.caches[name]
	if !ok {
		return nil, false, nil
	}
	return c, true, nil
}

func (s *memStorage) Has(name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.caches[name]
	return ok, nil
}

func (s *memStorage) Names() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.caches))
	for k := range s.caches {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memStorage) Delete(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	delete(s.caches, name)
	return ok, nil
}

func (s *memStorage) Close() error { return nil }

type memCache struct {
	s    *memStorage
	name string

	mu      sync.RWMutex
	entries map[string]storedEntry
}

func (c *memCache) Name() string { return c.name }

func (c *memCache) Match(key string) (Response, bool, error) {
	c.mu.RLock()
	ent, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Response{}, false, nil
	}
	return ent.response().Clone(), true, nil
}

func (c *memCache) Put(key string, resp Response) error {
	return c.PutAll([]Entry{{Key: key, Response: resp}})
}

func (c *memCache) PutAll(entries []Entry) error {
	// held across the write so Delete cannot interleave
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	if c.s.caches[c.name] != c {
		return errors.Wrap(ErrGenerationDeleted, c.name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		c.entries[e.Key] = newStoredEntry(e.Response.Clone())
	}
	return nil
}

func (c *memCache) Keys() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func newStoredEntry(resp Response) storedEntry {
	return storedEntry{
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Header:     resp.Header,
		Body:       resp.Body,
		StoredAt:   time.Now().Unix(),
	}
}

func (e storedEntry) response() Response {
	return Response{
		Status:     e.Status,
		StatusText: e.StatusText,
		Header:     e.Header,
		Body:       e.Body,
	}
}
