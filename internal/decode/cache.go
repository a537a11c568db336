package decode

import (
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/lanikai/camhal/internal/frame"
)

// A Cache remembers decoded images by path, so sources that loop over the
// same files decode each one once. Every hit returns a private copy.
type Cache struct {
	mu    sync.Mutex
	mode  Mode
	lru   *lru.Cache
	hits  int
	total int
}

// NewCache returns a cache holding up to size images. A size of zero disables
// caching; File then always decodes.
func NewCache(size int, mode Mode) *Cache {
	c := &Cache{mode: mode}
	if size > 0 {
		c.lru = lru.New(size)
	}
	return c
}

// File returns the decoded image at path.
func (c *Cache) File(path string) (*frame.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	if c.lru != nil {
		if v, ok := c.lru.Get(path); ok {
			c.hits++
			return v.(*frame.Image).Clone(), nil
		}
	}

	img, err := File(path, c.mode)
	if err != nil {
		return nil, err
	}
	if c.lru != nil {
		c.lru.Add(path, img.Clone())
	}
	return img, nil
}

// Stats returns the number of cache hits and lookups so far.
func (c *Cache) Stats() (hits, lookups int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.total
}
