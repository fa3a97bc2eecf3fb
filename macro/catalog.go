package macro

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const catalogTTL = 5 * time.Second

// Catalog lists the macro names available in a directory. Listings are
// cached briefly so completion can run on every keystroke without hitting
// the filesystem each time.
type Catalog struct {
	dir   string
	cache *ttlcache.Cache[string, []string]
}

// NewCatalog creates a catalog of the macros in dir.
func NewCatalog(dir string) *Catalog {
	return newCatalog(dir, catalogTTL)
}

func newCatalog(dir string, ttl time.Duration) *Catalog {
	loader := ttlcache.LoaderFunc[string, []string](
		func(c *ttlcache.Cache[string, []string], key string) *ttlcache.Item[string, []string] {
			return c.Set(key, listMacros(key), ttlcache.DefaultTTL)
		},
	)
	c := ttlcache.New[string, []string](
		ttlcache.WithTTL[string, []string](ttl),
		ttlcache.WithDisableTouchOnHit[string, []string](),
		ttlcache.WithLoader[string, []string](loader),
	)
	go c.Start()
	return &Catalog{dir: dir, cache: c}
}

// Names returns the macro names in lexical order.
func (c *Catalog) Names() []string {
	item := c.cache.Get(c.dir)
	if item == nil {
		return nil
	}
	return item.Value()
}

// Invalidate drops the cached listing.
func (c *Catalog) Invalidate() {
	c.cache.Delete(c.dir)
}

// Close stops the cache expiration loop.
func (c *Catalog) Close() {
	c.cache.Stop()
}

// listMacros returns the regular, non-hidden files in dir.
func listMacros(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Debug("no macro directory", "dir", dir, "error", err)
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names
}
