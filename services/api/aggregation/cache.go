package aggregation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gridpulse/gridpulse/services/api/models"
)

const keyPrefix = "agg"

// Key addresses one cached result: (level, entity|ALL, window).
type Key struct {
	Level    models.Level
	EntityID string
	Window   Window
}

// String renders the key as "agg:{LEVEL}:{entity}:{window}".
func (k Key) String() string {
	return keyPrefix + ":" + string(k.Level) + ":" + k.EntityID + ":" + string(k.Window)
}

// ParseKey is the inverse of Key.String. Entity ids may themselves contain
// colons; the window never does.
func ParseKey(s string) (Key, bool) {
	rest, ok := strings.CutPrefix(s, keyPrefix+":")
	if !ok {
		return Key{}, false
	}
	level, rest, ok := strings.Cut(rest, ":")
	if !ok {
		return Key{}, false
	}
	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return Key{}, false
	}
	return Key{Level: models.Level(level), EntityID: rest[:i], Window: Window(rest[i+1:])}, true
}

// Selector matches cache keys for invalidation. Empty fields and "ALL" match
// anything.
type Selector struct {
	Level    string
	EntityID string
	Window   string
}

func wildcard(s string) bool {
	return s == "" || strings.EqualFold(s, models.AllEntities)
}

// Matches reports whether k is selected.
func (s Selector) Matches(k Key) bool {
	if !wildcard(s.Level) && !strings.EqualFold(s.Level, string(k.Level)) {
		return false
	}
	if !wildcard(s.EntityID) && s.EntityID != k.EntityID {
		return false
	}
	if !wildcard(s.Window) && !strings.EqualFold(s.Window, string(k.Window)) {
		return false
	}
	return true
}

// Pattern renders the selector as a redis glob.
func (s Selector) Pattern() string {
	part := func(v string, upper bool) string {
		if wildcard(v) {
			return "*"
		}
		if upper {
			v = strings.ToUpper(v)
		} else {
			v = strings.ToLower(v)
		}
		return globEscape(v)
	}
	entity := "*"
	if !wildcard(s.EntityID) {
		entity = globEscape(s.EntityID)
	}
	return keyPrefix + ":" + part(s.Level, true) + ":" + entity + ":" + part(s.Window, false)
}

func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Cache stores results with a TTL. Implementations must hand out copies so a
// stored result is never mutated after it is written.
type Cache interface {
	Get(ctx context.Context, key Key) (Result, bool, error)
	Set(ctx context.Context, key Key, res Result, ttl time.Duration) error
	Delete(ctx context.Context, sel Selector) (int, error)
	Keys(ctx context.Context) ([]Key, error)
}

type memoryEntry struct {
	res       Result
	expiresAt time.Time
}

// MemoryCache is a process-local Cache. Expired entries are dropped lazily.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[Key]memoryEntry
	now   func() time.Time
}

// NewMemoryCache returns an empty cache. now may be nil.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{items: make(map[Key]memoryEntry), now: now}
}

func (c *MemoryCache) Get(_ context.Context, key Key) (Result, bool, error) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return Result{}, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, still := c.items[key]; still && !c.now().Before(cur.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return Result{}, false, nil
	}
	return e.res, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key Key, res Result, ttl time.Duration) error {
	c.mu.Lock()
	c.items[key] = memoryEntry{res: res, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, sel Selector) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.items {
		if sel.Matches(k) {
			delete(c.items, k)
			n++
		}
	}
	return n, nil
}

func (c *MemoryCache) Keys(_ context.Context) ([]Key, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	keys := make([]Key, 0, len(c.items))
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}
