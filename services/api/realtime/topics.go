package realtime

import (
	"sync"

	"github.com/gridpulse/gridpulse/services/api/models"
)

// Topic is a push group for one level+entity.
type Topic struct {
	Level    models.Level
	EntityID string
}

// SectorTopic is joined by every authenticated connection and receives the
// periodic broadcast.
var SectorTopic = Topic{Level: models.LevelSector, EntityID: models.AllEntities}

func (t Topic) String() string { return string(t.Level) + ":" + t.EntityID }

type topicSet struct {
	mu      sync.Mutex
	members map[*Conn]struct{}
	// dropped is set once the empty set is unlinked from the registry.
	dropped bool
}

// Registry tracks topic membership. Joins and leaves on one topic are
// serialized by that topic's lock. A topic exists only while it has members.
type Registry struct {
	mu     sync.RWMutex
	topics map[Topic]*topicSet
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{topics: make(map[Topic]*topicSet)}
}

func (r *Registry) set(t Topic, create bool) *topicSet {
	r.mu.RLock()
	ts := r.topics[t]
	r.mu.RUnlock()
	if ts != nil || !create {
		return ts
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ts = r.topics[t]; ts == nil {
		ts = &topicSet{members: make(map[*Conn]struct{})}
		r.topics[t] = ts
	}
	return ts
}

// Join adds c to t. It reports false when c has already disconnected, in
// which case nothing changes.
func (r *Registry) Join(c *Conn, t Topic) bool {
	for {
		ts := r.set(t, true)
		ts.mu.Lock()
		if ts.dropped {
			ts.mu.Unlock()
			continue
		}
		ok := r.join(c, t, ts)
		ts.mu.Unlock()
		return ok
	}
}

// join runs with ts locked.
func (r *Registry) join(c *Conn, t Topic, ts *topicSet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		r.dropIfEmpty(t, ts)
		return false
	}
	c.topics[t] = struct{}{}
	ts.members[c] = struct{}{}
	return true
}

// remove deletes c from t's set and drops the set once it is empty.
func (r *Registry) remove(c *Conn, t Topic) {
	ts := r.set(t, false)
	if ts == nil {
		return
	}
	ts.mu.Lock()
	delete(ts.members, c)
	r.dropIfEmpty(t, ts)
	ts.mu.Unlock()
}

// dropIfEmpty unlinks an empty set. It runs with ts locked; lock order is
// topic set before registry.
func (r *Registry) dropIfEmpty(t Topic, ts *topicSet) {
	if len(ts.members) > 0 || ts.dropped {
		return
	}
	ts.dropped = true
	r.mu.Lock()
	if r.topics[t] == ts {
		delete(r.topics, t)
	}
	r.mu.Unlock()
}

// Leave removes c from t. Leaving a topic that was never joined is a no-op.
func (r *Registry) Leave(c *Conn, t Topic) {
	r.remove(c, t)
	c.mu.Lock()
	delete(c.topics, t)
	c.mu.Unlock()
}

// RemoveAll marks c closed and drops it from every topic it joined. Joins
// racing with RemoveAll either complete first and are undone here, or
// observe the closed flag and fail.
func (r *Registry) RemoveAll(c *Conn) {
	c.mu.Lock()
	c.closed = true
	joined := make([]Topic, 0, len(c.topics))
	for t := range c.topics {
		joined = append(joined, t)
	}
	c.topics = make(map[Topic]struct{})
	c.mu.Unlock()

	for _, t := range joined {
		r.remove(c, t)
	}
}

// Members returns a snapshot of the connections joined to t.
func (r *Registry) Members(t Topic) []*Conn {
	ts := r.set(t, false)
	if ts == nil {
		return nil
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]*Conn, 0, len(ts.members))
	for c := range ts.members {
		out = append(out, c)
	}
	return out
}

// Sizes returns the member count of every non-empty topic.
func (r *Registry) Sizes() map[string]int {
	r.mu.RLock()
	sets := make(map[Topic]*topicSet, len(r.topics))
	for t, ts := range r.topics {
		sets[t] = ts
	}
	r.mu.RUnlock()

	out := make(map[string]int, len(sets))
	for t, ts := range sets {
		ts.mu.Lock()
		n := len(ts.members)
		ts.mu.Unlock()
		if n > 0 {
			out[t.String()] = n
		}
	}
	return out
}
