package realtime

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gridpulse/gridpulse/services/api/auth"
)

// ConnState is the lifecycle position of a connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateActive
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateActive:
		return "ACTIVE"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Conn is one observer. Outbound frames are queued on a bounded buffer and
// drained by the transport; a full buffer means the client is gone or too
// slow and the connection is dropped.
type Conn struct {
	id          string
	connectedAt time.Time
	state       atomic.Int32
	identity    auth.Identity

	send    chan []byte
	replies chan chan ServerMessage
	done    chan struct{}
	once    sync.Once
	ctx     context.Context
	cancel  context.CancelFunc

	// guarded by mu; topic membership is written only through Registry
	mu     sync.Mutex
	topics map[Topic]struct{}
	closed bool
}

func newConn(sendBuffer int) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:          uuid.NewString(),
		connectedAt: time.Now(),
		send:        make(chan []byte, sendBuffer),
		replies:     make(chan chan ServerMessage, sendBuffer),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		topics:      make(map[Topic]struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// ID is the connection's unique id.
func (c *Conn) ID() string { return c.id }

// Identity is the authenticated caller; zero until ACTIVE.
func (c *Conn) Identity() auth.Identity { return c.identity }

// State returns the current lifecycle state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// Send yields encoded frames for the transport to write.
func (c *Conn) Send() <-chan []byte { return c.send }

// Done is closed once the connection is disconnected.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Topics lists the joined topics in sorted order.
func (c *Conn) Topics() []Topic {
	c.mu.Lock()
	out := make([]Topic, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// enqueue queues a frame without blocking. It reports false when the
// connection is closed or its buffer is full.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// shutdown closes done exactly once and reports whether this call did it.
func (c *Conn) shutdown() bool {
	first := false
	c.once.Do(func() {
		first = true
		c.state.Store(int32(StateDisconnected))
		c.cancel()
		close(c.done)
	})
	return first
}
