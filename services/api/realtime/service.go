// Package realtime distributes aggregation results to authenticated,
// access-scoped observers over long-lived connections.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gridpulse/gridpulse/services/api/aggregation"
	"github.com/gridpulse/gridpulse/services/api/apperr"
	"github.com/gridpulse/gridpulse/services/api/auth"
	"github.com/gridpulse/gridpulse/services/api/models"
)

// Aggregator is the part of the aggregation engine the service calls.
type Aggregator interface {
	Aggregate(ctx context.Context, level models.Level, entityID string, window aggregation.Window) (aggregation.Result, error)
	AggregateSector(ctx context.Context, window aggregation.Window) (aggregation.Result, error)
}

// ParentResolver finds the parent of an entity; used to place equipment
// under its plant for access checks.
type ParentResolver interface {
	ParentOf(ctx context.Context, level models.Level, entityID string) (string, error)
}

// Config tunes a Service. Zero values fall back to defaults.
type Config struct {
	RequestTimeout time.Duration
	DefaultWindow  aggregation.Window
	SendBuffer     int
	Logger         *slog.Logger
	Registerer     prometheus.Registerer
	Now            func() time.Time
}

var errConnClosed = errors.New("connection closed")

// Service owns connections and topic membership and answers their requests.
type Service struct {
	engine   Aggregator
	parents  ParentResolver
	authn    auth.Authenticator
	registry *Registry
	cfg      Config
	logger   *slog.Logger
	metrics  *serviceMetrics

	mu     sync.RWMutex
	conns  map[string]*Conn
	closed bool
}

// NewService wires a distribution service.
func NewService(engine Aggregator, parents ParentResolver, authn auth.Authenticator, cfg Config) *Service {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.DefaultWindow == "" {
		cfg.DefaultWindow = aggregation.MustWindow("1h")
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:   engine,
		parents:  parents,
		authn:    authn,
		registry: NewRegistry(),
		cfg:      cfg,
		logger:   logger,
		metrics:  newServiceMetrics(cfg.Registerer),
		conns:    make(map[string]*Conn),
	}
}

// NewConn creates a connection in the CONNECTING state.
func (s *Service) NewConn() *Conn { return newConn(s.cfg.SendBuffer) }

// Authenticate moves c to ACTIVE, joins its scope's topics and queues the
// welcome frame. On failure c ends DISCONNECTED with no topic membership.
func (s *Service) Authenticate(ctx context.Context, c *Conn, token string) error {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticating)) {
		return apperr.Invalid("authenticate", "connection is %s", c.State())
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	id, err := s.authn.Authenticate(ctx, token)
	if err != nil {
		c.shutdown()
		s.metrics.authFailed()
		s.logger.Info("realtime authentication failed", "conn", c.id, "error", err)
		return err
	}
	c.identity = id

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.shutdown()
		return errConnClosed
	}
	c.state.Store(int32(StateActive))
	s.conns[c.id] = c
	s.mu.Unlock()
	s.metrics.connected()

	for _, t := range autoTopics(id.Scope) {
		s.registry.Join(c, t)
	}
	go s.deliverReplies(c)
	s.send(c, connectedMsg(c, s.cfg.Now()))
	s.logger.Debug("realtime connection active", "conn", c.id, "identity", id.ID, "unrestricted", id.Scope.IsUnrestricted())
	return nil
}

// autoTopics is the topic set joined on authentication: the sector plus
// every state and plant of a restricted scope.
func autoTopics(scope auth.AccessScope) []Topic {
	topics := []Topic{SectorTopic}
	if scope.IsUnrestricted() {
		return topics
	}
	for _, id := range scope.States() {
		topics = append(topics, Topic{Level: models.LevelState, EntityID: id})
	}
	for _, id := range scope.Plants() {
		topics = append(topics, Topic{Level: models.LevelPlant, EntityID: id})
	}
	return topics
}

// Subscribe joins c to the topic after an access check.
func (s *Service) Subscribe(ctx context.Context, c *Conn, level, entityID string) (Topic, error) {
	t, err := target(level, entityID)
	if err != nil {
		return Topic{}, err
	}
	if c.State() != StateActive {
		return Topic{}, errConnClosed
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	if err := s.authorize(ctx, c.identity, t); err != nil {
		return Topic{}, apperr.FromContext("subscribe", err)
	}
	if !s.registry.Join(c, t) {
		return Topic{}, errConnClosed
	}
	return t, nil
}

// Unsubscribe leaves the topic. It is idempotent.
func (s *Service) Unsubscribe(c *Conn, level, entityID string) (Topic, error) {
	t, err := target(level, entityID)
	if err != nil {
		return Topic{}, err
	}
	s.registry.Leave(c, t)
	return t, nil
}

// RequestOnDemand computes one aggregate for c after an access check. An
// empty window selects the configured default.
func (s *Service) RequestOnDemand(ctx context.Context, c *Conn, level, entityID, window string) (aggregation.Result, error) {
	t, err := target(level, entityID)
	if err != nil {
		return aggregation.Result{}, err
	}
	w := s.cfg.DefaultWindow
	if window != "" {
		if w, err = aggregation.ParseWindow(window); err != nil {
			return aggregation.Result{}, err
		}
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	if err := s.authorize(ctx, c.identity, t); err != nil {
		return aggregation.Result{}, apperr.FromContext("request data", err)
	}
	res, err := s.engine.Aggregate(ctx, t.Level, t.EntityID, w)
	if err != nil {
		return aggregation.Result{}, apperr.FromContext("request data", err)
	}
	return res, nil
}

// Authorize checks that id may read the entity. The sector is public to any
// authenticated identity; equipment is visible when its plant is.
func (s *Service) Authorize(ctx context.Context, id auth.Identity, level models.Level, entityID string) error {
	return s.authorize(ctx, id, Topic{Level: level, EntityID: entityID})
}

func (s *Service) authorize(ctx context.Context, id auth.Identity, t Topic) error {
	scope := id.Scope
	if scope.IsUnrestricted() || t.Level == models.LevelSector {
		return nil
	}
	switch t.Level {
	case models.LevelState:
		if scope.HasState(t.EntityID) {
			return nil
		}
	case models.LevelPlant:
		if scope.HasPlant(t.EntityID) {
			return nil
		}
	case models.LevelEquipment:
		plant, err := s.parents.ParentOf(ctx, models.LevelEquipment, t.EntityID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
		case err != nil:
			return apperr.Upstream("resolve equipment plant", err)
		case scope.HasPlant(plant):
			return nil
		}
	}
	return apperr.AccessDenied("authorize", "%s %q is outside the access scope", t.Level, t.EntityID)
}

func target(level, entityID string) (Topic, error) {
	l, err := models.ParseLevel(level)
	if err != nil {
		return Topic{}, apperr.Invalid("target", "%v", err)
	}
	if l == models.LevelSector {
		return SectorTopic, nil
	}
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return Topic{}, apperr.Invalid("target", "entityId is required for %s", l)
	}
	return Topic{Level: l, EntityID: entityID}, nil
}

// Dispatch handles one inbound frame. Requests run concurrently; their
// replies are delivered in the order the frames arrived.
func (s *Service) Dispatch(c *Conn, raw []byte) {
	if c.State() != StateActive {
		return
	}
	slot := make(chan ServerMessage, 1)
	select {
	case c.replies <- slot:
	case <-c.done:
		return
	}
	go func() { slot <- s.handle(c, raw) }()
}

func (s *Service) deliverReplies(c *Conn) {
	for {
		select {
		case slot := <-c.replies:
			select {
			case msg := <-slot:
				if !s.send(c, msg) {
					return
				}
			case <-c.done:
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *Service) handle(c *Conn, raw []byte) ServerMessage {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return errorMsg(apperr.Invalid("decode", "malformed message"), "")
	}
	ctx := c.ctx
	switch msg.Type {
	case TypeSubscribe:
		t, err := s.Subscribe(ctx, c, msg.Level, msg.EntityID)
		if err != nil {
			return s.reject(c, msg, err)
		}
		return subscribedMsg(t, msg.RequestID)
	case TypeUnsubscribe:
		t, err := s.Unsubscribe(c, msg.Level, msg.EntityID)
		if err != nil {
			return s.reject(c, msg, err)
		}
		return unsubscribedMsg(t, msg.RequestID)
	case TypeRequestData:
		res, err := s.RequestOnDemand(ctx, c, msg.Level, msg.EntityID, msg.Window)
		if err != nil {
			return s.reject(c, msg, err)
		}
		return dataResponseMsg(res, msg.RequestID, s.cfg.Now())
	case TypePing:
		return pongMsg(msg.RequestID, s.cfg.Now())
	default:
		return s.reject(c, msg, apperr.Invalid("dispatch", "unknown message type %q", msg.Type))
	}
}

func (s *Service) reject(c *Conn, msg ClientMessage, err error) ServerMessage {
	s.logger.Debug("realtime request rejected",
		"conn", c.id, "type", msg.Type, "level", msg.Level, "entity", msg.EntityID,
		"code", apperr.KindOf(err), "error", err)
	return errorMsg(err, msg.RequestID)
}

// send queues msg for c; a failed enqueue drops the connection.
func (s *Service) send(c *Conn, msg ServerMessage) bool {
	frame, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("encode realtime frame", "type", msg.Type, "error", err)
		return true
	}
	if !c.enqueue(frame) {
		s.Disconnect(c, "send_failed")
		return false
	}
	s.metrics.sent(msg.Type, 1)
	return true
}

// Publish fans msg out to every member of t and returns how many received
// it. Members whose buffers are full are disconnected.
func (s *Service) Publish(t Topic, msg ServerMessage) int {
	frame, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("encode realtime frame", "type", msg.Type, "error", err)
		return 0
	}
	delivered := 0
	for _, c := range s.registry.Members(t) {
		if c.enqueue(frame) {
			delivered++
			continue
		}
		s.Disconnect(c, "send_failed")
	}
	s.metrics.sent(msg.Type, delivered)
	return delivered
}

// Disconnect removes c from every topic and releases it. Repeated calls are
// no-ops.
func (s *Service) Disconnect(c *Conn, reason string) {
	wasActive := c.State() == StateActive
	if !c.shutdown() {
		return
	}
	s.registry.RemoveAll(c)
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	s.metrics.disconnected(reason, wasActive)
	s.logger.Debug("realtime connection closed", "conn", c.id, "reason", reason,
		"duration", time.Since(c.connectedAt).Round(time.Millisecond).String())
}

// Close disconnects every connection and refuses new ones.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		s.Disconnect(c, "shutdown")
	}
}

// Stats is a snapshot of connection and topic counts.
type Stats struct {
	Connections int            `json:"connections"`
	Topics      map[string]int `json:"topics"`
}

// Stats reports active connections and topic sizes.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	n := len(s.conns)
	s.mu.RUnlock()
	return Stats{Connections: n, Topics: s.registry.Sizes()}
}
