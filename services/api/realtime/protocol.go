package realtime

import (
	"time"

	"github.com/gridpulse/gridpulse/services/api/aggregation"
	"github.com/gridpulse/gridpulse/services/api/apperr"
	"github.com/gridpulse/gridpulse/services/api/models"
)

// Client message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeRequestData = "requestData"
	TypePing        = "ping"
)

// Server message types.
const (
	TypeConnected    = "connected"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeDataResponse = "dataResponse"
	TypeBroadcast    = "broadcast"
	TypeError        = "error"
	TypePong         = "pong"
)

// ClientMessage is an inbound frame.
type ClientMessage struct {
	Type      string `json:"type"`
	Level     string `json:"level,omitempty"`
	EntityID  string `json:"entityId,omitempty"`
	Window    string `json:"window,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ServerMessage is an outbound frame. Fields not relevant to Type are
// omitted.
type ServerMessage struct {
	Type       string              `json:"type"`
	Level      models.Level        `json:"level,omitempty"`
	EntityID   string              `json:"entityId,omitempty"`
	Window     aggregation.Window  `json:"window,omitempty"`
	Data       *aggregation.Result `json:"data,omitempty"`
	Timestamp  string              `json:"timestamp,omitempty"`
	RequestID  string              `json:"requestId,omitempty"`
	Message    string              `json:"message,omitempty"`
	Code       apperr.Kind         `json:"code,omitempty"`
	IdentityID string              `json:"identityId,omitempty"`
	Topics     []string            `json:"topics,omitempty"`
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func connectedMsg(c *Conn, now time.Time) ServerMessage {
	topics := c.Topics()
	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = t.String()
	}
	return ServerMessage{Type: TypeConnected, IdentityID: c.identity.ID, Topics: names, Timestamp: stamp(now)}
}

func subscribedMsg(t Topic, requestID string) ServerMessage {
	return ServerMessage{Type: TypeSubscribed, Level: t.Level, EntityID: t.EntityID, RequestID: requestID}
}

func unsubscribedMsg(t Topic, requestID string) ServerMessage {
	return ServerMessage{Type: TypeUnsubscribed, Level: t.Level, EntityID: t.EntityID, RequestID: requestID}
}

func dataResponseMsg(res aggregation.Result, requestID string, now time.Time) ServerMessage {
	return ServerMessage{
		Type:      TypeDataResponse,
		Level:     res.Level,
		EntityID:  res.EntityID,
		Window:    res.Window,
		Data:      &res,
		Timestamp: stamp(now),
		RequestID: requestID,
	}
}

func broadcastMsg(res aggregation.Result, now time.Time) ServerMessage {
	return ServerMessage{Type: TypeBroadcast, Level: models.LevelSector, Window: res.Window, Data: &res, Timestamp: stamp(now)}
}

func errorMsg(err error, requestID string) ServerMessage {
	return ServerMessage{Type: TypeError, Message: err.Error(), Code: apperr.KindOf(err), RequestID: requestID}
}

func pongMsg(requestID string, now time.Time) ServerMessage {
	return ServerMessage{Type: TypePong, RequestID: requestID, Timestamp: stamp(now)}
}
