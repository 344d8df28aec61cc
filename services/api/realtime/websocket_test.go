package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpulse/gridpulse/services/api/apperr"
	"github.com/gridpulse/gridpulse/services/api/auth"
)

func dial(t *testing.T, srv *httptest.Server, header http.Header, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMsg(t *testing.T, ws *websocket.Conn) ServerMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var msg ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHandler_FullSession(t *testing.T) {
	h := newHarness(t, nil, Config{})
	srv := httptest.NewServer(NewHandler(h.svc, []string{"*"}))
	defer srv.Close()

	header := http.Header{"Authorization": {"Bearer " + h.token(t, auth.Grant{Subject: "op-7", Plants: []string{"P1"}})}}
	ws := dial(t, srv, header, "")

	welcome := readMsg(t, ws)
	assert.Equal(t, TypeConnected, welcome.Type)
	assert.Equal(t, "op-7", welcome.IdentityID)
	assert.Equal(t, []string{"PLANT:P1", "SECTOR:ALL"}, welcome.Topics)

	send := func(m ClientMessage) {
		require.NoError(t, ws.WriteJSON(m))
	}

	send(ClientMessage{Type: TypeSubscribe, Level: "EQUIPMENT", EntityID: "E1", RequestID: "1"})
	msg := readMsg(t, ws)
	assert.Equal(t, TypeSubscribed, msg.Type)
	assert.Equal(t, "E1", msg.EntityID)

	send(ClientMessage{Type: TypeSubscribe, Level: "PLANT", EntityID: "P2", RequestID: "2"})
	msg = readMsg(t, ws)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, apperr.KindAccessDenied, msg.Code)

	send(ClientMessage{Type: TypeRequestData, Level: "PLANT", EntityID: "P1", Window: "1h", RequestID: "3"})
	msg = readMsg(t, ws)
	assert.Equal(t, TypeDataResponse, msg.Type)
	assert.Equal(t, "3", msg.RequestID)

	send(ClientMessage{Type: TypePing, RequestID: "4"})
	assert.Equal(t, TypePong, readMsg(t, ws).Type)

	n := h.svc.Publish(SectorTopic, broadcastMsg(*msg.Data, time.Now()))
	assert.Equal(t, 1, n)
	assert.Equal(t, TypeBroadcast, readMsg(t, ws).Type)

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return h.svc.Stats().Connections == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, h.svc.Stats().Topics)
}

func TestHandler_TokenFromQuery(t *testing.T) {
	h := newHarness(t, nil, Config{})
	srv := httptest.NewServer(NewHandler(h.svc, nil))
	defer srv.Close()

	ws := dial(t, srv, nil, "?token="+h.token(t, auth.Grant{}))
	assert.Equal(t, TypeConnected, readMsg(t, ws).Type)
}

func TestHandler_BadTokenClosesWithPolicyViolation(t *testing.T) {
	h := newHarness(t, nil, Config{})
	srv := httptest.NewServer(NewHandler(h.svc, nil))
	defer srv.Close()

	ws := dial(t, srv, http.Header{"Authorization": {"Bearer not-a-jwt"}}, "")

	msg := readMsg(t, ws)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, apperr.KindAccessDenied, msg.Code)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, 0, h.svc.Stats().Connections)
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	h := newHarness(t, nil, Config{})
	srv := httptest.NewServer(NewHandler(h.svc, []string{"https://dashboard.example.com"}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Origin": {"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
