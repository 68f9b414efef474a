package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"fxlink/internal/gateway/exchange"
)

var testUpgrader = websocket.Upgrader{}

// wsServer starts a websocket endpoint whose handler plays the gateway
// side of one session.
func wsServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectAuthenticatesAndStreams(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil || gjson.GetBytes(data, "type").String() != "auth" {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"welcome"}`))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"tick","data":{"symbol":"EURUSD","bid":1.1000,"ask":1.1002}}`))
		time.Sleep(200 * time.Millisecond)
	})

	up := make(chan struct{})
	client := NewClient(url, "acct-1", Options{OnUp: func() { close(up) }})
	require.NoError(t, client.Connect("tok-1"))
	defer client.Disconnect()

	select {
	case <-up:
	case <-time.After(2 * time.Second):
		t.Fatal("session never came up")
	}
	require.Eventually(t, func() bool {
		_, ok := client.LatestQuote("EURUSD")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConnectAuthRejectReportsDown(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"reject","error":"bad token"}`))
	})

	down := make(chan error, 1)
	client := NewClient(url, "acct-1", Options{OnDown: func(err error) { down <- err }})
	require.NoError(t, client.Connect("bad"))
	defer client.Disconnect()

	select {
	case err := <-down:
		assert.True(t, exchange.IsConnKind(err, exchange.ConnAuthFailed))
	case <-time.After(2 * time.Second):
		t.Fatal("auth rejection never surfaced")
	}
}

func TestDisconnectDuringConnectReturnsPromptly(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		// hold the auth response so teardown races session setup
		conn.ReadMessage()
		time.Sleep(3 * time.Second)
	})

	client := NewClient(url, "acct-1", Options{})
	require.NoError(t, client.Connect("tok-1"))

	done := make(chan struct{})
	go func() {
		client.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disconnect blocked on a half-open session")
	}
}

func TestDisconnectWhenNeverConnectedIsANoop(t *testing.T) {
	client := NewClient("ws://127.0.0.1:0", "acct-1", Options{})
	client.Disconnect()
}
