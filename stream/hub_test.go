package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/fxassist/broker"
	"github.com/rustyeddy/fxassist/trader"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Clients() == n }, 2*time.Second, 5*time.Millisecond)
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]map[string]any
	require.NoError(t, json.Unmarshal(msg, &out))
	return out
}

func TestHubBroadcastsFrames(t *testing.T) {
	t.Parallel()
	h := NewHub(zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	a := dial(t, srv)
	b := dial(t, srv)
	waitClients(t, h, 2)

	h.Publish(trader.Frame{
		Account:     &broker.Account{Balance: 500, Equity: 505, Profit: 5},
		Instruments: map[string]trader.InstrumentFrame{"EURUSD": {Bid: 1.1, Ask: 1.1002, LotSize: 0.01}},
	})

	for _, conn := range []*websocket.Conn{a, b} {
		f := readFrame(t, conn)
		assert.Equal(t, 505.0, f["account"]["equity"])
		assert.Equal(t, 1.1002, f["EURUSD"]["ask"])
	}
}

func TestLateClientGetsLastFrame(t *testing.T) {
	t.Parallel()
	h := NewHub(zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	h.Publish(trader.Frame{Instruments: map[string]trader.InstrumentFrame{"GBPUSD": {Bid: 1.25}}})

	conn := dial(t, srv)
	f := readFrame(t, conn)
	assert.Equal(t, 1.25, f["GBPUSD"]["bid"])
}

func TestClientDisconnectIsRemoved(t *testing.T) {
	t.Parallel()
	h := NewHub(zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	conn := dial(t, srv)
	waitClients(t, h, 1)
	require.NoError(t, conn.Close())
	waitClients(t, h, 0)

	// publishing with nobody connected is a no-op
	h.Broadcast([]byte(`{}`))
	h.Close()
}
