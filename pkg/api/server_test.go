package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/bomex/params"
	"github.com/uhyunpark/bomex/pkg/app/exchange"
	"github.com/uhyunpark/bomex/pkg/oracle"
	"github.com/uhyunpark/bomex/pkg/util"
)

type testEnv struct {
	app *exchange.App
	hub *Hub
	ts  *httptest.Server
}

func newTestEnv(t *testing.T, mutate func(*params.Config)) *testEnv {
	t.Helper()
	cfg := params.Default()
	cfg.API.WSRate = 0
	if mutate != nil {
		mutate(&cfg)
	}

	hub := NewHub(nil)
	clock := util.NewFakeClock(time.Date(2024, 1, 1, 12, 10, 0, 0, time.UTC))
	app := exchange.New(exchange.Config{
		InstrumentTick: cfg.Exchange.InstrumentTick,
		TickSize:       cfg.Exchange.TickSize,
		MailboxSize:    cfg.Exchange.MailboxSize,
	}, oracle.Static{Value: decimal.NewFromInt(20)}, hub, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.Run(ctx)
		close(done)
	}()

	ts := httptest.NewServer(NewServer(app, hub, cfg, nil).Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
	})
	return &testEnv{app: app, hub: hub, ts: ts}
}

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msg, &ev))
	return ev
}

func eventType(ev map[string]json.RawMessage) string {
	var s string
	json.Unmarshal(ev["type"], &s)
	return s
}

func expectType(t *testing.T, conn *websocket.Conn, typ string) map[string]json.RawMessage {
	t.Helper()
	ev := readEvent(t, conn)
	require.Equal(t, typ, eventType(ev))
	return ev
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func TestWebSocket_InitialState(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t, "/ws")

	ev := expectType(t, conn, "initial_state")
	for _, key := range []string{"exchange", "pnls", "current_instrument"} {
		assert.Contains(t, ev, key)
	}
	var inst struct {
		Name   string `json:"name"`
		Expiry int64  `json:"expiry"`
	}
	require.NoError(t, json.Unmarshal(ev["current_instrument"], &inst))
	assert.Equal(t, "1:12:30", inst.Name)

	var state map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(ev["exchange"], &state))
	for _, key := range []string{"buy_orders", "sell_orders", "trades", "positions"} {
		assert.Contains(t, state, key)
	}
}

func TestWebSocket_RootPath(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t, "/")
	expectType(t, conn, "initial_state")
}

func TestWebSocket_OrderFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.dial(t, "/ws")
	bob := env.dial(t, "/ws")
	expectType(t, alice, "initial_state")
	expectType(t, bob, "initial_state")

	send(t, alice, `{"type":"order","order":{"sender":"alice","direction":"SELL","price":10.03,"size":3}}`)
	for _, c := range []*websocket.Conn{alice, bob} {
		ev := expectType(t, c, "order_confirmation")
		var data, order map[string]any
		require.NoError(t, json.Unmarshal(ev["data"], &data))
		require.NoError(t, json.Unmarshal(ev["order"], &order))
		assert.Equal(t, 10.0, data["price"], "price is a JSON number rounded to the tick")
		assert.Equal(t, data, order)
		expectType(t, c, "trades")
	}

	// Partial fill of a resting order: trades only, no confirmation.
	send(t, bob, `{"type":"order","order":{"sender":"bob","direction":"BUY","price":11,"size":2}}`)
	expectType(t, bob, "trades")
	send(t, bob, `{"type":"get_trades"}`)
	ev := expectType(t, bob, "all_trades")
	var trades []map[string]any
	require.NoError(t, json.Unmarshal(ev["trades"], &trades))
	assert.Len(t, trades, 1)
}

func TestWebSocket_TradeBroadcast(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.dial(t, "/ws")
	bob := env.dial(t, "/ws")
	expectType(t, alice, "initial_state")
	expectType(t, bob, "initial_state")

	send(t, alice, `{"type":"order","order":{"sender":"alice","direction":"SELL","price":10,"size":2}}`)
	expectType(t, alice, "order_confirmation")
	expectType(t, alice, "trades")
	expectType(t, bob, "order_confirmation")
	expectType(t, bob, "trades")

	send(t, bob, `{"type":"order","order":{"sender":"bob","direction":"BUY","price":11,"size":2}}`)
	for _, c := range []*websocket.Conn{alice, bob} {
		expectType(t, c, "removed_orders")
		ev := expectType(t, c, "trades")
		var trades []struct {
			Buyer  string  `json:"buyer"`
			Seller string  `json:"seller"`
			Price  float64 `json:"price"`
			Size   int64   `json:"size"`
		}
		require.NoError(t, json.Unmarshal(ev["data"], &trades))
		require.Len(t, trades, 1)
		assert.Equal(t, "bob", trades[0].Buyer)
		assert.Equal(t, "alice", trades[0].Seller)
		assert.Equal(t, 10.0, trades[0].Price)
	}

	send(t, alice, `{"type":"get_trades"}`)
	ev := expectType(t, alice, "all_trades")
	assert.Contains(t, ev, "trades")

	send(t, alice, `{"type":"get_pnls"}`)
	ev = expectType(t, alice, "pnls")
	assert.JSONEq(t, `{}`, string(ev["pnls"]))
}

func TestWebSocket_ErrorsGoToSenderOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.dial(t, "/ws")
	bob := env.dial(t, "/ws")
	expectType(t, alice, "initial_state")
	expectType(t, bob, "initial_state")

	send(t, alice, `{"type":"order","order":{"sender":"alice","direction":"BUY","price":"abc","size":1}}`)
	ev := expectType(t, alice, "error")
	var info exchange.ErrorInfo
	require.NoError(t, json.Unmarshal(ev["data"], &info))
	assert.Equal(t, "order", info.Request)

	send(t, alice, `{"type":"order","order":{"sender":"alice","direction":"BUY","price":1,"size":0}}`)
	ev = expectType(t, alice, "error")
	require.NoError(t, json.Unmarshal(ev["data"], &info))
	assert.Contains(t, info.Message, "zero")

	// bob sees nothing from alice's failures; his next event is his own reply.
	send(t, bob, `{"type":"get_pnls"}`)
	expectType(t, bob, "pnls")
}

func TestWebSocket_CancelAndClear(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t, "/ws")
	expectType(t, conn, "initial_state")

	send(t, conn, `{"type":"order","order":{"sender":"a","direction":"BUY","price":9,"size":1}}`)
	ev := expectType(t, conn, "order_confirmation")
	expectType(t, conn, "trades")
	var o struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(ev["data"], &o))

	send(t, conn, `{"type":"remove_order","order":{"sender":"a","id":"`+o.ID+`","price":9,"direction":"BUY"}}`)
	expectType(t, conn, "removed_orders")

	send(t, conn, `{"type":"order","order":{"sender":"a","direction":"SELL","price":12,"size":1}}`)
	expectType(t, conn, "order_confirmation")
	expectType(t, conn, "trades")
	send(t, conn, `{"type":"clear_orders","sender":"a"}`)
	ev = expectType(t, conn, "removed_orders")
	var removed []map[string]any
	require.NoError(t, json.Unmarshal(ev["data"], &removed))
	assert.Len(t, removed, 1)
}

func TestWebSocket_ClearOnDisconnect(t *testing.T) {
	env := newTestEnv(t, nil)
	watcher := env.dial(t, "/ws")
	expectType(t, watcher, "initial_state")

	leaver := env.dial(t, "/ws")
	expectType(t, leaver, "initial_state")
	send(t, leaver, `{"type":"order","order":{"sender":"leaver","direction":"BUY","price":9,"size":4}}`)
	expectType(t, watcher, "order_confirmation")
	expectType(t, watcher, "trades")

	leaver.Close()
	ev := expectType(t, watcher, "removed_orders")
	var removed []struct {
		Sender string `json:"sender"`
	}
	require.NoError(t, json.Unmarshal(ev["data"], &removed))
	require.Len(t, removed, 1)
	assert.Equal(t, "leaver", removed[0].Sender)
}

func TestWebSocket_DisconnectKeepsOrdersFromNewerConnection(t *testing.T) {
	env := newTestEnv(t, nil)
	watcher := env.dial(t, "/ws")
	expectType(t, watcher, "initial_state")

	stale := env.dial(t, "/ws")
	expectType(t, stale, "initial_state")
	send(t, stale, `{"type":"order","order":{"sender":"p","direction":"BUY","price":9,"size":1}}`)
	expectType(t, watcher, "order_confirmation")
	expectType(t, watcher, "trades")

	fresh := env.dial(t, "/ws")
	expectType(t, fresh, "initial_state")
	send(t, fresh, `{"type":"order","order":{"sender":"p","direction":"BUY","price":8,"size":2}}`)
	expectType(t, watcher, "order_confirmation")
	expectType(t, watcher, "trades")

	stale.Close()
	ev := expectType(t, watcher, "removed_orders")
	var removed []struct {
		Sender string          `json:"sender"`
		Price  decimal.Decimal `json:"price"`
	}
	require.NoError(t, json.Unmarshal(ev["data"], &removed))
	require.Len(t, removed, 1)
	assert.Equal(t, "p", removed[0].Sender)
	assert.True(t, removed[0].Price.Equal(decimal.NewFromInt(9)))

	var book exchange.BookView
	getJSON(t, env.ts.URL+"/api/v1/orderbook", &book)
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Bids[0].Price.Equal(decimal.NewFromInt(8)))
	assert.Equal(t, int64(2), book.Bids[0].Size)
}

func TestWebSocket_RateLimited(t *testing.T) {
	env := newTestEnv(t, func(cfg *params.Config) {
		cfg.API.WSRate = 0.001
		cfg.API.WSBurst = 1
	})
	conn := env.dial(t, "/ws")
	expectType(t, conn, "initial_state")

	send(t, conn, `{"type":"get_pnls"}`)
	expectType(t, conn, "pnls")
	send(t, conn, `{"type":"get_pnls"}`)
	ev := expectType(t, conn, "error")
	assert.Contains(t, string(ev["data"]), "rate limited")
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestREST(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t, "/ws")
	expectType(t, conn, "initial_state")
	send(t, conn, `{"type":"order","order":{"sender":"a","direction":"BUY","price":9.5,"size":2}}`)
	expectType(t, conn, "order_confirmation")
	expectType(t, conn, "trades")

	var inst exchange.InstrumentView
	getJSON(t, env.ts.URL+"/api/v1/instrument", &inst)
	assert.Equal(t, "1:12:30", inst.Name)
	assert.Equal(t, "Open", inst.Status)

	var book exchange.BookView
	getJSON(t, env.ts.URL+"/api/v1/orderbook", &book)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, "9.5", book.Bids[0].Price.String())
	assert.Empty(t, book.Asks)

	var trades []any
	getJSON(t, env.ts.URL+"/api/v1/trades", &trades)
	assert.Empty(t, trades)

	var pnls map[string]any
	getJSON(t, env.ts.URL+"/api/v1/pnls", &pnls)
	assert.Empty(t, pnls)

	var health HealthResponse
	getJSON(t, env.ts.URL+"/health", &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Clients)

	resp, err := http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "bomex_orders_total")
}
