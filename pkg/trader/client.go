// Package trader is a WebSocket client for the exchange plus a simple
// random-walk market-making bot built on it.
package trader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/bomex/pkg/app/core/instrument"
	"github.com/uhyunpark/bomex/pkg/app/core/ledger"
	"github.com/uhyunpark/bomex/pkg/app/core/orderbook"
	"github.com/uhyunpark/bomex/pkg/app/exchange"
)

// Handler receives exchange events. Embed NopHandler to implement only
// the callbacks you need. Callbacks run on the client's read goroutine.
type Handler interface {
	OnNewInstrument(inst instrument.Instrument)
	OnInstrumentClosed(pnls map[string]ledger.Entry)
	OnOrderConfirmation(o orderbook.Order)
	// OnTrade is only called for trades the client is a party to.
	OnTrade(t orderbook.Trade)
	OnRemovedOrders(orders []orderbook.Order)
	OnPnls(pnls map[string]ledger.Entry)
	OnAllTrades(trades []orderbook.Trade)
	OnError(info exchange.ErrorInfo)
}

type NopHandler struct{}

func (NopHandler) OnNewInstrument(instrument.Instrument)       {}
func (NopHandler) OnInstrumentClosed(map[string]ledger.Entry) {}
func (NopHandler) OnOrderConfirmation(orderbook.Order)         {}
func (NopHandler) OnTrade(orderbook.Trade)                     {}
func (NopHandler) OnRemovedOrders([]orderbook.Order)           {}
func (NopHandler) OnPnls(map[string]ledger.Entry)              {}
func (NopHandler) OnAllTrades([]orderbook.Trade)               {}
func (NopHandler) OnError(exchange.ErrorInfo)                  {}

// inbound mirrors exchange.Event with raw payloads.
type inbound struct {
	Type              string                 `json:"type"`
	Data              json.RawMessage        `json:"data"`
	Order             json.RawMessage        `json:"order"`
	Pnls              json.RawMessage        `json:"pnls"`
	Trades            json.RawMessage        `json:"trades"`
	CurrentInstrument *instrument.Instrument `json:"current_instrument"`
}

type outOrder struct {
	ID        string           `json:"id,omitempty"`
	Sender    string           `json:"sender"`
	Direction string           `json:"direction"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Size      int64            `json:"size,omitempty"`
}

type outbound struct {
	Type   string    `json:"type"`
	Order  *outOrder `json:"order,omitempty"`
	Sender string    `json:"sender,omitempty"`
}

// Client is one participant connected to the exchange.
type Client struct {
	id      string
	conn    *websocket.Conn
	handler Handler
	log     *zap.SugaredLogger

	writeMu sync.Mutex

	mu      sync.RWMutex
	current *instrument.Instrument
}

// Dial connects to the exchange WebSocket at url as participant id.
func Dial(ctx context.Context, url, id string, h Handler, log *zap.SugaredLogger) (*Client, error) {
	if id == "" {
		return nil, errors.New("trader id is required")
	}
	if h == nil {
		h = NopHandler{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{id: id, conn: conn, handler: h, log: log}, nil
}

func (c *Client) ID() string { return c.id }

// Instrument returns the instrument currently open, if known.
func (c *Client) Instrument() (instrument.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return instrument.Instrument{}, false
	}
	return *c.current, true
}

func (c *Client) setInstrument(inst *instrument.Instrument) {
	c.mu.Lock()
	c.current = inst
	c.mu.Unlock()
}

func (c *Client) write(msg outbound) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// SendOrder places a limit order as this participant.
func (c *Client) SendOrder(side orderbook.Side, price decimal.Decimal, size int64) error {
	return c.write(outbound{Type: "order", Order: &outOrder{
		Sender: c.id, Direction: side.String(), Price: &price, Size: size,
	}})
}

// RemoveOrder cancels one of this participant's resting orders.
func (c *Client) RemoveOrder(o orderbook.Order) error {
	return c.write(outbound{Type: "remove_order", Order: &outOrder{
		ID: o.ID, Sender: c.id, Direction: o.Direction.String(), Price: &o.Price,
	}})
}

// ClearOrders cancels every resting order of this participant.
func (c *Client) ClearOrders() error {
	return c.write(outbound{Type: "clear_orders", Sender: c.id})
}

func (c *Client) RequestPnls() error { return c.write(outbound{Type: "get_pnls"}) }

func (c *Client) RequestAllTrades() error { return c.write(outbound{Type: "get_trades"}) }

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// Run reads events and dispatches them to the handler until the connection
// closes or ctx is done.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := c.dispatch(msg); err != nil {
			c.log.Warnw("trader_bad_event", "trader", c.id, "err", err)
		}
	}
}

func (c *Client) dispatch(msg []byte) error {
	var ev inbound
	if err := json.Unmarshal(msg, &ev); err != nil {
		return err
	}

	switch ev.Type {
	case exchange.EventInitialState:
		c.setInstrument(ev.CurrentInstrument)
		if ev.CurrentInstrument != nil {
			c.handler.OnNewInstrument(*ev.CurrentInstrument)
		}

	case exchange.EventNewInstrument:
		var inst instrument.Instrument
		if err := json.Unmarshal(ev.Data, &inst); err != nil {
			return fmt.Errorf("new_instrument: %w", err)
		}
		c.setInstrument(&inst)
		c.handler.OnNewInstrument(inst)

	case exchange.EventInstrumentClosed:
		c.setInstrument(nil)
		var pnls map[string]ledger.Entry
		if err := json.Unmarshal(ev.Data, &pnls); err != nil {
			return fmt.Errorf("instrument_closed: %w", err)
		}
		c.handler.OnInstrumentClosed(pnls)

	case exchange.EventOrderConfirmation:
		var o orderbook.Order
		if err := json.Unmarshal(ev.Data, &o); err != nil {
			return fmt.Errorf("order_confirmation: %w", err)
		}
		c.handler.OnOrderConfirmation(o)

	case exchange.EventTrades:
		var trades []orderbook.Trade
		if err := json.Unmarshal(ev.Data, &trades); err != nil {
			return fmt.Errorf("trades: %w", err)
		}
		for _, t := range trades {
			if t.Buyer == c.id || t.Seller == c.id {
				c.handler.OnTrade(t)
			}
		}

	case exchange.EventRemovedOrders:
		var orders []orderbook.Order
		if err := json.Unmarshal(ev.Data, &orders); err != nil {
			return fmt.Errorf("removed_orders: %w", err)
		}
		c.handler.OnRemovedOrders(orders)

	case exchange.EventPnls:
		var pnls map[string]ledger.Entry
		if err := json.Unmarshal(ev.Pnls, &pnls); err != nil {
			return fmt.Errorf("pnls: %w", err)
		}
		c.handler.OnPnls(pnls)

	case exchange.EventAllTrades:
		var trades []orderbook.Trade
		if err := json.Unmarshal(ev.Trades, &trades); err != nil {
			return fmt.Errorf("all_trades: %w", err)
		}
		c.handler.OnAllTrades(trades)

	case exchange.EventError:
		var info exchange.ErrorInfo
		if err := json.Unmarshal(ev.Data, &info); err != nil {
			return fmt.Errorf("error: %w", err)
		}
		c.handler.OnError(info)

	default:
		c.log.Debugw("trader_unknown_event", "type", ev.Type)
	}
	return nil
}
