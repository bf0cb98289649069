package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/bomex/pkg/app/core/matching"
	"github.com/uhyunpark/bomex/pkg/app/core/orderbook"
	"github.com/uhyunpark/bomex/pkg/app/exchange"
)

func init() {
	// Prices and PnL go out as JSON numbers, which is what clients parse.
	decimal.MarshalJSONWithoutQuotes = true
}

var ErrMalformed = errors.New("malformed request")

// ==============================
// WebSocket Request Types
// ==============================

// WSRequest is the envelope of every inbound WebSocket message.
type WSRequest struct {
	Type   string   `json:"type"`
	Order  *WSOrder `json:"order,omitempty"`
	Sender string   `json:"sender,omitempty"`
}

// WSOrder is the order body of "order" and "remove_order". Clients echo
// whole orders back on remove, so unknown fields like timestamp are ignored.
type WSOrder struct {
	ID        string           `json:"id,omitempty"`
	Sender    string           `json:"sender"`
	Direction string           `json:"direction"`
	Price     *decimal.Decimal `json:"price"`
	Size      *int64           `json:"size"`
}

// decodeRequest parses one inbound message into an exchange request. The
// returned type string is what error replies refer to, even on failure.
func decodeRequest(raw []byte) (string, exchange.Request, error) {
	var msg WSRequest
	if err := json.Unmarshal(raw, &msg); err != nil {
		// Best effort at recovering the type for the error reply.
		var envelope struct {
			Type string `json:"type"`
		}
		json.Unmarshal(raw, &envelope)
		return envelope.Type, exchange.Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch msg.Type {
	case "order":
		o, err := msg.order(true)
		if err != nil {
			return msg.Type, exchange.Request{}, err
		}
		return msg.Type, exchange.Request{Kind: exchange.KindOrder, Order: o}, nil

	case "remove_order":
		o, err := msg.order(false)
		if err != nil {
			return msg.Type, exchange.Request{}, err
		}
		if o.ID == "" {
			return msg.Type, exchange.Request{}, fmt.Errorf("%w: missing order.id", ErrMalformed)
		}
		return msg.Type, exchange.Request{Kind: exchange.KindCancel, Order: o}, nil

	case "clear_orders":
		if msg.Sender == "" {
			return msg.Type, exchange.Request{}, fmt.Errorf("%w: missing sender", ErrMalformed)
		}
		return msg.Type, exchange.Request{Kind: exchange.KindClear, Sender: msg.Sender}, nil

	case "get_pnls":
		return msg.Type, exchange.Request{Kind: exchange.KindGetPnls}, nil

	case "get_trades":
		return msg.Type, exchange.Request{Kind: exchange.KindGetTrades}, nil

	case "":
		return msg.Type, exchange.Request{}, fmt.Errorf("%w: missing type", ErrMalformed)

	default:
		return msg.Type, exchange.Request{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, msg.Type)
	}
}

// order validates the order body. Price, size and direction are only
// required for new orders.
func (m WSRequest) order(full bool) (orderbook.Order, error) {
	if m.Order == nil {
		return orderbook.Order{}, fmt.Errorf("%w: missing order", ErrMalformed)
	}
	w := m.Order
	if w.Sender == "" {
		return orderbook.Order{}, fmt.Errorf("%w: missing order.sender", ErrMalformed)
	}
	o := orderbook.Order{ID: w.ID, Sender: w.Sender}
	if !full {
		return o, nil
	}

	side, err := orderbook.ParseSide(w.Direction)
	if err != nil {
		return orderbook.Order{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Price == nil {
		return orderbook.Order{}, fmt.Errorf("%w: missing order.price", ErrMalformed)
	}
	if err := matching.CheckPrice(*w.Price); err != nil {
		return orderbook.Order{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Size == nil {
		return orderbook.Order{}, fmt.Errorf("%w: missing order.size", ErrMalformed)
	}
	o.Direction = side
	o.Price = *w.Price
	o.Size = *w.Size
	return o, nil
}

// ==============================
// REST Response Types
// ==============================

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
