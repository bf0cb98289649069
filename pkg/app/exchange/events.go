package exchange

import (
	"github.com/uhyunpark/bomex/pkg/app/core/instrument"
	"github.com/uhyunpark/bomex/pkg/app/core/ledger"
	"github.com/uhyunpark/bomex/pkg/app/core/orderbook"
)

// Outbound event types.
const (
	EventInitialState      = "initial_state"
	EventNewInstrument     = "new_instrument"
	EventInstrumentClosed  = "instrument_closed"
	EventOrderConfirmation = "order_confirmation"
	EventTrades            = "trades"
	EventRemovedOrders     = "removed_orders"
	EventPnls              = "pnls"
	EventAllTrades         = "all_trades"
	EventError             = "error"

	// REST-only replies.
	EventOrderBook  = "orderbook"
	EventInstrument = "instrument"
)

// Event is one outbound message. Only the fields relevant to Type are set;
// payload fields are typed any so that empty collections still serialise.
type Event struct {
	Type              string                 `json:"type"`
	Data              any                    `json:"data,omitempty"`
	Order             *orderbook.Order       `json:"order,omitempty"`
	Pnls              any                    `json:"pnls,omitempty"`
	Trades            any                    `json:"trades,omitempty"`
	Exchange          *State                 `json:"exchange,omitempty"`
	CurrentInstrument *instrument.Instrument `json:"current_instrument,omitempty"`
}

// State is the full book and position view sent to new subscribers.
// Resting orders are keyed by their price rendered as a string.
type State struct {
	BuyOrders  map[string][]orderbook.Order `json:"buy_orders"`
	SellOrders map[string][]orderbook.Order `json:"sell_orders"`
	Trades     []orderbook.Trade            `json:"trades"`
	Positions  map[string]ledger.Position   `json:"positions"`
}

// BookView is aggregated depth, best price first.
type BookView struct {
	Instrument string                 `json:"instrument"`
	Bids       []orderbook.PriceLevel `json:"bids"`
	Asks       []orderbook.PriceLevel `json:"asks"`
}

// InstrumentView is the current instrument with the trading status.
type InstrumentView struct {
	instrument.Instrument
	Status string `json:"status"`
}

// ErrorInfo is the payload of an error event.
type ErrorInfo struct {
	Request string `json:"request"`
	Message string `json:"message"`
}

// NewErrorEvent builds the error reply for a request of the given type.
func NewErrorEvent(request string, err error) Event {
	return Event{Type: EventError, Data: ErrorInfo{Request: request, Message: err.Error()}}
}

func errorEvent(kind RequestKind, err error) Event { return NewErrorEvent(kind.String(), err) }
