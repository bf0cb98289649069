package exchange

import "github.com/uhyunpark/bomex/pkg/app/core/orderbook"

type RequestKind int

const (
	KindOrder RequestKind = iota
	KindCancel
	KindClear
	KindGetPnls
	KindGetTrades
	KindSubscribe
	KindGetBook
	KindGetInstrument
	KindDisconnect
)

func (k RequestKind) String() string {
	switch k {
	case KindOrder:
		return "order"
	case KindCancel:
		return "remove_order"
	case KindClear:
		return "clear_orders"
	case KindGetPnls:
		return "get_pnls"
	case KindGetTrades:
		return "get_trades"
	case KindSubscribe:
		return "subscribe"
	case KindGetBook:
		return "get_book"
	case KindGetInstrument:
		return "get_instrument"
	case KindDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Request is a unit of work for the exchange loop.
//
// Reply and Attach run on the loop goroutine, so they must not block. Reply
// receives responses meant for the requester only. Attach runs right after
// the initial_state reply of a KindSubscribe request; registering a
// broadcast subscriber there guarantees it sees every later event.
type Request struct {
	Kind   RequestKind
	Order  orderbook.Order // KindOrder; ID and Sender for KindCancel
	Sender string          // KindClear
	Conn   string          // connection a KindOrder came from; KindDisconnect target
	Reply  func(Event)
	Attach func()
}

func (r Request) reply(ev Event) {
	if r.Reply != nil {
		r.Reply(ev)
	}
}
