// Package matching runs price-time priority matching of limit orders
// against a single order book.
package matching

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/bomex/pkg/app/core/orderbook"
	"github.com/uhyunpark/bomex/pkg/util"
)

var (
	ErrZeroSize     = errors.New("order size is zero")
	ErrNegativeSize = errors.New("order size is negative")
	ErrBadDirection = errors.New("order direction must be BUY or SELL")
	ErrNoSender     = errors.New("order sender is empty")

	ErrPriceOutOfRange = errors.New("order price out of range")
)

// Accepted prices: |price| <= MaxPrice with at most -MinPriceExponent
// decimal places.
var MaxPrice = decimal.New(1, 9)

const (
	MinPriceExponent = -24
	maxPriceExponent = 9
)

// CheckPrice refuses prices outside the tradable range. The exponent is
// inspected before any comparison so that inputs like 1e20000000 never
// reach bignum arithmetic.
func CheckPrice(price decimal.Decimal) error {
	exp := price.Exponent()
	if exp < MinPriceExponent || exp > maxPriceExponent {
		return ErrPriceOutOfRange
	}
	if price.Abs().Cmp(MaxPrice) > 0 {
		return ErrPriceOutOfRange
	}
	return nil
}

// TradeRecorder is notified of every trade in execution order.
type TradeRecorder interface {
	RecordTrade(t orderbook.Trade)
}

type Config struct {
	TickSize decimal.Decimal
	Clock    util.Clock
	NewID    func() string // nil = UUIDv4
	Recorder TradeRecorder // may be nil
}

// Result of a submit. Confirmation is nil when the order filled completely.
// Exhausted lists resting orders that were filled to zero and left the book.
type Result struct {
	Confirmation *orderbook.Order
	Trades       []orderbook.Trade
	Exhausted    []orderbook.Order
}

type Engine struct {
	book     *orderbook.OrderBook
	trades   []orderbook.Trade
	tick     decimal.Decimal
	clock    util.Clock
	newID    func() string
	recorder TradeRecorder
}

func NewEngine(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if !cfg.TickSize.IsPositive() {
		cfg.TickSize = decimal.RequireFromString("0.1")
	}
	return &Engine{
		book:     orderbook.NewOrderBook(cfg.Clock, cfg.NewID),
		tick:     cfg.TickSize,
		clock:    cfg.Clock,
		newID:    cfg.NewID,
		recorder: cfg.Recorder,
	}
}

// RoundToTick snaps price to the nearest multiple of tick, halves rounding
// towards +inf: floor(price/tick + 0.5) * tick.
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	// q truncates towards zero; r carries the sign of price.
	q, r := price.QuoRem(tick, 0)
	twice := r.Abs().Mul(decimal.NewFromInt(2))
	switch {
	case r.IsPositive() && twice.Cmp(tick) >= 0:
		q = q.Add(decimal.NewFromInt(1))
	case r.IsNegative() && twice.Cmp(tick) > 0:
		q = q.Sub(decimal.NewFromInt(1))
	}
	return q.Mul(tick)
}

func validate(o orderbook.Order) error {
	if !o.Direction.Valid() {
		return ErrBadDirection
	}
	if o.Sender == "" {
		return ErrNoSender
	}
	if err := CheckPrice(o.Price); err != nil {
		return err
	}
	switch {
	case o.Size == 0:
		return ErrZeroSize
	case o.Size < 0:
		return fmt.Errorf("%w: %d", ErrNegativeSize, o.Size)
	}
	return nil
}

// Submit matches o against the opposite side and rests any remainder.
// A rejected order leaves the book and history untouched.
func (e *Engine) Submit(o orderbook.Order) (Result, error) {
	if err := validate(o); err != nil {
		return Result{}, err
	}
	o.Price = RoundToTick(o.Price, e.tick)
	o.ID = e.newID()

	res := Result{Trades: make([]orderbook.Trade, 0)}
	for o.Size > 0 {
		maker, ok := e.book.BestOpposing(o.Direction, o.Price)
		if !ok {
			break
		}
		qty := min(o.Size, maker.Size)
		tr := e.newTrade(&o, maker, qty)
		if err := e.book.Fill(maker, qty); err != nil {
			return res, fmt.Errorf("fill resting order %s: %w", maker.ID, err)
		}
		o.Size -= qty
		if maker.Size == 0 {
			res.Exhausted = append(res.Exhausted, *maker)
		}

		e.trades = append(e.trades, tr)
		res.Trades = append(res.Trades, tr)
		if e.recorder != nil {
			e.recorder.RecordTrade(tr)
		}
	}

	if o.Size > 0 {
		rest := o
		rested, err := e.book.Add(&rest)
		if err != nil {
			return res, err
		}
		conf := *rested
		res.Confirmation = &conf
	}
	return res, nil
}

func (e *Engine) newTrade(taker, maker *orderbook.Order, qty int64) orderbook.Trade {
	tr := orderbook.Trade{
		ID:        e.newID(),
		Price:     maker.Price,
		Size:      qty,
		Timestamp: e.clock.Now().UnixMilli(),
	}
	if taker.Direction == orderbook.Buy {
		tr.BuyOrderID, tr.Buyer = taker.ID, taker.Sender
		tr.SellOrderID, tr.Seller = maker.ID, maker.Sender
	} else {
		tr.BuyOrderID, tr.Buyer = maker.ID, maker.Sender
		tr.SellOrderID, tr.Seller = taker.ID, taker.Sender
	}
	return tr
}

// Cancel removes one resting order of sender.
func (e *Engine) Cancel(sender, id string) (orderbook.Order, bool) {
	o, ok := e.book.Remove(sender, id)
	if !ok {
		return orderbook.Order{}, false
	}
	return *o, true
}

// ClearAllForSender removes every resting order of sender on both sides.
func (e *Engine) ClearAllForSender(sender string) []orderbook.Order {
	removed := make([]orderbook.Order, 0)
	for _, o := range e.book.OrdersBySender(sender) {
		if r, ok := e.book.Remove(sender, o.ID); ok {
			removed = append(removed, *r)
		}
	}
	return removed
}

// Trades returns the trade history of the current instrument, oldest first.
func (e *Engine) Trades() []orderbook.Trade {
	out := make([]orderbook.Trade, len(e.trades))
	copy(out, e.trades)
	return out
}

// LastPrice returns the price of the most recent trade.
func (e *Engine) LastPrice() (decimal.Decimal, bool) {
	if len(e.trades) == 0 {
		return decimal.Zero, false
	}
	return e.trades[len(e.trades)-1].Price, true
}

// Book exposes the order book for read-only queries.
func (e *Engine) Book() *orderbook.OrderBook { return e.book }

// Reset clears the book and trade history.
func (e *Engine) Reset() {
	e.book.Reset()
	e.trades = nil
}
