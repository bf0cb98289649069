package orderbook

import (
	"errors"
	"fmt"

	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/bomex/pkg/util"
)

var (
	ErrInvalidSize = errors.New("order size must be positive")
	ErrInvalidSide = errors.New("order direction must be BUY or SELL")
	ErrOverfill    = errors.New("fill exceeds resting size")
	ErrNotResting  = errors.New("order is not resting in the book")
)

const btreeDegree = 16

type level struct {
	price  decimal.Decimal
	orders []*Order // FIFO, earliest first
}

func levelLess(a, b *level) bool { return a.price.LessThan(b.price) }

type bookSide struct {
	side   Side
	levels *btree.BTreeG[*level]
}

func newBookSide(s Side) *bookSide {
	return &bookSide{side: s, levels: btree.NewG(btreeDegree, levelLess)}
}

// best returns the best-priced level: highest bid, lowest ask.
func (bs *bookSide) best() (*level, bool) {
	if bs.side == Buy {
		return bs.levels.Max()
	}
	return bs.levels.Min()
}

// walk visits levels best first until fn returns false.
func (bs *bookSide) walk(fn func(*level) bool) {
	if bs.side == Buy {
		bs.levels.Descend(fn)
		return
	}
	bs.levels.Ascend(fn)
}

func (bs *bookSide) get(price decimal.Decimal) (*level, bool) {
	return bs.levels.Get(&level{price: price})
}

// OrderBook holds resting limit orders for a single instrument.
// Not safe for concurrent use; the exchange loop owns it.
type OrderBook struct {
	bids  *bookSide
	asks  *bookSide
	index map[string]*Order // order ID -> resting order

	clock util.Clock
	newID func() string
}

// NewOrderBook creates an empty book. newID may be nil (UUIDv4 ids).
func NewOrderBook(clock util.Clock, newID func() string) *OrderBook {
	if clock == nil {
		clock = util.RealClock{}
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &OrderBook{
		bids:  newBookSide(Buy),
		asks:  newBookSide(Sell),
		index: make(map[string]*Order),
		clock: clock,
		newID: newID,
	}
}

func (ob *OrderBook) sideOf(s Side) *bookSide {
	if s == Buy {
		return ob.bids
	}
	return ob.asks
}

// Add stamps o with the clock and appends it to the tail of its price level.
// o keeps a caller-assigned id unless it is empty or already resting.
// The book takes ownership of o.
func (ob *OrderBook) Add(o *Order) (*Order, error) {
	if !o.Direction.Valid() {
		return nil, ErrInvalidSide
	}
	if o.Size <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, o.Size)
	}

	for _, dup := ob.index[o.ID]; o.ID == "" || dup; _, dup = ob.index[o.ID] {
		o.ID = ob.newID()
	}
	o.Timestamp = ob.clock.Now().UnixMilli()

	bs := ob.sideOf(o.Direction)
	lv, ok := bs.get(o.Price)
	if !ok {
		lv = &level{price: o.Price}
		bs.levels.ReplaceOrInsert(lv)
	}
	lv.orders = append(lv.orders, o)
	ob.index[o.ID] = o
	return o, nil
}

// Remove deletes the resting order with the given id if it belongs to
// sender. A miss is not an error: cancels can race with matching.
func (ob *OrderBook) Remove(sender, id string) (*Order, bool) {
	o, ok := ob.index[id]
	if !ok || o.Sender != sender {
		return nil, false
	}
	ob.unlink(o)
	return o, true
}

func (ob *OrderBook) unlink(o *Order) {
	bs := ob.sideOf(o.Direction)
	if lv, ok := bs.get(o.Price); ok {
		for i, r := range lv.orders {
			if r == o {
				lv.orders = append(lv.orders[:i], lv.orders[i+1:]...)
				break
			}
		}
		if len(lv.orders) == 0 {
			bs.levels.Delete(lv)
		}
	}
	delete(ob.index, o.ID)
}

// BestOpposing returns the earliest resting order at the best opposite
// price that an incoming order of direction dir at price would cross:
// for BUY the lowest ask <= price, for SELL the highest bid >= price.
func (ob *OrderBook) BestOpposing(dir Side, price decimal.Decimal) (*Order, bool) {
	if !dir.Valid() {
		return nil, false
	}
	lv, ok := ob.sideOf(dir.Opposite()).best()
	if !ok || len(lv.orders) == 0 {
		return nil, false
	}
	if dir == Buy && lv.price.GreaterThan(price) {
		return nil, false
	}
	if dir == Sell && lv.price.LessThan(price) {
		return nil, false
	}
	return lv.orders[0], true
}

// Fill reduces a resting order by qty and removes it once exhausted.
func (ob *OrderBook) Fill(o *Order, qty int64) error {
	if cur, ok := ob.index[o.ID]; !ok || cur != o {
		return ErrNotResting
	}
	if qty <= 0 {
		return fmt.Errorf("%w: fill %d", ErrInvalidSize, qty)
	}
	if qty > o.Size {
		return fmt.Errorf("%w: fill %d, resting %d", ErrOverfill, qty, o.Size)
	}
	o.Size -= qty
	if o.Size == 0 {
		ob.unlink(o)
	}
	return nil
}

// Reset drops every resting order on both sides.
func (ob *OrderBook) Reset() {
	ob.bids.levels.Clear(false)
	ob.asks.levels.Clear(false)
	ob.index = make(map[string]*Order)
}

// Len returns the number of resting orders.
func (ob *OrderBook) Len() int { return len(ob.index) }

// Get returns a copy of a resting order.
func (ob *OrderBook) Get(id string) (Order, bool) {
	o, ok := ob.index[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Orders returns copies of the resting orders of one side, best price first
// and in time priority within a level.
func (ob *OrderBook) Orders(s Side) []Order {
	out := make([]Order, 0)
	ob.sideOf(s).walk(func(lv *level) bool {
		for _, o := range lv.orders {
			out = append(out, *o)
		}
		return true
	})
	return out
}

// OrdersBySender returns every resting order of sender, bids first.
func (ob *OrderBook) OrdersBySender(sender string) []Order {
	var out []Order
	for _, s := range []Side{Buy, Sell} {
		for _, o := range ob.Orders(s) {
			if o.Sender == sender {
				out = append(out, o)
			}
		}
	}
	return out
}

// GetBidLevels returns all bid price levels sorted high to low (best bid first).
func (ob *OrderBook) GetBidLevels() []PriceLevel { return ob.levels(Buy) }

// GetAskLevels returns all ask price levels sorted low to high (best ask first).
func (ob *OrderBook) GetAskLevels() []PriceLevel { return ob.levels(Sell) }

func (ob *OrderBook) levels(s Side) []PriceLevel {
	levels := make([]PriceLevel, 0)
	ob.sideOf(s).walk(func(lv *level) bool {
		var total int64
		for _, o := range lv.orders {
			total += o.Size
		}
		levels = append(levels, PriceLevel{Price: lv.price, Size: total, Orders: len(lv.orders)})
		return true
	})
	return levels
}

// BestBid returns the highest bid price.
func (ob *OrderBook) BestBid() (decimal.Decimal, bool) {
	lv, ok := ob.bids.best()
	if !ok {
		return decimal.Zero, false
	}
	return lv.price, true
}

// BestAsk returns the lowest ask price.
func (ob *OrderBook) BestAsk() (decimal.Decimal, bool) {
	lv, ok := ob.asks.best()
	if !ok {
		return decimal.Zero, false
	}
	return lv.price, true
}
