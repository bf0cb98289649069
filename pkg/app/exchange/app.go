// Package exchange runs the single-instrument exchange: one goroutine owns
// the order book, the ledger and the instrument lifecycle, and everything
// else talks to it through a mailbox.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/bomex/pkg/app/core/instrument"
	"github.com/uhyunpark/bomex/pkg/app/core/ledger"
	"github.com/uhyunpark/bomex/pkg/app/core/matching"
	"github.com/uhyunpark/bomex/pkg/app/core/orderbook"
	"github.com/uhyunpark/bomex/pkg/metrics"
	"github.com/uhyunpark/bomex/pkg/oracle"
	"github.com/uhyunpark/bomex/pkg/util"
)

var (
	ErrBusy         = errors.New("exchange busy: mailbox full")
	ErrMarketClosed = errors.New("market closed")
)

// Broadcaster delivers an event to every subscriber. It is called from the
// loop goroutine and must not block.
type Broadcaster interface {
	Broadcast(ev Event)
}

// BroadcastFunc adapts a function to Broadcaster.
type BroadcastFunc func(Event)

func (f BroadcastFunc) Broadcast(ev Event) { f(ev) }

type Config struct {
	InstrumentTick time.Duration
	TickSize       decimal.Decimal
	MailboxSize    int
	NewID          func() string // nil = UUIDv4
}

type settlement struct {
	instrument string
	price      decimal.Decimal
	err        error
	took       time.Duration
}

type App struct {
	cfg    Config
	engine *matching.Engine
	ledger *ledger.Ledger
	oracle oracle.PriceSource
	clock  util.Clock
	out    Broadcaster
	log    *zap.SugaredLogger

	inbox   chan Request
	settled chan settlement

	// owned by the loop
	owners  map[string]string // resting order id -> placing connection
	current instrument.Instrument
	status  instrument.Status
	timer   util.Timer
}

func New(cfg Config, src oracle.PriceSource, out Broadcaster, clock util.Clock, log *zap.SugaredLogger) *App {
	if cfg.InstrumentTick <= 0 {
		cfg.InstrumentTick = 30 * time.Minute
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 4096
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if out == nil {
		out = BroadcastFunc(func(Event) {})
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	l := ledger.New()
	return &App{
		cfg: cfg,
		engine: matching.NewEngine(matching.Config{
			TickSize: cfg.TickSize,
			Clock:    clock,
			NewID:    cfg.NewID,
			Recorder: l,
		}),
		ledger:  l,
		oracle:  src,
		clock:   clock,
		out:     out,
		log:     log,
		owners:  make(map[string]string),
		inbox:   make(chan Request, cfg.MailboxSize),
		settled: make(chan settlement, 1),
	}
}

// Submit enqueues req without blocking. It fails fast with ErrBusy when the
// mailbox is full.
func (a *App) Submit(req Request) error {
	select {
	case a.inbox <- req:
		return nil
	default:
		metrics.MailboxRejected.Inc()
		return ErrBusy
	}
}

// Call submits req and waits for its first reply.
func (a *App) Call(ctx context.Context, req Request) (Event, error) {
	ch := make(chan Event, 1)
	req.Reply = func(ev Event) {
		select {
		case ch <- ev:
		default:
		}
	}
	if err := a.Submit(req); err != nil {
		return Event{}, err
	}
	select {
	case ev := <-ch:
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Run opens the first instrument and processes requests, expiries and
// settlement results one at a time until ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.openInstrument()
	defer func() {
		if a.timer != nil {
			a.timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			a.log.Infow("exchange_stopped", "instrument", a.current.Name)
			return nil
		case req := <-a.inbox:
			a.handle(req)
		case <-a.timerC():
			a.expire(ctx)
		case res := <-a.settled:
			a.finishSettlement(res)
		}
	}
}

func (a *App) timerC() <-chan time.Time {
	if a.timer == nil {
		return nil
	}
	return a.timer.C()
}

func (a *App) handle(req Request) {
	switch req.Kind {
	case KindOrder:
		a.placeOrder(req)
	case KindCancel:
		a.cancelOrder(req)
	case KindClear:
		removed := a.engine.ClearAllForSender(req.Sender)
		a.forget(removed)
		a.log.Debugw("orders_cleared", "sender", req.Sender, "count", len(removed))
		a.out.Broadcast(Event{Type: EventRemovedOrders, Data: removed})
		a.updateBookGauge()
	case KindGetPnls:
		req.reply(Event{Type: EventPnls, Pnls: a.ledger.Snapshot()})
	case KindGetTrades:
		req.reply(Event{Type: EventAllTrades, Trades: a.engine.Trades()})
	case KindSubscribe:
		req.reply(a.initialState())
		if req.Attach != nil {
			req.Attach()
		}
	case KindGetBook:
		req.reply(Event{Type: EventOrderBook, Data: BookView{
			Instrument: a.current.Name,
			Bids:       a.engine.Book().GetBidLevels(),
			Asks:       a.engine.Book().GetAskLevels(),
		}})
	case KindGetInstrument:
		req.reply(Event{Type: EventInstrument, Data: InstrumentView{Instrument: a.current, Status: a.status.String()}})
	case KindDisconnect:
		a.disconnect(req.Conn)
	default:
		req.reply(errorEvent(req.Kind, fmt.Errorf("unknown request kind %d", int(req.Kind))))
	}
}

func (a *App) placeOrder(req Request) {
	if a.status != instrument.Open {
		metrics.OrdersTotal.WithLabelValues(metrics.OrderClosed).Inc()
		req.reply(errorEvent(req.Kind, ErrMarketClosed))
		return
	}

	res, err := a.engine.Submit(req.Order)
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(metrics.OrderRejected).Inc()
		a.log.Debugw("order_rejected", "sender", req.Order.Sender, "err", err)
		req.reply(errorEvent(req.Kind, err))
		return
	}

	a.forget(res.Exhausted)
	if res.Confirmation != nil && req.Conn != "" {
		a.owners[res.Confirmation.ID] = req.Conn
	}

	if len(res.Exhausted) > 0 {
		a.out.Broadcast(Event{Type: EventRemovedOrders, Data: res.Exhausted})
	}
	if res.Confirmation != nil {
		metrics.OrdersTotal.WithLabelValues(metrics.OrderRested).Inc()
		a.out.Broadcast(Event{Type: EventOrderConfirmation, Data: res.Confirmation, Order: res.Confirmation})
	} else {
		metrics.OrdersTotal.WithLabelValues(metrics.OrderFilled).Inc()
	}
	a.out.Broadcast(Event{Type: EventTrades, Data: res.Trades})

	for _, t := range res.Trades {
		metrics.TradesTotal.Inc()
		metrics.TradedVolume.Add(float64(t.Size))
		a.log.Debugw("trade", "buyer", t.Buyer, "seller", t.Seller, "price", t.Price.String(), "size", t.Size)
	}
	a.updateBookGauge()
}

func (a *App) cancelOrder(req Request) {
	removed, ok := a.engine.Cancel(req.Order.Sender, req.Order.ID)
	if !ok {
		metrics.CancelsTotal.WithLabelValues("false").Inc()
		a.log.Debugw("cancel_miss", "sender", req.Order.Sender, "order_id", req.Order.ID)
		return
	}
	metrics.CancelsTotal.WithLabelValues("true").Inc()
	delete(a.owners, removed.ID)
	a.out.Broadcast(Event{Type: EventRemovedOrders, Data: []orderbook.Order{removed}})
	a.updateBookGauge()
}

// disconnect removes the resting orders placed through conn. Orders the
// same sender placed through another connection stay on the book.
func (a *App) disconnect(conn string) {
	if conn == "" {
		return
	}
	removed := make([]orderbook.Order, 0)
	for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
		for _, o := range a.engine.Book().Orders(side) {
			if a.owners[o.ID] != conn {
				continue
			}
			if r, ok := a.engine.Cancel(o.Sender, o.ID); ok {
				removed = append(removed, r)
			}
		}
	}
	a.forget(removed)
	a.log.Debugw("connection_orders_cleared", "conn", conn, "count", len(removed))
	if len(removed) == 0 {
		return
	}
	a.out.Broadcast(Event{Type: EventRemovedOrders, Data: removed})
	a.updateBookGauge()
}

func (a *App) forget(orders []orderbook.Order) {
	for _, o := range orders {
		delete(a.owners, o.ID)
	}
}

func (a *App) initialState() Event {
	inst := a.current
	return Event{
		Type: EventInitialState,
		Exchange: &State{
			BuyOrders:  groupByPrice(a.engine.Book().Orders(orderbook.Buy)),
			SellOrders: groupByPrice(a.engine.Book().Orders(orderbook.Sell)),
			Trades:     a.engine.Trades(),
			Positions:  a.ledger.Positions(),
		},
		Pnls:              a.ledger.Snapshot(),
		CurrentInstrument: &inst,
	}
}

func groupByPrice(orders []orderbook.Order) map[string][]orderbook.Order {
	out := make(map[string][]orderbook.Order)
	for _, o := range orders {
		k := o.Price.String()
		out[k] = append(out[k], o)
	}
	return out
}

func (a *App) updateBookGauge() {
	metrics.RestingOrders.Set(float64(a.engine.Book().Len()))
}

// openInstrument starts trading the instrument that expires at the next
// boundary and arms the expiry timer.
func (a *App) openInstrument() {
	inst, delay := instrument.Next(a.clock.Now(), a.cfg.InstrumentTick)
	a.current = inst
	a.status = instrument.Open
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = a.clock.NewTimer(delay)

	a.log.Infow("instrument_opened", "name", inst.Name, "expiry", inst.Expiry, "wait", delay.String())
	a.out.Broadcast(Event{Type: EventNewInstrument, Data: inst})
}

// expire suspends matching and fetches the settlement price in the
// background. The result comes back through a.settled.
func (a *App) expire(ctx context.Context) {
	a.timer = nil
	a.status = instrument.Settling
	name := a.current.Name
	a.log.Infow("instrument_expired", "name", name, "resting_orders", a.engine.Book().Len())

	go func() {
		start := time.Now()
		price, err := a.oracle.Price(ctx)
		res := settlement{instrument: name, price: price, err: err, took: time.Since(start)}
		select {
		case a.settled <- res:
		case <-ctx.Done():
		}
	}()
}

// finishSettlement books PnL (or skips it when no price could be fetched),
// clears the book and opens the next instrument.
func (a *App) finishSettlement(res settlement) {
	if res.instrument != a.current.Name || a.status != instrument.Settling {
		a.log.Warnw("settlement_stale", "instrument", res.instrument, "current", a.current.Name)
		return
	}
	metrics.OracleDuration.Observe(res.took.Seconds())

	if res.err != nil {
		metrics.SettlementsTotal.WithLabelValues(metrics.SettlementSkipped).Inc()
		a.log.Errorw("settlement_skipped", "instrument", res.instrument, "err", res.err)
		a.ledger.DiscardPositions()
	} else {
		pnls := a.ledger.Settle(res.price, res.instrument)
		metrics.SettlementsTotal.WithLabelValues(metrics.SettlementSettled).Inc()
		metrics.SettlementPrice.Set(res.price.InexactFloat64())
		a.log.Infow("instrument_settled", "instrument", res.instrument, "price", res.price.String(), "participants", len(pnls))
	}

	a.out.Broadcast(Event{Type: EventInstrumentClosed, Data: a.ledger.Snapshot()})
	a.engine.Reset()
	clear(a.owners)
	a.updateBookGauge()
	a.openInstrument()
}
