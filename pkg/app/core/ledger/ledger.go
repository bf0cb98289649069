// Package ledger tracks per-participant positions for the open instrument
// and the cumulative PnL record across settled instruments.
package ledger

import (
	"maps"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/bomex/pkg/app/core/orderbook"
)

// Position is a participant's exposure in the open instrument.
type Position struct {
	Trades   []orderbook.Trade `json:"trades"`
	Position int64             `json:"position"` // +bought, -sold
}

// Entry is a participant's settled PnL record. It survives instrument rolls.
type Entry struct {
	TotalPnL        decimal.Decimal            `json:"total_pnl"`
	PnL             map[string]decimal.Decimal `json:"pnl"` // instrument name -> pnl
	SettlementPrice decimal.Decimal            `json:"settlement_price"`
}

func (e Entry) clone() Entry {
	e.PnL = maps.Clone(e.PnL)
	return e
}

// Ledger is not safe for concurrent use; the exchange loop owns it.
type Ledger struct {
	positions map[string]*Position
	entries   map[string]*Entry
}

func New() *Ledger {
	return &Ledger{
		positions: make(map[string]*Position),
		entries:   make(map[string]*Entry),
	}
}

func (l *Ledger) position(id string) *Position {
	p, ok := l.positions[id]
	if !ok {
		p = &Position{Trades: make([]orderbook.Trade, 0)}
		l.positions[id] = p
	}
	return p
}

// RecordTrade appends t to both counterparties' positions. A self-trade is
// recorded once per role and nets to zero.
func (l *Ledger) RecordTrade(t orderbook.Trade) {
	seller := l.position(t.Seller)
	seller.Trades = append(seller.Trades, t)
	seller.Position -= t.Size

	buyer := l.position(t.Buyer)
	buyer.Trades = append(buyer.Trades, t)
	buyer.Position += t.Size
}

// Settle marks every open position to price, books the result under
// instrument and discards the positions. It returns this settlement's PnL
// per participant.
func (l *Ledger) Settle(price decimal.Decimal, instrument string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(l.positions))
	for id, p := range l.positions {
		pnl := decimal.Zero
		for _, t := range p.Trades {
			size := decimal.NewFromInt(t.Size)
			if t.Buyer == id {
				pnl = pnl.Add(price.Sub(t.Price).Mul(size))
			}
			if t.Seller == id {
				pnl = pnl.Add(t.Price.Sub(price).Mul(size))
			}
		}
		// Self-trades sit in Trades twice; each copy nets to zero.

		e, ok := l.entries[id]
		if !ok {
			e = &Entry{TotalPnL: decimal.Zero, PnL: make(map[string]decimal.Decimal)}
			l.entries[id] = e
		}
		e.PnL[instrument] = pnl
		e.TotalPnL = e.TotalPnL.Add(pnl)
		e.SettlementPrice = price
		out[id] = pnl
	}
	l.DiscardPositions()
	return out
}

// DiscardPositions drops open positions without booking any PnL.
func (l *Ledger) DiscardPositions() {
	l.positions = make(map[string]*Position)
}

// Position returns a copy of one participant's open position.
func (l *Ledger) Position(id string) (Position, bool) {
	p, ok := l.positions[id]
	if !ok {
		return Position{}, false
	}
	return Position{Trades: append([]orderbook.Trade(nil), p.Trades...), Position: p.Position}, true
}

// Positions returns a copy of all open positions.
func (l *Ledger) Positions() map[string]Position {
	out := make(map[string]Position, len(l.positions))
	for id := range l.positions {
		out[id], _ = l.Position(id)
	}
	return out
}

// Snapshot returns a deep copy of the PnL record.
func (l *Ledger) Snapshot() map[string]Entry {
	out := make(map[string]Entry, len(l.entries))
	for id, e := range l.entries {
		out[id] = e.clone()
	}
	return out
}

// Entry returns a copy of one participant's PnL record.
func (l *Ledger) Entry(id string) (Entry, bool) {
	e, ok := l.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}
