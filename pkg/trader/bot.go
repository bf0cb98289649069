package trader

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/bomex/pkg/app/core/instrument"
	"github.com/uhyunpark/bomex/pkg/app/core/ledger"
	"github.com/uhyunpark/bomex/pkg/app/core/orderbook"
	"github.com/uhyunpark/bomex/pkg/app/exchange"
)

// BotConfig controls how often a bot quotes.
type BotConfig struct {
	Interval time.Duration // between orders
	PnlEvery int           // request PnL every N orders; 0 disables
}

func DefaultBotConfig() BotConfig {
	return BotConfig{Interval: time.Second, PnlEvery: 5}
}

// FastBotConfig is for load testing a local exchange.
func FastBotConfig() BotConfig {
	return BotConfig{Interval: 50 * time.Millisecond, PnlEvery: 100}
}

// Bot is a Handler that feeds a RandomWalk with its own fills and logs
// what the exchange tells it.
type Bot struct {
	NopHandler
	id       string
	strategy *RandomWalk
	log      *zap.SugaredLogger
}

func NewBot(id string, strategy *RandomWalk, log *zap.SugaredLogger) *Bot {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bot{id: id, strategy: strategy, log: log}
}

func (b *Bot) OnTrade(t orderbook.Trade) {
	b.strategy.Filled(t.Buyer == b.id)
	b.log.Infow("bot_trade", "trader", b.id, "buyer", t.Buyer, "seller", t.Seller,
		"price", t.Price.String(), "size", t.Size, "walk", b.strategy.Price())
}

func (b *Bot) OnOrderConfirmation(o orderbook.Order) {
	if o.Sender == b.id {
		b.log.Debugw("bot_order_confirmed", "trader", b.id, "order_id", o.ID,
			"direction", o.Direction.String(), "price", o.Price.String(), "size", o.Size)
	}
}

func (b *Bot) OnNewInstrument(inst instrument.Instrument) {
	b.log.Infow("bot_new_instrument", "trader", b.id, "name", inst.Name, "expiry", inst.Expiry)
}

func (b *Bot) OnPnls(pnls map[string]ledger.Entry) {
	if e, ok := pnls[b.id]; ok {
		b.log.Infow("bot_pnl", "trader", b.id, "total_pnl", e.TotalPnL.String())
	}
}

func (b *Bot) OnError(info exchange.ErrorInfo) {
	b.log.Warnw("bot_request_failed", "trader", b.id, "request", info.Request, "message", info.Message)
}

// Feed places one order per interval until ctx is done, skipping while no
// instrument is open.
func Feed(ctx context.Context, c *Client, s *RandomWalk, cfg BotConfig, log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	start := time.Now()
	sent := 0
	log.Infow("bot_started", "trader", c.ID(), "interval", cfg.Interval.String())

	for {
		select {
		case <-ctx.Done():
			log.Infow("bot_stopped", "trader", c.ID(), "orders", sent, "elapsed", time.Since(start).Round(time.Second).String())
			return nil

		case <-ticker.C:
			if _, ok := c.Instrument(); !ok {
				continue
			}
			side, price, size := s.Next()
			if err := c.SendOrder(side, price, size); err != nil {
				return err
			}
			sent++
			if cfg.PnlEvery > 0 && sent%cfg.PnlEvery == 0 {
				if err := c.RequestPnls(); err != nil {
					return err
				}
			}
		}
	}
}
