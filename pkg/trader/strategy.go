package trader

import (
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/bomex/pkg/app/core/orderbook"
)

// RandomWalkConfig bounds the walk and shapes the quotes.
type RandomWalkConfig struct {
	MinPrice float64
	MaxPrice float64
	Start    float64
	Step     float64 // move per generated order
	Nudge    float64 // move per own fill, towards the fill side
	Spread   float64 // half spread added to sells, taken off buys
	MaxSize  int64
}

func DefaultRandomWalkConfig() RandomWalkConfig {
	return RandomWalkConfig{
		MinPrice: 20,
		MaxPrice: 30,
		Start:    25,
		Step:     1,
		Nudge:    0.5,
		Spread:   0.5,
		MaxSize:  10,
	}
}

// RandomWalk quotes around a mean-reverting random walk within
// [MinPrice, MaxPrice].
type RandomWalk struct {
	cfg RandomWalkConfig
	rng *rand.Rand

	mu    sync.Mutex
	price float64
}

func NewRandomWalk(cfg RandomWalkConfig, rng *rand.Rand) *RandomWalk {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	return &RandomWalk{cfg: cfg, rng: rng, price: cfg.Start}
}

// Price returns the current walk level.
func (s *RandomWalk) Price() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price
}

// Next steps the walk and returns an order quoted off the new level.
// The chance of stepping down grows linearly from 25% at MinPrice to 75% at
// MaxPrice.
func (s *RandomWalk) Next() (orderbook.Side, decimal.Decimal, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	side := orderbook.Buy
	if s.rng.Intn(2) == 1 {
		side = orderbook.Sell
	}

	span := s.cfg.MaxPrice - s.cfg.MinPrice
	pDown := 0.5
	if span > 0 {
		pDown = ((s.price-s.cfg.MinPrice)/span-0.5)/2 + 0.5
	}
	if s.rng.Float64() < pDown {
		s.price -= s.cfg.Step
	} else {
		s.price += s.cfg.Step
	}
	s.price = min(max(s.price, s.cfg.MinPrice), s.cfg.MaxPrice)

	quote := s.price + s.cfg.Spread
	if side == orderbook.Buy {
		quote = s.price - s.cfg.Spread
	}
	size := 1 + s.rng.Int63n(s.cfg.MaxSize)
	return side, decimal.NewFromFloat(quote), size
}

// Filled nudges the walk after one of our orders traded: up after a buy,
// down after a sell.
func (s *RandomWalk) Filled(bought bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bought {
		s.price += s.cfg.Nudge
	} else {
		s.price -= s.cfg.Nudge
	}
}
