package orderbook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the side an order of this side trades against.
func (s Side) Opposite() Side { return -s }

func (s Side) Valid() bool { return s == Buy || s == Sell }

// ParseSide accepts "BUY"/"SELL" in any case.
func ParseSide(str string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(str)) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	default:
		return 0, fmt.Errorf("invalid direction %q", str)
	}
}

func (s Side) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal side %d", int8(s))
	}
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("direction must be a string: %w", err)
	}
	parsed, err := ParseSide(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Order is a limit order. ID and Timestamp are assigned when it rests.
type Order struct {
	ID        string          `json:"id"`
	Sender    string          `json:"sender"`
	Direction Side            `json:"direction"`
	Price     decimal.Decimal `json:"price"`
	Size      int64           `json:"size"`
	Timestamp int64           `json:"timestamp"` // unix ms
}

// Trade is an immutable execution between a buy and a sell order.
// Price is always the resting order's price.
type Trade struct {
	ID          string          `json:"id"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	Buyer       string          `json:"buyer"`
	Seller      string          `json:"seller"`
	Price       decimal.Decimal `json:"price"`
	Size        int64           `json:"size"`
	Timestamp   int64           `json:"timestamp"` // unix ms
}

// PriceLevel is the aggregated depth at one price.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Size   int64           `json:"size"`   // total resting size
	Orders int             `json:"orders"` // number of resting orders
}
