// Package oracle fetches the external settlement price.
package oracle

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrMalformed   = errors.New("malformed price response")
	ErrBadStatus   = errors.New("unexpected price response status")
	ErrUnavailable = errors.New("settlement price unavailable")
)

// PriceSource returns one settlement price per call.
type PriceSource interface {
	Price(ctx context.Context) (decimal.Decimal, error)
}

// PriceFunc adapts a function to PriceSource.
type PriceFunc func(ctx context.Context) (decimal.Decimal, error)

func (f PriceFunc) Price(ctx context.Context) (decimal.Decimal, error) { return f(ctx) }

// Static always returns the same price. Used for offline runs.
type Static struct{ Value decimal.Decimal }

func (s Static) Price(context.Context) (decimal.Decimal, error) { return s.Value, nil }
