package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type Options struct {
	Timeout         time.Duration // per attempt
	Retries         uint64
	InitialInterval time.Duration // first backoff wait; 0 = library default
	// Consecutive failed attempts that open the breaker.
	TripAfter uint32
	// How long the breaker stays open before a probe is allowed.
	CooldownPeriod time.Duration
}

func (o *Options) withDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.TripAfter == 0 {
		o.TripAfter = 5
	}
	if o.CooldownPeriod <= 0 {
		o.CooldownPeriod = time.Minute
	}
}

// Resilient wraps a PriceSource with a per-attempt timeout, exponential
// backoff retries and a circuit breaker shared across settlements.
type Resilient struct {
	src  PriceSource
	opts Options
	cb   *gobreaker.CircuitBreaker[decimal.Decimal]
	log  *zap.SugaredLogger
}

func NewResilient(src PriceSource, opts Options, log *zap.SugaredLogger) *Resilient {
	opts.withDefaults()
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Resilient{src: src, opts: opts, log: log}
	r.cb = gobreaker.NewCircuitBreaker[decimal.Decimal](gobreaker.Settings{
		Name:    "oracle",
		Timeout: opts.CooldownPeriod,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= opts.TripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("oracle_breaker_state", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return r
}

// State reports the breaker state, e.g. "closed" or "open".
func (r *Resilient) State() string { return r.cb.State().String() }

func (r *Resilient) Price(ctx context.Context) (decimal.Decimal, error) {
	var (
		price   decimal.Decimal
		attempt int
	)
	op := func() error {
		attempt++
		p, err := r.cb.Execute(func() (decimal.Decimal, error) {
			actx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
			defer cancel()
			return r.src.Price(actx)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if err != nil {
			r.log.Warnw("oracle_attempt_failed", "attempt", attempt, "err", err)
			return err
		}
		price = p
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	if r.opts.InitialInterval > 0 {
		eb.InitialInterval = r.opts.InitialInterval
	}
	eb.MaxElapsedTime = 0 // bounded by Retries instead
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, r.opts.Retries), ctx)

	if err := backoff.Retry(op, bo); err != nil {
		return decimal.Zero, fmt.Errorf("%w after %d attempts: %w", ErrUnavailable, attempt, err)
	}
	return price, nil
}
