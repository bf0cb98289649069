// Package instrument defines the tradeable contract and its settlement
// schedule on fixed UTC boundaries.
package instrument

import (
	"fmt"
	"time"
)

// Status defines the trading status of the exchange.
type Status int8

const (
	Open     Status = iota // Trading enabled
	Settling               // Expired, waiting for the settlement price
)

func (s Status) String() string {
	switch s {
	case Open:
		return "Open"
	case Settling:
		return "Settling"
	default:
		return "Unknown"
	}
}

// Instrument is a contract that settles at Expiry.
type Instrument struct {
	Name   string `json:"name"`
	Expiry int64  `json:"expiry"` // unix seconds
}

// NextBoundary returns the first multiple of interval strictly after now.
// Intervals that divide an hour align to the UTC hour.
func NextBoundary(now time.Time, interval time.Duration) time.Time {
	return now.UTC().Truncate(interval).Add(interval)
}

// Name formats a boundary as "<weekday>:<hour>:<minute>" in UTC, weekday 0
// being Sunday, without zero padding.
func Name(boundary time.Time) string {
	b := boundary.UTC()
	return fmt.Sprintf("%d:%d:%d", int(b.Weekday()), b.Hour(), b.Minute())
}

// Delay is the time from now until boundary, or one full interval if the
// boundary has already passed.
func Delay(now, boundary time.Time, interval time.Duration) time.Duration {
	if d := boundary.Sub(now); d > 0 {
		return d
	}
	return interval
}

// Next describes the instrument that expires at the next boundary after
// now and how long until it does.
func Next(now time.Time, interval time.Duration) (Instrument, time.Duration) {
	boundary := NextBoundary(now, interval)
	return Instrument{Name: Name(boundary), Expiry: boundary.Unix()}, Delay(now, boundary, interval)
}

// ExpiryTime returns Expiry as a time.Time in UTC.
func (i Instrument) ExpiryTime() time.Time { return time.Unix(i.Expiry, 0).UTC() }
