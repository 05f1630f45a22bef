package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock stamps decoded messages. Records themselves never carry wall-clock
// time, so decoding the same stream twice yields identical records.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source used for DecodedAt. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Now returns the current time from the package clock in UTC.
func Now() time.Time {
	return clock.Now().UTC()
}
