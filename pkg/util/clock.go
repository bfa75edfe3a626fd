package util

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is the time source behind playback and checkpoint loops.
// Production code uses NewRealClock; tests drive a *clock.Mock.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) *clock.Ticker
}

func NewRealClock() Clock { return clock.New() }

func NewMockClock() *clock.Mock { return clock.NewMock() }
