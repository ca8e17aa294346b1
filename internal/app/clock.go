package app

import (
	"strings"
	"sync/atomic"
	"time"
)

// zoneClock reports the current time in scheduler.timezone.
type zoneClock struct {
	loc atomic.Pointer[time.Location]
}

func newZoneClock(tz string) *zoneClock {
	c := &zoneClock{}
	c.Set(tz)
	return c
}

// Set switches the zone. Empty or unknown names fall back to Local, the same
// as the scheduler.
func (c *zoneClock) Set(tz string) {
	loc := time.Local
	if tz = strings.TrimSpace(tz); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	c.loc.Store(loc)
}

func (c *zoneClock) Location() *time.Location { return c.loc.Load() }

func (c *zoneClock) Now() time.Time { return time.Now().In(c.loc.Load()) }
