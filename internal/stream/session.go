// Package stream adapts live inputs: the websocket feed of posts and
// ticks, and the exchange session calendar that gates entries.
package stream

import (
	"fmt"
	"time"
)

// Session is the exchange trading window. Allow admits a post only when
// its event time falls on a weekday inside [open, close - entryCutoff):
// late entries would not survive the end-of-day flatten.
type Session struct {
	loc         *time.Location
	openMinute  int // minutes since midnight, exchange local
	closeMinute int
	cutoff      int
}

func NewSession(openTime, closeTime, timezone string, entryCutoffMin int) (*Session, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load session timezone: %w", err)
	}
	open, err := parseClock(openTime)
	if err != nil {
		return nil, fmt.Errorf("session open time: %w", err)
	}
	cls, err := parseClock(closeTime)
	if err != nil {
		return nil, fmt.Errorf("session close time: %w", err)
	}
	if cls <= open {
		return nil, fmt.Errorf("session close %s not after open %s", closeTime, openTime)
	}
	return &Session{loc: loc, openMinute: open, closeMinute: cls, cutoff: entryCutoffMin}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (s *Session) Allow(t time.Time) bool {
	local := t.In(s.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= s.openMinute && minute < s.closeMinute-s.cutoff
}
