package clock

import (
	"context"
	"time"
)

// Clock is the time source used by the mock backend and the retry decorator.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real reads the wall clock.
type Real struct{}

// Now returns the current time in UTC.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// After mirrors time.After.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Sleep waits for d on clk, returning early with ctx.Err() when ctx ends first.
func Sleep(ctx context.Context, clk Clock, d time.Duration) error {
	if clk == nil {
		clk = Real{}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clk.After(d):
		return nil
	}
}
