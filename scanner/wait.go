package scanner

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"
)

// waitOutcome is how a bounded wait ended
type waitOutcome int

const (
	waitMet waitOutcome = iota
	waitTimedOut
	waitEscaped
)

// waitFor polls cond once per tick until it is true or timeout has passed.
// If escapable, the escape check runs after every poll and ends the wait.
// A timeout is logged and is not an error; the caller proceeds best-effort.
func (s *Scanner) waitFor(ctx context.Context, what string, timeout, tick time.Duration, escapable bool, cond func() bool) waitOutcome {
	if tick <= 0 {
		tick = time.Millisecond
	}
	ticks := int(timeout / tick)
	if ticks < 1 {
		ticks = 1
	}
	lim := rate.NewLimiter(rate.Every(tick), 1)
	for i := 0; i < ticks; i++ {
		if err := lim.Wait(ctx); err != nil {
			if escapable {
				return waitEscaped
			}
			// the context is gone but the caller must still settle; fall
			// back to sleeping the tick
			time.Sleep(tick)
		}
		if cond() {
			return waitMet
		}
		if escapable && s.escape(ctx) {
			return waitEscaped
		}
	}
	log.Printf("ERROR: timeout waiting for %s after %v, proceeding\n", what, timeout)
	return waitTimedOut
}

// waitStage waits for the stage to report it finished its move
func (s *Scanner) waitStage(ctx context.Context, what string, timeout time.Duration, escapable bool) waitOutcome {
	return s.waitFor(ctx, what, timeout, s.tick(), escapable, func() bool {
		in, err := s.Stage.InPosition()
		if err != nil {
			log.Printf("stage position query failed %v\n", err)
			return false
		}
		return in
	})
}
