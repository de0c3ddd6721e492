package swap

import (
	"context"
	"time"
)

// observation is one branch of a race: a function that blocks until its
// condition is observed, or ctx is cancelled. The swap driver loop computes
// the set of observations a state awaits and races them, mirroring a select
// over typed channels/futures where the first completion wins and the rest
// are dropped.
type observation func(ctx context.Context) error

// raceObservations runs every named observation concurrently and returns the
// label of whichever completes first. The losing goroutines' context is
// cancelled so they stop promptly; an observation that errors still "wins"
// its slot; the caller decides whether that's fatal.
func raceObservations(ctx context.Context, obs map[string]observation) (string, error) {
	type result struct {
		label string
		err   error
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan result, len(obs))
	for label, fn := range obs {
		label, fn := label, fn
		go func() {
			err := fn(subCtx)
			select {
			case ch <- result{label, err}:
			case <-subCtx.Done():
			}
		}()
	}

	select {
	case r := <-ch:
		return r.label, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// waitTimeout is an observation that fires once after d, used for the setup
// timeout race.
func waitTimeout(d time.Duration) observation {
	return func(ctx context.Context) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
