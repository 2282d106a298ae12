package automation

import (
	"context"
	"errors"
	"time"
)

var errWaitTimeout = errors.New("timed out")

// waitFor polls cond every interval until it holds, the timeout passes or
// ctx is done. cond is always evaluated at least once.
func waitFor(ctx context.Context, timeout, interval time.Duration, cond func() bool) error {
	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		if cond() {
			return nil
		}
		if !time.Now().Before(deadline) {
			return errWaitTimeout
		}
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
