package procfs

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// defaultScanInterval is the pause between scan passes in WaitForName. The
// reference ProcDump-for-Linux implementation busy-scans with no pause at
// all; this port adds the bounded sleep the design notes ask for.
const defaultScanInterval = 100 * time.Millisecond

// WaitForName busy-scans /proc until exactly one process named name is
// found, returning its PID. If a single scan observes two or more matches,
// WaitForName returns ErrAmbiguousTarget immediately — it never retries past
// an ambiguous result, since the target is, by definition, no longer a
// single process to wait for. The scan is paced with a constant backoff so
// the loop does not spin the CPU between passes; the backoff package, a
// network-retry library, is used here only for this polite polling.
func WaitForName(ctx context.Context, name string) (int, error) {
	return waitForName(ctx, name, backoff.NewConstantBackOff(defaultScanInterval))
}

// waitForName is the interval-injectable core of WaitForName, split out so
// tests can use a near-zero interval instead of waiting out the real
// default.
func waitForName(ctx context.Context, name string, interval backoff.BackOff) (int, error) {
	ticker := backoff.NewTicker(interval)
	defer ticker.Stop()

	for {
		matches, err := MatchName(name)
		if err != nil {
			return 0, err
		}
		switch len(matches) {
		case 1:
			return matches[0], nil
		case 0:
			// keep scanning
		default:
			return 0, ErrAmbiguousTarget
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case _, ok := <-ticker.C:
			if !ok {
				return 0, ctx.Err()
			}
		}
	}
}
