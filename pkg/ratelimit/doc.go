/*
Package ratelimit groups the rate limiters used by the server.

  - bucket: token bucket allowing bursts up to a fixed capacity
  - distributed: fixed-window limiter whose counters live in Redis so that
    several server instances share one limit

The accept loop waits on a bucket before each Accept, which smooths bursts of
new connections before they reach the worker pool queue:

	limiter, err := bucket.NewSafe(100, 20) // 100 accepts/sec, burst 20
	if err != nil {
		return err
	}
	if err := limiter.Wait(ctx); err != nil {
		return err
	}

The distributed limiter answers per request instead. When Redis is
unreachable it can fall back to a local bucket so a Redis outage degrades to
per-instance limiting rather than refusing everything.
*/
package ratelimit
