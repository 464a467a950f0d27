// Package distributed provides cluster-wide admission using Redis as the
// coordination backend.
//
// Several poolserve instances behind one load balancer can share a single
// request budget: each instance asks Redis whether the current one-second
// window still has room before handing a connection to its worker pool.
//
// # Fixed window
//
// Every window has its own counter key, <key>:window:<unix-seconds>. A Lua
// script compares the counter with Rate, rounded up to a whole count, and
// increments it atomically, so concurrent instances never over-admit within a
// window. Counter keys expire shortly after their window closes.
//
// Burst does not widen the window. It only sizes the local bucket used when
// FallbackToLocal is set and Redis is unreachable.
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//
//	limiter, err := distributed.NewFixedWindow(distributed.Config{
//		Redis:           rdb,
//		Key:             "poolserve:admission",
//		Rate:            500,
//		Burst:           50,
//		FallbackToLocal: true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer limiter.Close()
//
//	if !limiter.Allow(ctx) {
//		// answer 503
//	}
//
// # Fallback
//
// With FallbackToLocal set, a Redis error admits through a local
// bucket.Limiter instead of denying. The limiter can also be created while
// Redis is down; it logs a warning and keeps retrying Redis on every call.
//
// Without fallback, a Redis error denies the request.
package distributed
