package bucket

import "testing"

func mustNewSafe(rate Limit, burst int) Limiter {
	limiter, err := NewSafe(rate, burst)
	if err != nil {
		panic(err)
	}
	return limiter
}

func BenchmarkAllow(b *testing.B) {
	limiter := mustNewSafe(Limit(b.N)+1, b.N+1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Allow()
	}
}

func BenchmarkAllowParallel(b *testing.B) {
	limiter := mustNewSafe(1e9, 1000)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			limiter.Allow()
		}
	})
}

func BenchmarkTokens(b *testing.B) {
	limiter := mustNewSafe(100, 10)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Tokens()
	}
}
