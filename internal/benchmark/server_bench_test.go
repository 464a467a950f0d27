// Package benchmark measures the file server and worker pool end to end.
package benchmark

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnykmshr/poolserve/pkg/scheduling/workerpool"
	"github.com/vnykmshr/poolserve/pkg/server"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func startServer(b *testing.B, workers, queue int) (string, func()) {
	b.Helper()
	root := b.TempDir()
	if err := os.WriteFile(filepath.Join(root, "file.txt"), make([]byte, 4096), 0o644); err != nil {
		b.Fatal(err)
	}

	srv, err := server.New(server.Config{
		Root:      root,
		Workers:   workers,
		QueueSize: queue,
		Logger:    quiet,
	})
	if err != nil {
		b.Fatalf("failed to create server: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.ServeListener(ctx, ln)
	}()
	return ln.Addr().String(), func() {
		cancel()
		<-done
	}
}

func fetch(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := io.WriteString(conn, "GET /file.txt HTTP/1.0\r\n\r\n"); err != nil {
		return err
	}
	_, err = io.Copy(io.Discard, conn)
	return err
}

// BenchmarkServerRequests measures request throughput for several pool shapes.
func BenchmarkServerRequests(b *testing.B) {
	shapes := []struct {
		workers int
		queue   int
	}{
		{1, 16},
		{4, 16},
		{8, 64},
		{8, 1},
	}

	for _, shape := range shapes {
		b.Run(fmt.Sprintf("%dworkers_q%d", shape.workers, shape.queue), func(b *testing.B) {
			addr, stop := startServer(b, shape.workers, shape.queue)
			defer stop()

			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					if err := fetch(addr); err != nil {
						b.Error(err)
						return
					}
				}
			})
		})
	}
}

// BenchmarkPoolContention measures Submit from many producers onto one queue.
func BenchmarkPoolContention(b *testing.B) {
	for _, workers := range []int{1, 4, 8} {
		b.Run(fmt.Sprintf("%dworkers", workers), func(b *testing.B) {
			pool, err := workerpool.NewWithConfig(workerpool.Config{
				WorkerCount: workers,
				QueueSize:   workerpool.MaxQueueSize,
				Logger:      quiet,
			})
			if err != nil {
				b.Fatalf("failed to create pool: %v", err)
			}

			var completed atomic.Int64
			task := workerpool.TaskFunc(func(context.Context) error {
				completed.Add(1)
				return nil
			})

			b.ReportAllocs()
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					pool.Submit(task)
				}
			})
			pool.Shutdown()
			b.StopTimer()

			if got := completed.Load(); got != int64(b.N) {
				b.Fatalf("completed %d of %d tasks", got, b.N)
			}
		})
	}
}

// BenchmarkBackpressure measures a single producer against slow workers,
// where most submissions wait for a free slot.
func BenchmarkBackpressure(b *testing.B) {
	pool, err := workerpool.NewWithConfig(workerpool.Config{
		WorkerCount: 2,
		QueueSize:   4,
		Logger:      quiet,
	})
	if err != nil {
		b.Fatalf("failed to create pool: %v", err)
	}

	task := workerpool.TaskFunc(func(context.Context) error {
		time.Sleep(10 * time.Microsecond)
		return nil
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.Submit(task)
	}
	pool.Shutdown()
	b.StopTimer()

	b.ReportMetric(float64(pool.Stats().Blocked)/float64(b.N), "blocked/op")
}
