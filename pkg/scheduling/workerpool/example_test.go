package workerpool_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	gferrors "github.com/vnykmshr/poolserve/pkg/common/errors"
	"github.com/vnykmshr/poolserve/pkg/scheduling/workerpool"
)

// Example demonstrates basic usage of the worker pool.
func Example() {
	// 3 workers, queue size 10
	pool, err := workerpool.New(3, 10)
	if err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	pool.Submit(workerpool.TaskFunc(func(ctx context.Context) error {
		fmt.Println("Task executed")
		close(done)
		return nil
	}))

	<-done
	pool.Shutdown()

	// Output: Task executed
}

// Example_drainOnShutdown shows that every accepted task runs before
// Shutdown returns.
func Example_drainOnShutdown() {
	pool, err := workerpool.New(2, 5)
	if err != nil {
		log.Fatal(err)
	}

	var handled int64
	for i := 0; i < 20; i++ {
		pool.Submit(workerpool.TaskFunc(func(ctx context.Context) error {
			atomic.AddInt64(&handled, 1)
			return nil
		}))
	}
	pool.Shutdown()

	fmt.Println("handled:", atomic.LoadInt64(&handled))
	fmt.Println("live workers:", pool.LiveWorkers())

	// Output:
	// handled: 20
	// live workers: 0
}

// Example_dispatch shows how to detect a task dropped during shutdown.
func Example_dispatch() {
	pool, err := workerpool.New(1, 1)
	if err != nil {
		log.Fatal(err)
	}
	pool.Shutdown()

	err = pool.Dispatch(workerpool.TaskFunc(func(ctx context.Context) error {
		return nil
	}))
	fmt.Println(errors.Is(err, gferrors.ErrClosed))
	fmt.Println("dropped:", pool.TotalDropped())

	// Output:
	// true
	// dropped: 1
}

// Example_invalidSize shows the bounds check on creation.
func Example_invalidSize() {
	_, err := workerpool.New(workerpool.MaxWorkers+1, 10)
	fmt.Println(gferrors.IsValidationError(err))

	// Output: true
}
