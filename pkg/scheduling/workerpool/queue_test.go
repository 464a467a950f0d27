package workerpool

import (
	"testing"

	"github.com/vnykmshr/poolserve/internal/testutil"
)

func TestQueueWrapsAround(t *testing.T) {
	q := newQueue[int](3)
	testutil.AssertEqual(t, q.cap(), 3)
	testutil.AssertEqual(t, q.empty(), true)

	for round := 0; round < 4; round++ {
		for i := 0; i < 3; i++ {
			testutil.AssertEqual(t, q.push(round*10+i), true)
		}
		testutil.AssertEqual(t, q.full(), true)
		testutil.AssertEqual(t, q.push(99), false)
		testutil.AssertEqual(t, q.len(), 3)

		for i := 0; i < 3; i++ {
			testutil.AssertEqual(t, q.pop(), round*10+i)
		}
		testutil.AssertEqual(t, q.empty(), true)
	}
}

func TestQueueInterleaved(t *testing.T) {
	q := newQueue[int](2)
	q.push(1)
	q.push(2)
	testutil.AssertEqual(t, q.pop(), 1)
	q.push(3)
	testutil.AssertEqual(t, q.pop(), 2)
	testutil.AssertEqual(t, q.pop(), 3)
	testutil.AssertEqual(t, q.len(), 0)
}

func TestQueuePopReleasesSlot(t *testing.T) {
	q := newQueue[*int](1)
	v := 7
	q.push(&v)
	testutil.AssertEqual(t, *q.pop(), 7)
	testutil.AssertEqual(t, q.buf[0] == nil, true)
}
