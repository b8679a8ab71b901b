package util

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func receive[T any](t *testing.T, q *LockFreeMPSC[T]) *T {
	t.Helper()
	select {
	case v, ok := <-q.Recv():
		if !ok {
			t.Fatal("queue channel closed unexpectedly")
		}
		return v
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for a value")
	}
	return nil
}

func drain[T any](q *LockFreeMPSC[T]) {
	for range q.Recv() {
	}
}

func TestMPSCDeliversInPushOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewLockFreeMPSC[int]()
	for i := 0; i < 100; i++ {
		if !q.Push(&i) {
			t.Fatalf("Push(%d) failed", i)
		}
	}
	for i := 0; i < 100; i++ {
		if v := receive(t, q); *v != i {
			t.Fatalf("received %d, want %d", *v, i)
		}
	}

	q.Close()
	drain(q)
}

func TestMPSCConcurrentProducers(t *testing.T) {
	defer goleak.VerifyNone(t)

	const producers, perProducer = 8, 500
	q := NewLockFreeMPSC[[2]int]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := [2]int{p, i}
				q.Push(&v)
			}
		}(p)
	}

	// per producer the values arrive in push order
	next := make([]int, producers)
	for n := 0; n < producers*perProducer; n++ {
		v := receive(t, q)
		if v[1] != next[v[0]] {
			t.Fatalf("producer %d: received %d, want %d", v[0], v[1], next[v[0]])
		}
		next[v[0]]++
	}

	wg.Wait()
	q.Close()
	drain(q)
}

func TestMPSCClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewLockFreeMPSC[int]()
	for i := 0; i < 5; i++ {
		q.Push(&i)
	}
	q.Close()

	v := 100
	if q.Push(&v) {
		t.Fatal("Push() succeeded on a closed queue")
	}
	if !q.IsClosed() {
		t.Fatal("IsClosed() = false after Close()")
	}

	// pushed values survive the close
	for i := 0; i < 5; i++ {
		if got := receive(t, q); *got != i {
			t.Fatalf("received %d, want %d", *got, i)
		}
	}
	select {
	case _, ok := <-q.Recv():
		if ok {
			t.Fatal("received a value after draining a closed queue")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after draining")
	}
}

func TestMPSCCloseWakesIdleConsumer(t *testing.T) {
	defer goleak.VerifyNone(t)

	for i := 0; i < 100; i++ {
		q := NewLockFreeMPSC[int]()
		q.Close()
		drain(q)
	}
}

func TestMPSCRejectsNil(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer drain(q)
	defer q.Close()

	if q.Push(nil) {
		t.Fatal("Push(nil) succeeded")
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
}

func BenchmarkMPSCMultiProducer(b *testing.B) {
	q := NewLockFreeMPSC[int]()
	done := make(chan struct{})
	go func() {
		drain(q)
		close(done)
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q.Push(&i)
			i++
		}
	})
	b.StopTimer()

	q.Close()
	<-done
}
