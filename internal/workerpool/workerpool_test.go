package workerpool

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsAllSubmittedJobs(t *testing.T) {
	p := New(4)

	var count int64
	const n = 50
	for i := 0; i < n; i++ {
		p.Submit(func() { atomic.AddInt64(&count, 1) })
	}

	p.Close()

	if got := atomic.LoadInt64(&count); got != n {
		t.Fatalf("count = %d, want %d", got, n)
	}
}

func TestNewClampsToOneWorker(t *testing.T) {
	p := New(0)
	defer p.Close()

	done := make(chan struct{})
	p.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never ran with zero requested workers")
	}
}
