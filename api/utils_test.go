package api

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNextTimestampIsStrictlyIncreasing(t *testing.T) {
	t.Cleanup(func() { atomic.StoreInt64(&lastTimestamp, 0) })
	atomic.StoreInt64(&lastTimestamp, time.Now().Add(time.Second).UnixMilli())

	first := nextTimestamp()
	second := nextTimestamp()
	if second-first != 1 {
		t.Fatalf("expected timestamps to increment by 1, got first=%d second=%d", first, second)
	}
}

func TestNextTimestampConcurrentUnique(t *testing.T) {
	const n = 200
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int64]struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := nextTimestamp()
			mu.Lock()
			seen[ts] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != n {
		t.Fatalf("expected %d unique timestamps, got %d", n, len(seen))
	}
}
