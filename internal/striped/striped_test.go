package striped

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestWithLockSerializesSameUser(t *testing.T) {
	l := New()
	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.WithLock("user-1", func() {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				atomic.AddInt32(&active, -1)
			})
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("max concurrent holders for same user = %d, want 1", maxActive)
	}
}

func TestIndexIsDeterministic(t *testing.T) {
	l := New()
	a := l.index("user-42")
	b := l.index("user-42")
	if a != b {
		t.Fatalf("index not deterministic: %d != %d", a, b)
	}
	if a >= Count {
		t.Fatalf("index %d out of range [0,%d)", a, Count)
	}
}
