package engine

import (
	"sync"
	"testing"
)

func TestKeyedMutex(t *testing.T) {
	t.Parallel()

	var km keyedMutex
	var wg sync.WaitGroup
	counts := map[string]int{}
	var countsMu sync.Mutex
	inside := map[string]int{}

	for _, key := range []string{"a", "b"} {
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := km.Lock(key)
				defer unlock()

				countsMu.Lock()
				inside[key]++
				if inside[key] != 1 {
					t.Errorf("%s: %d holders at once", key, inside[key])
				}
				countsMu.Unlock()

				countsMu.Lock()
				inside[key]--
				counts[key]++
				countsMu.Unlock()
			}()
		}
	}
	wg.Wait()

	if counts["a"] != 50 || counts["b"] != 50 {
		t.Errorf("counts = %v", counts)
	}
	if n := km.size(); n != 0 {
		t.Errorf("size after release = %d, want 0", n)
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	t.Parallel()

	var km keyedMutex
	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()
	<-done
	if n := km.size(); n != 1 {
		t.Errorf("size = %d, want 1", n)
	}
	unlockA()
	if n := km.size(); n != 0 {
		t.Errorf("size = %d, want 0", n)
	}
}
