package locks

import (
	"sync"
	"testing"
)

func TestLockSerializesSameKey(t *testing.T) {
	k := NewKeyed()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("room-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected 50 increments, got %d", counter)
	}
}

func TestDifferentKeysDoNotBlockEachOther(t *testing.T) {
	k := NewKeyed()

	unlockA := k.Lock("room-a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := k.Lock("room-b")
		unlockB()
		close(done)
	}()
	<-done
}

func TestUnlockIsIdempotent(t *testing.T) {
	k := NewKeyed()

	unlock := k.Lock("room-1")
	unlock()
	unlock() // second call must not panic or double-unlock

	// Key must be reusable afterwards.
	unlock2 := k.Lock("room-1")
	unlock2()
}

func TestEntriesAreReclaimed(t *testing.T) {
	k := NewKeyed()

	unlock := k.Lock("room-1")
	unlock()

	k.mu.Lock()
	n := len(k.entries)
	k.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected entries reclaimed, %d remain", n)
	}
}
