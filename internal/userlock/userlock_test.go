package userlock

import (
	"fmt"
	"sync"
	"testing"
)

func TestAcquireSerializesPerUser(t *testing.T) {
	r := NewRegistry(0)

	const goroutines = 32
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := r.Acquire("u1")
			defer release()
			// unsynchronized increment; only the lock protects it
			counter++
		}()
	}
	wg.Wait()

	if counter != goroutines {
		t.Fatalf("expected %d increments, got %d", goroutines, counter)
	}
	if r.ActiveLen() != 0 {
		t.Fatalf("expected no active locks after release, got %d", r.ActiveLen())
	}
}

func TestDifferentUsersDoNotBlock(t *testing.T) {
	r := NewRegistry(0)

	releaseA := r.Acquire("a")
	done := make(chan struct{})
	go func() {
		releaseB := r.Acquire("b")
		releaseB()
		close(done)
	}()
	<-done // would deadlock if "b" waited on "a"
	releaseA()
}

func TestIdleCacheIsBounded(t *testing.T) {
	r := NewRegistry(4)

	for i := 0; i < 100; i++ {
		release := r.Acquire(fmt.Sprintf("user-%d", i))
		release()
	}

	if r.ActiveLen() != 0 {
		t.Fatalf("expected no active locks, got %d", r.ActiveLen())
	}
	if r.IdleLen() > 4 {
		t.Fatalf("idle cache exceeded its bound: %d", r.IdleLen())
	}
}

func TestReacquireReusesCachedLock(t *testing.T) {
	r := NewRegistry(4)

	release := r.Acquire("u1")
	release()
	if r.IdleLen() != 1 {
		t.Fatalf("expected released lock cached, got %d", r.IdleLen())
	}

	release = r.Acquire("u1")
	if r.ActiveLen() != 1 || r.IdleLen() != 0 {
		t.Fatalf("expected cached lock promoted to active: active=%d idle=%d", r.ActiveLen(), r.IdleLen())
	}
	release()
}

func TestWaiterKeepsLockActive(t *testing.T) {
	r := NewRegistry(4)

	release := r.Acquire("u1")
	if r.ActiveLen() != 1 {
		t.Fatalf("expected held lock active, got %d", r.ActiveLen())
	}
	acquired := make(chan func())
	go func() { acquired <- r.Acquire("u1") }()
	release()

	release2 := <-acquired
	release2()
	if r.ActiveLen() != 0 {
		t.Fatalf("expected lock retired after both releases, got %d", r.ActiveLen())
	}
}
