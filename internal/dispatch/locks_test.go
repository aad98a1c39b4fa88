// ABOUTME: Tests for the per-application keyed locks
// ABOUTME: Covers independent keys, bounded retry, and release

package dispatch

import (
	"context"
	"testing"
	"time"
)

func TestKeyedLocksIndependentKeys(t *testing.T) {
	l := newKeyedLocks()

	if !l.tryAcquire("app-1") {
		t.Fatal("expected to acquire app-1")
	}
	if !l.tryAcquire("app-2") {
		t.Error("different key should not contend")
	}
	if l.tryAcquire("app-1") {
		t.Error("held key should not re-acquire")
	}

	l.release("app-1")
	if !l.tryAcquire("app-1") {
		t.Error("released key should acquire again")
	}
}

func TestAcquireGivesUpOnHeldKey(t *testing.T) {
	l := newKeyedLocks()
	l.tryAcquire("app-1")

	start := time.Now()
	if l.acquire(context.Background(), "app-1") {
		t.Error("expected acquire to give up on a held key")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("acquire retried for too long")
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	l := newKeyedLocks()
	l.tryAcquire("app-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if l.acquire(ctx, "app-1") {
		t.Error("expected acquire to fail with canceled context")
	}
}

func TestAcquireSucceedsAfterRelease(t *testing.T) {
	l := newKeyedLocks()
	l.tryAcquire("app-1")

	go func() {
		time.Sleep(10 * time.Millisecond)
		l.release("app-1")
	}()

	if !l.acquire(context.Background(), "app-1") {
		t.Error("expected acquire to succeed once the key is released")
	}
}
