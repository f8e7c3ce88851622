package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewFromClient(client)
}

func TestHashRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.HashSet(ctx, "k", "f1", []byte("v1")); err != nil {
		t.Fatalf("HashSet: %v", err)
	}
	v, ok, err := s.HashGet(ctx, "k", "f1")
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("HashGet = %q, %v, %v", v, ok, err)
	}

	_, ok, err = s.HashGet(ctx, "k", "missing")
	if err != nil || ok {
		t.Fatalf("HashGet missing field should be absent, got ok=%v err=%v", ok, err)
	}

	if err := s.HashDelete(ctx, "k", "f1"); err != nil {
		t.Fatalf("HashDelete: %v", err)
	}
	_, ok, _ = s.HashGet(ctx, "k", "f1")
	if ok {
		t.Fatalf("expected field gone after delete")
	}
}

func TestListDrainIsAtomicReadAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.ListAppend(ctx, "q", []byte{byte('a' + i)}); err != nil {
			t.Fatalf("ListAppend: %v", err)
		}
	}

	drained, err := s.ListDrain(ctx, "q")
	if err != nil {
		t.Fatalf("ListDrain: %v", err)
	}
	if len(drained) != 5 {
		t.Fatalf("expected 5 drained elements, got %d", len(drained))
	}

	n, err := s.ListLen(ctx, "q")
	if err != nil || n != 0 {
		t.Fatalf("expected empty queue after drain, got len=%d err=%v", n, err)
	}

	// second drain on an empty queue returns nothing, not an error.
	drained, err = s.ListDrain(ctx, "q")
	if err != nil || len(drained) != 0 {
		t.Fatalf("expected empty drain, got %v, %v", drained, err)
	}
}

func TestListTrimFrontDropsOldest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := s.ListAppend(ctx, "q", []byte{byte(i)}); err != nil {
			t.Fatalf("ListAppend: %v", err)
		}
	}

	dropped, err := s.ListTrimFront(ctx, "q", 3)
	if err != nil {
		t.Fatalf("ListTrimFront: %v", err)
	}
	if len(dropped) != 7 {
		t.Fatalf("expected 7 dropped, got %d", len(dropped))
	}
	if dropped[0][0] != 0 {
		t.Fatalf("expected oldest element dropped first, got %v", dropped[0])
	}

	remaining, err := s.ListRange(ctx, "q", 0, -1)
	if err != nil || len(remaining) != 3 {
		t.Fatalf("expected 3 remaining, got %d, err=%v", len(remaining), err)
	}
	if remaining[0][0] != 7 {
		t.Fatalf("expected remaining to start at element 7, got %v", remaining[0])
	}
}

func TestStringSetTTLAndRefresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.StringSetTTL(ctx, "hb", []byte("x"), time.Minute); err != nil {
		t.Fatalf("StringSetTTL: %v", err)
	}
	v, ok, err := s.StringGet(ctx, "hb")
	if err != nil || !ok || string(v) != "x" {
		t.Fatalf("StringGet = %q, %v, %v", v, ok, err)
	}

	ok, err = s.Refresh(ctx, "hb", 2*time.Minute)
	if err != nil || !ok {
		t.Fatalf("Refresh: ok=%v err=%v", ok, err)
	}

	ok, err = s.Refresh(ctx, "does-not-exist", time.Minute)
	if err != nil || ok {
		t.Fatalf("Refresh on missing key should return false, got ok=%v err=%v", ok, err)
	}
}

func TestScanKeysMatchesPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.StringSetTTL(ctx, "project:a:heartbeat:s1", []byte("t"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.StringSetTTL(ctx, "project:b:heartbeat:s2", []byte("t"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.StringSetTTL(ctx, "project:a:other:s1", []byte("t"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	keys, err := s.ScanKeys(ctx, HeartbeatScanPattern)
	if err != nil {
		t.Fatalf("ScanKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 heartbeat keys, got %d: %v", len(keys), keys)
	}
}

func TestAcquireFileLockCAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.AcquireFileLock(ctx, "locks", "src/x.ts", []byte(`{"session_name":"task-001"}`), "task-001")
	if err != nil || !res.Acquired {
		t.Fatalf("expected first acquire to succeed: %v %v", res, err)
	}

	// Conflicting session must not mutate state.
	res, err = s.AcquireFileLock(ctx, "locks", "src/x.ts", []byte(`{"session_name":"task-002"}`), "task-002")
	if err != nil {
		t.Fatalf("AcquireFileLock: %v", err)
	}
	if res.Acquired {
		t.Fatalf("expected conflict, got acquired")
	}
	if string(res.Existing) != `{"session_name":"task-001"}` {
		t.Fatalf("expected existing owner preserved, got %s", res.Existing)
	}

	// Same session re-entrant acquire (refresh) must succeed.
	res, err = s.AcquireFileLock(ctx, "locks", "src/x.ts", []byte(`{"session_name":"task-001","locked_at":"later"}`), "task-001")
	if err != nil || !res.Acquired {
		t.Fatalf("expected re-entrant acquire to succeed: %v %v", res, err)
	}
}

func TestReleaseFileLockIdempotentAndOwnerChecked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Releasing an absent lock is idempotent.
	res, err := s.ReleaseFileLock(ctx, "locks", "src/x.ts", "task-001")
	if err != nil || !res.Released || res.NotOwner {
		t.Fatalf("expected idempotent release on absent lock, got %v %v", res, err)
	}

	if _, err := s.AcquireFileLock(ctx, "locks", "src/x.ts", []byte(`{"session_name":"task-001"}`), "task-001"); err != nil {
		t.Fatalf("AcquireFileLock: %v", err)
	}

	// Non-owner cannot release.
	res, err = s.ReleaseFileLock(ctx, "locks", "src/x.ts", "task-002")
	if err != nil {
		t.Fatalf("ReleaseFileLock: %v", err)
	}
	if res.Released || !res.NotOwner {
		t.Fatalf("expected not-owner rejection, got %v", res)
	}

	v, ok, err := s.HashGet(ctx, "locks", "src/x.ts")
	if err != nil || !ok || string(v) != `{"session_name":"task-001"}` {
		t.Fatalf("expected lock unchanged after rejected release, got %s %v %v", v, ok, err)
	}

	// Owner can release.
	res, err = s.ReleaseFileLock(ctx, "locks", "src/x.ts", "task-001")
	if err != nil || !res.Released {
		t.Fatalf("expected owner release to succeed: %v %v", res, err)
	}
	_, ok, _ = s.HashGet(ctx, "locks", "src/x.ts")
	if ok {
		t.Fatalf("expected lock field gone after release")
	}
}
