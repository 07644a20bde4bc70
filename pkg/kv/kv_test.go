package kv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	data := map[string]string{
		"/peers/zk-0/ingress-address": "10.1.0.42",
		"/peers/zk-1/ingress-address": "10.1.0.43",
		"/peers/zk-2/ingress-address": "10.1.0.44",
	}
	for k, v := range data {
		if err := s.Put(ctx, k, v); err != nil {
			t.Fatalf("Put(%q) error: %v", k, err)
		}
	}

	if got := s.Len(); got != len(data) {
		t.Fatalf("Len = %d, want %d", got, len(data))
	}

	for k, want := range data {
		got, ok, err := s.Get(ctx, k)
		if err != nil || !ok {
			t.Fatalf("Get(%q) = (%q,%v,%v)", k, got, ok, err)
		}
		if got != want {
			t.Fatalf("Get(%q) = %q, want %q", k, got, want)
		}
	}

	if err := s.Delete(ctx, "/peers/zk-1/ingress-address"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "/peers/zk-1/ingress-address"); ok {
		t.Fatalf("Get ok after delete")
	}
	// deleting again is a no-op
	if err := s.Delete(ctx, "/peers/zk-1/ingress-address"); err != nil {
		t.Fatalf("second Delete error: %v", err)
	}
}

func TestListByPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_ = s.Put(ctx, "/a/peers/x", "1")
	_ = s.Put(ctx, "/a/peers/y", "2")
	_ = s.Put(ctx, "/a/relations/client", "3")

	got, err := s.List(ctx, "/a/peers/")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != 2 || got["/a/peers/x"] != "1" || got["/a/peers/y"] != "2" {
		t.Fatalf("List = %v", got)
	}

	// returned map is a copy
	got["/a/peers/z"] = "4"
	if again, _ := s.List(ctx, "/a/peers/"); len(again) != 2 {
		t.Fatalf("List returned a reference, not a copy")
	}
}

func TestWatchSignalsOnlyRealChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewStore()

	ch := s.Watch(ctx, "/peers/")

	_ = s.Put(ctx, "/peers/zk-0", "10.1.0.42")
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("no signal after first put")
	}

	// same value again, and a key outside the prefix
	_ = s.Put(ctx, "/peers/zk-0", "10.1.0.42")
	_ = s.Put(ctx, "/other/key", "v")
	select {
	case <-ch:
		t.Fatalf("unexpected signal for unchanged value")
	case <-time.After(50 * time.Millisecond):
	}

	_ = s.Delete(ctx, "/peers/zk-0")
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("no signal after delete")
	}
}

func TestWatchClosedOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStore()
	ch := s.Watch(ctx, "/")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			// drain a pending signal, then expect close
			if _, ok = <-ch; ok {
				t.Fatalf("channel still open after cancel")
			}
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after cancel")
	}
}

func TestConcurrentAccess_NoRaces(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var wg sync.WaitGroup
	const G = 16
	const N = 500

	errCh := make(chan error, G)
	var stop atomic.Bool

	for gid := range G {
		wg.Add(1)
		go func(gid int) {
			defer wg.Done()
			for i := range N {
				if stop.Load() {
					return
				}
				k := fmt.Sprintf("/k-%d-%d", gid, i)
				v := fmt.Sprintf("v-%d", i)
				_ = s.Put(ctx, k, v)

				got, ok, _ := s.Get(ctx, k)
				if !ok || got != v {
					errCh <- fmt.Errorf("mismatch for key=%s", k)
					stop.Store(true)
					return
				}
				if i%7 == 0 {
					_ = s.Delete(ctx, k)
				}
			}
		}(gid)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("concurrency test failed: %v", err)
	}
}
