package room

import (
	"testing"
	"time"
)

func collect(n int, ch <-chan any, t *testing.T) []any {
	t.Helper()
	var out []any
	for len(out) < n {
		select {
		case v := <-ch:
			out = append(out, v)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d messages, want %d", len(out), n)
		}
	}
	return out
}

func TestOutboxPreservesOrderAcrossDelays(t *testing.T) {
	got := make(chan any, 8)
	o := newOutbox(func(m any) error { got <- m; return nil }, discardLogger())
	defer o.stop()

	o.push(1, 60*time.Millisecond, "first")
	o.push(1, 0, "second")
	o.push(1, 10*time.Millisecond, "third")

	msgs := collect(3, got, t)
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i] != want {
			t.Fatalf("msgs=%v, want first/second/third", msgs)
		}
	}
}

func TestOutboxHonoursDelay(t *testing.T) {
	got := make(chan any, 1)
	o := newOutbox(func(m any) error { got <- m; return nil }, discardLogger())
	defer o.stop()

	start := time.Now()
	o.push(1, 50*time.Millisecond, "late")
	collect(1, got, t)
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("delivered after %s, want >= 50ms", elapsed)
	}
}

func TestOutboxDropsStaleEpochs(t *testing.T) {
	got := make(chan any, 4)
	o := newOutbox(func(m any) error { got <- m; return nil }, discardLogger())
	defer o.stop()

	o.push(1, 30*time.Millisecond, "stale")
	o.invalidateBefore(2)
	o.push(2, 0, "fresh")

	msgs := collect(1, got, t)
	if msgs[0] != "fresh" {
		t.Fatalf("msgs=%v, want [fresh]", msgs)
	}
	select {
	case m := <-got:
		t.Fatalf("unexpected message %v", m)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestOutboxStop(t *testing.T) {
	got := make(chan any, 1)
	o := newOutbox(func(m any) error { got <- m; return nil }, discardLogger())
	o.push(1, 40*time.Millisecond, "never")
	o.stop()
	o.stop()

	select {
	case m := <-got:
		t.Fatalf("message %v delivered after stop", m)
	case <-time.After(80 * time.Millisecond):
	}
	// push after stop must not block
	o.push(1, 0, "ignored")
}
