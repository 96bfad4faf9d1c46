package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recv waits briefly for the next event on w.
func recv(t *testing.T, w *Window) Event {
	t.Helper()
	select {
	case ev, ok := <-w.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

// expectNone asserts that no event is pending on w.
func expectNone(t *testing.T, w *Window) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
}

func strOrNil(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func TestSetItemNotifiesOthersNotSelf(t *testing.T) {
	ctx := context.Background()
	sp := NewSpace("https://call.example", 8)
	a, b, c := sp.Attach(), sp.Attach(), sp.Attach()

	if err := a.SetItem(ctx, KeyOffer, `{"type":"offer"}`); err != nil {
		t.Fatalf("SetItem: %v", err)
	}

	for _, w := range []*Window{b, c} {
		ev := recv(t, w)
		if ev.Key != KeyOffer || ev.OldValue != nil || strOrNil(ev.NewValue) != `{"type":"offer"}` {
			t.Errorf("unexpected event: key=%q old=%s new=%s", ev.Key, strOrNil(ev.OldValue), strOrNil(ev.NewValue))
		}
		if ev.URL != "https://call.example" {
			t.Errorf("URL = %q", ev.URL)
		}
	}
	expectNone(t, a)
}

func TestSetItemSameValueIsSilent(t *testing.T) {
	ctx := context.Background()
	sp := NewSpace("o", 8)
	a, b := sp.Attach(), sp.Attach()

	_ = a.SetItem(ctx, KeyAnswer, "x")
	recv(t, b)

	_ = a.SetItem(ctx, KeyAnswer, "x")
	expectNone(t, b)

	_ = a.SetItem(ctx, KeyAnswer, "y")
	ev := recv(t, b)
	if strOrNil(ev.OldValue) != "x" || strOrNil(ev.NewValue) != "y" {
		t.Fatalf("old=%s new=%s", strOrNil(ev.OldValue), strOrNil(ev.NewValue))
	}
}

func TestRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	sp := NewSpace("o", 8)
	a, b := sp.Attach(), sp.Attach()

	// Nothing stored yet: both are no-ops.
	_ = a.RemoveItem(ctx, KeyOffer)
	_ = a.Clear(ctx)
	expectNone(t, b)

	_ = a.SetItem(ctx, KeyOffer, "o1")
	_ = a.SetItem(ctx, KeyICECandidate, "c1")
	recv(t, b)
	recv(t, b)

	_ = b.RemoveItem(ctx, KeyOffer)
	ev := recv(t, a)
	if ev.Key != KeyOffer || strOrNil(ev.OldValue) != "o1" || ev.NewValue != nil {
		t.Fatalf("remove event: %+v", ev)
	}
	if _, ok, _ := a.GetItem(ctx, KeyOffer); ok {
		t.Fatal("offer should be gone")
	}

	_ = b.Clear(ctx)
	ev = recv(t, a)
	if ev.Key != "" || ev.OldValue != nil || ev.NewValue != nil {
		t.Fatalf("clear event: %+v", ev)
	}
	if sp.Len() != 0 {
		t.Fatalf("Len = %d after clear", sp.Len())
	}
}

func TestGetItemSeesOwnWrites(t *testing.T) {
	ctx := context.Background()
	sp := NewSpace("o", 8)
	a := sp.Attach()

	_ = a.SetItem(ctx, KeyOffer, "v")
	got, ok, err := a.GetItem(ctx, KeyOffer)
	if err != nil || !ok || got != "v" {
		t.Fatalf("GetItem = %q, %v, %v", got, ok, err)
	}
}

func TestEventsKeepWriteOrder(t *testing.T) {
	ctx := context.Background()
	sp := NewSpace("o", 128)
	a, b := sp.Attach(), sp.Attach()

	values := []string{"c1", "c2", "c3", "c4", "c5"}
	for _, v := range values {
		_ = a.SetItem(ctx, KeyICECandidate, v)
	}
	for _, want := range values {
		if got := strOrNil(recv(t, b).NewValue); got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	}
}

func TestSlowWindowIsDetached(t *testing.T) {
	ctx := context.Background()
	sp := NewSpace("o", 1)
	a, slow := sp.Attach(), sp.Attach()

	_ = a.SetItem(ctx, "k", "1")
	_ = a.SetItem(ctx, "k", "2") // buffer full: slow is detached

	if sp.Windows() != 1 {
		t.Fatalf("Windows = %d, want 1", sp.Windows())
	}

	// The buffered event is still readable, then the channel is closed.
	if ev := <-slow.Events(); strOrNil(ev.NewValue) != "1" {
		t.Fatalf("first event = %+v", ev)
	}
	if _, ok := <-slow.Events(); ok {
		t.Fatal("events channel should be closed")
	}
	if err := slow.SetItem(ctx, "k", "3"); !errors.Is(err, ErrClosed) {
		t.Fatalf("SetItem on detached window: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	sp := NewSpace("o", 1)
	w := sp.Attach()

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := w.GetItem(context.Background(), "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("GetItem after close: %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	sp := NewSpace("o", 1)
	w := sp.Attach()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.SetItem(ctx, "k", "v"); !errors.Is(err, context.Canceled) {
		t.Fatalf("SetItem with cancelled ctx: %v", err)
	}
	if sp.Len() != 0 {
		t.Fatal("nothing should have been stored")
	}
}
