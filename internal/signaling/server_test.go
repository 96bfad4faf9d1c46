package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/1ureka/peercall/internal/storage"
)

const testSpace = "https://call.example"

func newTestRelay(t *testing.T, opts Options) (*httptest.Server, *storage.Hub) {
	t.Helper()
	hub := storage.NewHub(8)
	srv := httptest.NewServer(NewServer(hub, opts).Handler())
	t.Cleanup(srv.Close)
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server, space, pin string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, srv.URL, space, pin)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func recv(t *testing.T, c *Client) storage.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return storage.Event{}
}

func strOrNil(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func TestRelayDeliversEventsToOtherWindows(t *testing.T) {
	srv, _ := newTestRelay(t, Options{})
	a := dial(t, srv, testSpace, "")
	b := dial(t, srv, testSpace, "")
	ctx := context.Background()

	if err := a.SetItem(ctx, storage.KeyOffer, "sdp-1"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}

	ev := recv(t, b)
	if ev.Key != storage.KeyOffer || ev.OldValue != nil || strOrNil(ev.NewValue) != "sdp-1" {
		t.Errorf("unexpected event: key=%q old=%s new=%s", ev.Key, strOrNil(ev.OldValue), strOrNil(ev.NewValue))
	}
	if ev.URL != testSpace {
		t.Errorf("URL = %q, want %q", ev.URL, testSpace)
	}

	// A get round trip on a is ordered after any event the relay could
	// have sent it.
	if _, _, err := a.GetItem(ctx, storage.KeyOffer); err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	select {
	case ev := <-a.Events():
		t.Fatalf("writer received its own event: %+v", ev)
	default:
	}
}

func TestRelayClearAndRemove(t *testing.T) {
	srv, _ := newTestRelay(t, Options{})
	a := dial(t, srv, testSpace, "")
	b := dial(t, srv, testSpace, "")
	ctx := context.Background()

	if err := a.SetItem(ctx, storage.KeyAnswer, "x"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	recv(t, b)

	if err := a.RemoveItem(ctx, storage.KeyAnswer); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	ev := recv(t, b)
	if ev.Key != storage.KeyAnswer || strOrNil(ev.OldValue) != "x" || ev.NewValue != nil {
		t.Errorf("remove event: key=%q old=%s new=%s", ev.Key, strOrNil(ev.OldValue), strOrNil(ev.NewValue))
	}

	if err := a.SetItem(ctx, storage.KeyOffer, "y"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	recv(t, b)
	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	ev = recv(t, a)
	if ev.Key != "" || ev.OldValue != nil || ev.NewValue != nil {
		t.Errorf("clear event: key=%q old=%s new=%s", ev.Key, strOrNil(ev.OldValue), strOrNil(ev.NewValue))
	}
}

func TestRelayGetItem(t *testing.T) {
	srv, _ := newTestRelay(t, Options{})
	a := dial(t, srv, testSpace, "")
	ctx := context.Background()

	if _, ok, err := a.GetItem(ctx, storage.KeyOffer); err != nil || ok {
		t.Fatalf("GetItem on empty space = ok %v, err %v", ok, err)
	}
	if err := a.SetItem(ctx, storage.KeyOffer, "sdp"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	v, ok, err := a.GetItem(ctx, storage.KeyOffer)
	if err != nil || !ok || v != "sdp" {
		t.Fatalf("GetItem = %q, %v, %v", v, ok, err)
	}
}

func TestRelaySpacesAreIsolated(t *testing.T) {
	srv, _ := newTestRelay(t, Options{})
	a := dial(t, srv, testSpace, "")
	other := dial(t, srv, "https://other.example", "")
	ctx := context.Background()

	if err := a.SetItem(ctx, storage.KeyOffer, "sdp"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if _, ok, err := other.GetItem(ctx, storage.KeyOffer); err != nil || ok {
		t.Fatalf("other space sees the key: ok %v, err %v", ok, err)
	}
	select {
	case ev := <-other.Events():
		t.Fatalf("event leaked across spaces: %+v", ev)
	default:
	}
}

func TestRelayRejectsBadPIN(t *testing.T) {
	srv, _ := newTestRelay(t, Options{PIN: "1234"})
	ctx := context.Background()

	if _, err := Dial(ctx, srv.URL, testSpace, "0000"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Dial with wrong PIN: got %v, want ErrUnauthorized", err)
	}
	if _, err := Dial(ctx, srv.URL, testSpace, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Dial without PIN: got %v, want ErrUnauthorized", err)
	}
	c := dial(t, srv, testSpace, "1234")
	if c.Space() != testSpace {
		t.Errorf("Space() = %q", c.Space())
	}
}

func TestRelayRequiresSpace(t *testing.T) {
	srv, _ := newTestRelay(t, Options{})

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	if _, err := Dial(context.Background(), srv.URL, "", ""); err == nil {
		t.Error("Dial with empty space should fail")
	}
}

func TestClientCloseEndsEvents(t *testing.T) {
	srv, hub := newTestRelay(t, Options{})
	c := dial(t, srv, testSpace, "")

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	c.Close()

	select {
	case _, ok := <-c.Events():
		if ok {
			t.Fatal("expected closed events channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}

	if err := c.SetItem(context.Background(), "k", "v"); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("SetItem after Close = %v, want ErrClosed", err)
	}

	// The relay detaches the window once it notices the close.
	sp, ok := hub.Lookup(testSpace)
	if !ok {
		t.Fatal("space missing")
	}
	deadline := time.Now().Add(2 * time.Second)
	for sp.Windows() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("window still attached: %d", sp.Windows())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthAndItemEndpoints(t *testing.T) {
	srv, _ := newTestRelay(t, Options{})
	a := dial(t, srv, testSpace, "")
	ctx := context.Background()

	if err := a.SetItem(ctx, storage.KeyOffer, "sdp"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	// Round trip so the set has been applied.
	if _, _, err := a.GetItem(ctx, storage.KeyOffer); err != nil {
		t.Fatalf("GetItem: %v", err)
	}

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	var health map[string]any
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health["status"] != "ok" {
		t.Errorf("healthz = %d %v", resp.StatusCode, health)
	}

	tests := []struct {
		name  string
		path  string
		code  int
		value string
	}{
		{"present", "/items/offer?space=" + url.QueryEscape(testSpace), http.StatusOK, "sdp"},
		{"missing key", "/items/answer?space=" + url.QueryEscape(testSpace), http.StatusNotFound, ""},
		{"unknown space", "/items/offer?space=nowhere", http.StatusNotFound, ""},
		{"no space", "/items/offer", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.code {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.code)
			}
			if tt.value == "" {
				return
			}
			var body struct {
				Key   string `json:"key"`
				Value string `json:"value"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Value != tt.value {
				t.Errorf("value = %q, want %q", body.Value, tt.value)
			}
		})
	}
}

func TestItemEndpointChecksPIN(t *testing.T) {
	srv, _ := newTestRelay(t, Options{PIN: "42"})

	resp, err := http.Get(srv.URL + "/items/offer?space=x&pin=nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
