package storage

import (
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/google/uuid"

	"github.com/1ureka/peercall/internal/metrics"
	"github.com/1ureka/peercall/internal/util"
)

// DefaultEventBuffer is the per-window event buffer used by NewSpace callers
// that do not choose one.
const DefaultEventBuffer = 256

// Space is the storage shared by every window of one origin.
//
// Reads go straight to the lock-free map. Mutations and their fan-out are
// serialized by mu so every window observes the same event order.
type Space struct {
	origin string
	buffer int

	items *haxmap.Map[string, string]

	mu       sync.Mutex
	windows  map[uuid.UUID]*Window
	lastUsed time.Time
	retired  bool
}

// NewSpace creates an empty space for origin. buffer is the capacity of each
// window's event channel; a window that falls that far behind is detached.
func NewSpace(origin string, buffer int) *Space {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Space{
		origin:   origin,
		buffer:   buffer,
		items:    haxmap.New[string, string](),
		windows:  make(map[uuid.UUID]*Window),
		lastUsed: time.Now(),
	}
}

// Origin returns the origin this space belongs to.
func (s *Space) Origin() string { return s.origin }

// Attach adds a new window to the space. A space that a Hub has already
// pruned hands out a window that is detached from the start: its events
// channel is closed and every operation returns ErrClosed. Use Hub.Attach to
// always land on the live space of an origin.
func (s *Space) Attach() *Window {
	w, _ := s.attach()
	return w
}

// attach reports false when the space was retired and w is a detached
// window.
func (s *Space) attach() (*Window, bool) {
	w := &Window{
		id:     uuid.New(),
		space:  s,
		events: make(chan Event, s.buffer),
	}

	s.mu.Lock()
	if s.retired {
		s.mu.Unlock()
		w.detached.Store(true)
		close(w.events)
		return w, false
	}
	s.windows[w.id] = w
	s.lastUsed = time.Now()
	s.mu.Unlock()

	metrics.Windows.Inc()
	util.LogDebug("[%s] window %s attached", s.origin, w.id)
	return w, true
}

// Get returns the current value of key.
func (s *Space) Get(key string) (string, bool) {
	return s.items.Get(key)
}

// Len returns the number of stored keys.
func (s *Space) Len() int {
	return int(s.items.Len())
}

// Windows returns the number of attached windows.
func (s *Space) Windows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// retire marks the space as gone when it has had no windows for at least
// idle. Once retired it accepts no new windows, so checking and retiring
// happen under the same lock as Attach.
func (s *Space) retire(idle time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired || len(s.windows) != 0 || now.Sub(s.lastUsed) < idle {
		return false
	}
	s.retired = true
	return true
}

// set stores value under key on behalf of from. It reports whether the value
// changed (and therefore whether an event was broadcast).
func (s *Space) set(from uuid.UUID, key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, existed := s.items.Get(key)
	if existed && old == value {
		return false
	}
	s.items.Set(key, value)

	ev := Event{Key: key, NewValue: ptr(value), URL: s.origin}
	if existed {
		ev.OldValue = ptr(old)
	}
	s.broadcastLocked(from, ev)
	metrics.StorageWrites.WithLabelValues("set").Inc()
	return true
}

// remove deletes key on behalf of from. It reports whether the key existed.
func (s *Space) remove(from uuid.UUID, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, existed := s.items.Get(key)
	if !existed {
		return false
	}
	s.items.Del(key)

	s.broadcastLocked(from, Event{Key: key, OldValue: ptr(old), URL: s.origin})
	metrics.StorageWrites.WithLabelValues("remove").Inc()
	return true
}

// clear deletes every key on behalf of from. It reports whether anything was
// stored.
func (s *Space) clear(from uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.items.Len() == 0 {
		return false
	}

	var keys []string
	s.items.ForEach(func(k string, _ string) bool {
		keys = append(keys, k)
		return true
	})
	s.items.Del(keys...)

	s.broadcastLocked(from, Event{URL: s.origin})
	metrics.StorageWrites.WithLabelValues("clear").Inc()
	return true
}

// broadcastLocked delivers ev to every window except from. Windows whose
// buffer is full are detached. Must be called with mu held.
func (s *Space) broadcastLocked(from uuid.UUID, ev Event) {
	for id, w := range s.windows {
		if id == from {
			continue
		}
		select {
		case w.events <- ev:
			metrics.EventsDelivered.Inc()
		default:
			util.LogWarning("[%s] window %s is not keeping up, detaching", s.origin, id)
			metrics.WindowsDropped.Inc()
			s.detachLocked(w)
		}
	}
}

// detach removes w from the space and closes its event channel.
func (s *Space) detach(w *Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked(w)
}

func (s *Space) detachLocked(w *Window) {
	if _, ok := s.windows[w.id]; !ok {
		return
	}
	delete(s.windows, w.id)
	s.lastUsed = time.Now()
	w.detached.Store(true)
	close(w.events)
	metrics.Windows.Dec()
	util.LogDebug("[%s] window %s detached", s.origin, w.id)
}
