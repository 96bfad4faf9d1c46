package storage

import (
	"context"
	"runtime"
	"time"

	"github.com/alphadose/haxmap"

	"github.com/1ureka/peercall/internal/metrics"
	"github.com/1ureka/peercall/internal/util"
)

// Hub maps origins to their spaces.
type Hub struct {
	buffer int
	spaces *haxmap.Map[string, *Space]
}

// NewHub creates an empty hub whose spaces use the given window buffer.
func NewHub(buffer int) *Hub {
	return &Hub{
		buffer: buffer,
		spaces: haxmap.New[string, *Space](),
	}
}

// Space returns the space for origin, creating it on first use.
func (h *Hub) Space(origin string) *Space {
	sp, loaded := h.spaces.GetOrCompute(origin, func() *Space {
		return NewSpace(origin, h.buffer)
	})
	if !loaded {
		metrics.Spaces.Inc()
		util.LogDebug("space %q created", origin)
	}
	return sp
}

// Attach adds a window to the live space of origin. If the janitor retires
// the space in between, the attach is retried on the replacement.
func (h *Hub) Attach(origin string) *Window {
	for {
		if w, ok := h.Space(origin).attach(); ok {
			return w
		}
		// The retired space is deleted right after it is marked.
		runtime.Gosched()
	}
}

// Lookup returns the space for origin without creating it.
func (h *Hub) Lookup(origin string) (*Space, bool) {
	return h.spaces.Get(origin)
}

// Len returns the number of spaces.
func (h *Hub) Len() int {
	return int(h.spaces.Len())
}

// Prune drops spaces that have had no windows for longer than idle and
// returns how many were removed.
func (h *Hub) Prune(idle time.Duration) int {
	now := time.Now()

	var retired []string
	h.spaces.ForEach(func(origin string, sp *Space) bool {
		if sp.retire(idle, now) {
			retired = append(retired, origin)
		}
		return true
	})

	for _, origin := range retired {
		h.spaces.Del(origin)
		metrics.Spaces.Dec()
		util.LogDebug("space %q pruned", origin)
	}
	return len(retired)
}

// StartJanitor launches a goroutine that calls Prune every interval until
// ctx is cancelled.
func (h *Hub) StartJanitor(ctx context.Context, interval, idle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := h.Prune(idle); n > 0 {
					util.LogInfo("pruned %d idle spaces", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
