package storage

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// Window is one participant attached to a Space.
type Window struct {
	id     uuid.UUID
	space  *Space
	events chan Event

	detached atomic.Bool
}

// Compile-time interface check.
var _ Area = (*Window)(nil)

// ID returns the window's identifier.
func (w *Window) ID() uuid.UUID { return w.id }

// Space returns the space the window is attached to.
func (w *Window) Space() *Space { return w.space }

func (w *Window) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.detached.Load() {
		return ErrClosed
	}
	return nil
}

// SetItem stores value under key and notifies the other windows when the
// stored value changes.
func (w *Window) SetItem(ctx context.Context, key, value string) error {
	if err := w.check(ctx); err != nil {
		return err
	}
	w.space.set(w.id, key, value)
	return nil
}

// GetItem returns the value stored under key.
func (w *Window) GetItem(ctx context.Context, key string) (string, bool, error) {
	if err := w.check(ctx); err != nil {
		return "", false, err
	}
	v, ok := w.space.Get(key)
	return v, ok, nil
}

// RemoveItem deletes key and notifies the other windows if it existed.
func (w *Window) RemoveItem(ctx context.Context, key string) error {
	if err := w.check(ctx); err != nil {
		return err
	}
	w.space.remove(w.id, key)
	return nil
}

// Clear deletes every key and notifies the other windows if anything was
// stored.
func (w *Window) Clear(ctx context.Context) error {
	if err := w.check(ctx); err != nil {
		return err
	}
	w.space.clear(w.id)
	return nil
}

// Events returns the channel of changes made by other windows.
func (w *Window) Events() <-chan Event { return w.events }

// Close detaches the window. It is safe to call more than once.
func (w *Window) Close() error {
	w.space.detach(w)
	return nil
}
