// Package storage implements the same-origin key-value broadcast channel
// that carries signaling data between the two call participants.
//
// Every participant attaches a Window to the Space of its origin. A write
// through one window is stored in the space and announced as an Event to
// every other window of that space, never to the writer itself.
package storage

import (
	"context"
	"errors"
)

// Well-known keys used by the call flow.
const (
	KeyOffer        = "offer"
	KeyAnswer       = "answer"
	KeyICECandidate = "ice-candidate"
)

// ErrClosed is returned by operations on a closed window.
var ErrClosed = errors.New("storage: window closed")

// Event describes a change to a space. A nil OldValue means the key was
// absent before the change; a nil NewValue means it was removed. A Clear is
// reported as a single event with an empty Key and both values nil.
type Event struct {
	Key      string  `json:"key"`
	OldValue *string `json:"oldValue"`
	NewValue *string `json:"newValue"`
	URL      string  `json:"url"`
}

// Area is the participant-side view of a space. *Window implements it for
// in-process participants and signaling.Client implements it over the relay.
type Area interface {
	SetItem(ctx context.Context, key, value string) error
	GetItem(ctx context.Context, key string) (string, bool, error)
	RemoveItem(ctx context.Context, key string) error
	Clear(ctx context.Context) error

	// Events delivers changes made by other participants. The channel is
	// closed when the area is closed or detached.
	Events() <-chan Event

	Close() error
}

func ptr(s string) *string { return &s }
