// Package media provides the local media sources attached to a call and the
// sinks that render the remote side's tracks.
package media

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// StreamID is the media stream id local tracks are published under.
const StreamID = "peercall"

// Source supplies the local tracks of a participant.
type Source interface {
	// Tracks returns the tracks to attach before negotiation.
	Tracks() []webrtc.TrackLocal

	// Start pumps media into the tracks until ctx is done or input ends.
	Start(ctx context.Context) error

	Close() error
}

// Sink renders one remote track. Consume blocks until the track ends or ctx
// is done.
type Sink interface {
	Consume(ctx context.Context, track *webrtc.TrackRemote) error
}

// SampleWriter is the part of *webrtc.TrackLocalStaticSample used by the
// file pumps.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}
