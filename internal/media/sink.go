package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/1ureka/peercall/internal/util"
)

// rtpWriter is implemented by the IVF and Ogg container writers.
type rtpWriter interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// DiskSink records remote VP8 video into IVF files and Opus audio into Ogg
// files under Dir. Tracks in any other codec are drained and discarded.
type DiskSink struct {
	Dir string
}

// Compile-time interface check.
var _ Sink = (*DiskSink)(nil)

// Consume implements Sink.
func (s *DiskSink) Consume(ctx context.Context, track *webrtc.TrackRemote) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}

	mime := track.Codec().MimeType
	base := filepath.Join(s.Dir, sanitize(track.StreamID()))

	var (
		w   rtpWriter
		err error
	)
	switch {
	case strings.EqualFold(mime, webrtc.MimeTypeVP8):
		w, err = ivfwriter.New(base + "-video.ivf")
	case strings.EqualFold(mime, webrtc.MimeTypeOpus):
		w, err = oggwriter.New(base+"-audio.ogg", 48000, track.Codec().Channels)
	default:
		util.LogWarning("not recording %s track %s: unsupported codec", mime, track.ID())
		return drain(ctx, track, nil)
	}
	if err != nil {
		return fmt.Errorf("open recording for %s: %w", mime, err)
	}

	util.LogInfo("recording %s track %s", mime, track.ID())
	return errors.Join(drain(ctx, track, w), w.Close())
}

// DiscardSink reads remote tracks and counts what it received.
type DiscardSink struct {
	Packets atomic.Int64
	Tracks  atomic.Int64
}

// Compile-time interface check.
var _ Sink = (*DiscardSink)(nil)

// Consume implements Sink.
func (s *DiscardSink) Consume(ctx context.Context, track *webrtc.TrackRemote) error {
	s.Tracks.Add(1)
	return drain(ctx, track, rtpCounter{&s.Packets})
}

type rtpCounter struct{ n *atomic.Int64 }

func (c rtpCounter) WriteRTP(*rtp.Packet) error {
	c.n.Add(1)
	return nil
}

func (rtpCounter) Close() error { return nil }

// drain reads track until it ends or ctx is done, handing every packet to w
// when w is not nil.
func drain(ctx context.Context, track *webrtc.TrackRemote, w rtpWriter) error {
	util.Stats.AddTrack()

	for {
		if ctx.Err() != nil {
			return nil
		}

		pkt, _, err := track.ReadRTP()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read rtp: %w", err)
		}
		util.Stats.AddRecv(len(pkt.Payload))

		if w != nil {
			if err := w.WriteRTP(pkt); err != nil {
				return fmt.Errorf("write rtp: %w", err)
			}
		}
	}
}

// sanitize turns a stream id into a safe file name component.
func sanitize(id string) string {
	if id == "" {
		return "remote"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
