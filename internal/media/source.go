package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/1ureka/peercall/internal/util"
)

// oggPageDuration is the nominal duration of one Ogg/Opus page.
const oggPageDuration = 20 * time.Millisecond

// FileSource plays an IVF (VP8) video file and/or an Ogg (Opus) audio file
// into local tracks, paced by the container timing. With neither file set it
// has no tracks and the participant only receives.
type FileSource struct {
	videoPath string
	audioPath string

	video *webrtc.TrackLocalStaticSample
	audio *webrtc.TrackLocalStaticSample

	mu    sync.Mutex
	files []io.Closer
}

// Compile-time interface check.
var _ Source = (*FileSource)(nil)

// NewFileSource creates the tracks for the given files. Empty paths are
// skipped. The files are checked for existence here and opened by Start.
func NewFileSource(videoPath, audioPath string) (*FileSource, error) {
	s := &FileSource{videoPath: videoPath, audioPath: audioPath}

	if videoPath != "" {
		if _, err := os.Stat(videoPath); err != nil {
			return nil, fmt.Errorf("video file: %w", err)
		}
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", StreamID)
		if err != nil {
			return nil, fmt.Errorf("create video track: %w", err)
		}
		s.video = track
	}

	if audioPath != "" {
		if _, err := os.Stat(audioPath); err != nil {
			return nil, fmt.Errorf("audio file: %w", err)
		}
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", StreamID)
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		s.audio = track
	}

	return s, nil
}

// Tracks implements Source.
func (s *FileSource) Tracks() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	return tracks
}

// Start implements Source. Both files are opened before either starts
// playing, then played concurrently; the first error other than a clean end
// of file is returned.
func (s *FileSource) Start(ctx context.Context) error {
	var video, audio *os.File
	if s.video != nil {
		f, err := s.open(s.videoPath)
		if err != nil {
			return err
		}
		video = f
	}
	if s.audio != nil {
		f, err := s.open(s.audioPath)
		if err != nil {
			return err
		}
		audio = f
	}

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 2)
	)
	if video != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- PlayIVF(ctx, video, s.video)
		}()
	}
	if audio != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- PlayOgg(ctx, audio, s.audio)
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

func (s *FileSource) open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.files = append(s.files, f)
	s.mu.Unlock()
	return f, nil
}

// Close releases the opened files.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, f := range s.files {
		errs = append(errs, f.Close())
	}
	s.files = nil
	return errors.Join(errs...)
}

// PlayIVF writes every frame of an IVF stream to w, one frame per timebase
// tick. It returns nil at end of stream.
func PlayIVF(ctx context.Context, r io.Reader, w SampleWriter) error {
	reader, header, err := ivfreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("read ivf header: %w", err)
	}
	if header.TimebaseDenominator == 0 {
		return fmt.Errorf("ivf header has a zero timebase denominator")
	}

	frameDuration := time.Duration(float64(time.Second) *
		float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	if frameDuration <= 0 {
		return fmt.Errorf("ivf header has an invalid timebase %d/%d",
			header.TimebaseNumerator, header.TimebaseDenominator)
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			util.LogDebug("video file finished")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ivf frame: %w", err)
		}

		if err := w.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return fmt.Errorf("write video sample: %w", err)
		}
		util.Stats.AddSent(len(frame))

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PlayOgg writes every audio page of an Ogg/Opus stream to w; the OpusTags
// comment page is skipped. Sample durations follow the granule position. It returns nil at end of stream.
func PlayOgg(ctx context.Context, r io.Reader, w SampleWriter) error {
	reader, _, err := oggreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("read ogg header: %w", err)
	}

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			util.LogDebug("audio file finished")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ogg page: %w", err)
		}
		if kind, ok := header.HeaderType(page); ok && kind == oggreader.HeaderOpusTags {
			continue
		}

		// Opus granule positions are in 48 kHz samples.
		sampleCount := float64(header.GranulePosition - lastGranule)
		lastGranule = header.GranulePosition
		duration := time.Duration(sampleCount/48000*1000) * time.Millisecond

		if err := w.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			return fmt.Errorf("write audio sample: %w", err)
		}
		util.Stats.AddSent(len(page))

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
