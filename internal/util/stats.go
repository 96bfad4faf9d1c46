package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide media counter.
var Stats = &stats{}

type stats struct {
	Tracks      atomic.Int64 // remote tracks received since process start
	BytesSent   atomic.Int64 // cumulative sample bytes written to local tracks
	BytesRecv   atomic.Int64 // cumulative RTP payload bytes read from remote tracks
	PacketsRecv atomic.Int64 // cumulative RTP packets read from remote tracks
}

func (s *stats) AddTrack()     { s.Tracks.Add(1) }
func (s *stats) AddSent(n int) { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) {
	s.BytesRecv.Add(int64(n))
	s.PacketsRecv.Add(1)
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// statsInterval is how often StartStatsReporter samples the counters.
const statsInterval = 10 * time.Second

// StartStatsReporter launches a goroutine that logs media statistics every
// statsInterval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()

		secs := statsInterval.Seconds()
		var prevSent, prevRecv, prevPkts int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				pkts := Stats.PacketsRecv.Load()

				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs
				pktS := float64(pkts-prevPkts) / secs

				if inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, pktS, Stats.Tracks.Load()))
				}

				prevSent = sent
				prevRecv = recv
				prevPkts = pkts

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS, pktS float64, tracks int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | RTP: %5.0f pkt/s | Tracks: %d",
		formatBytes(inS),
		formatBytes(outS),
		pktS,
		tracks,
	)
}
