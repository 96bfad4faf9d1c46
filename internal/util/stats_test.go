package util

import "testing"

func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{100 * 1024, " 0.1 MiB"},
		{5 * 1024 * 1024 * 1024, " 5.0 GiB"},
	}

	for _, tc := range testCases {
		if got := formatBytes(tc.in); got != tc.want {
			t.Errorf("formatBytes(%v) = %q, want %q", tc.in, got, tc.want)
		}
		if got := formatBytes(tc.in); len(got) != 8 {
			t.Errorf("formatBytes(%v) width = %d, want 8", tc.in, len(got))
		}
	}
}

func TestFormatStats(t *testing.T) {
	got := formatStats(1536, 0, 50, 2)
	want := "In:  1.5 KiB/s | Out:  0.0   B/s | RTP:    50 pkt/s | Tracks: 2"
	if got != want {
		t.Fatalf("formatStats = %q, want %q", got, want)
	}
}

func TestStatsCounters(t *testing.T) {
	s := &stats{}
	s.AddTrack()
	s.AddSent(10)
	s.AddRecv(20)
	s.AddRecv(5)

	if s.Tracks.Load() != 1 || s.BytesSent.Load() != 10 {
		t.Fatalf("unexpected counters: tracks=%d sent=%d", s.Tracks.Load(), s.BytesSent.Load())
	}
	if s.BytesRecv.Load() != 25 || s.PacketsRecv.Load() != 2 {
		t.Fatalf("unexpected recv counters: bytes=%d pkts=%d", s.BytesRecv.Load(), s.PacketsRecv.Load())
	}
}

func TestPionLoggerFactory(t *testing.T) {
	l := PionLoggerFactory{}.NewLogger("ice")
	// Must not panic at any level.
	l.Trace("t")
	l.Tracef("%d", 1)
	l.Debugf("%d", 1)
	l.Infof("%d", 1)
	l.Warnf("%d", 1)
	l.Errorf("%d", 1)
}
