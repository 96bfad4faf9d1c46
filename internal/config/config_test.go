package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peercall.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Relay.Listen != "127.0.0.1:8750" {
		t.Errorf("Relay.Listen = %q", cfg.Relay.Listen)
	}
	if cfg.Relay.SpaceIdleTTL != 30*time.Minute {
		t.Errorf("Relay.SpaceIdleTTL = %s", cfg.Relay.SpaceIdleTTL)
	}
	if cfg.Relay.EventBuffer != 256 {
		t.Errorf("Relay.EventBuffer = %d", cfg.Relay.EventBuffer)
	}
	if cfg.WebRTC.GatherTimeout != 5*time.Second {
		t.Errorf("WebRTC.GatherTimeout = %s", cfg.WebRTC.GatherTimeout)
	}
	if cfg.Signaling.Origin != cfg.Signaling.Space {
		t.Errorf("Signaling.Origin = %q, want space %q", cfg.Signaling.Origin, cfg.Signaling.Space)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
relay:
  listen: ":9000"
  pin: "1234"
  space_idle_ttl: 1m
signaling:
  url: ws://relay.example/ws
  space: https://call.example
  origin: https://call.example/app
webrtc:
  ice_servers: ["stun:stun.example.com:3478"]
  gather_timeout: 2s
media:
  video_file: in.ivf
  record_dir: out
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Relay.Listen != ":9000" || cfg.Relay.PIN != "1234" {
		t.Errorf("relay = %+v", cfg.Relay)
	}
	if cfg.Relay.SpaceIdleTTL != time.Minute {
		t.Errorf("Relay.SpaceIdleTTL = %s", cfg.Relay.SpaceIdleTTL)
	}
	if cfg.Signaling.Origin != "https://call.example/app" {
		t.Errorf("Signaling.Origin = %q", cfg.Signaling.Origin)
	}
	if len(cfg.WebRTC.ICEServers) != 1 || cfg.WebRTC.ICEServers[0] != "stun:stun.example.com:3478" {
		t.Errorf("WebRTC.ICEServers = %#v", cfg.WebRTC.ICEServers)
	}
	if cfg.WebRTC.GatherTimeout != 2*time.Second {
		t.Errorf("WebRTC.GatherTimeout = %s", cfg.WebRTC.GatherTimeout)
	}
	if cfg.Media.VideoFile != "in.ivf" || cfg.Media.RecordDir != "out" {
		t.Errorf("media = %+v", cfg.Media)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "relay:\n  listen: \":9000\"\n")
	t.Setenv("PEERCALL_RELAY_LISTEN", ":9100")
	t.Setenv("PEERCALL_ICE_SERVERS", "stun:a.example:3478,stun:b.example:3478")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Relay.Listen != ":9100" {
		t.Errorf("Relay.Listen = %q, want env override", cfg.Relay.Listen)
	}
	if len(cfg.WebRTC.ICEServers) != 2 {
		t.Errorf("WebRTC.ICEServers = %#v", cfg.WebRTC.ICEServers)
	}
}

func TestLoadMissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("PEERCALL_RELAY_PIN", "9999")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Relay.PIN != "9999" {
		t.Errorf("Relay.PIN = %q", cfg.Relay.PIN)
	}
}

func TestLoadRejectsBadEventBuffer(t *testing.T) {
	path := writeConfig(t, "relay:\n  event_buffer: -1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative event buffer")
	}
}

func TestParseRole(t *testing.T) {
	testCases := []struct {
		raw     string
		want    Role
		wantErr bool
	}{
		{"", "", false},
		{"relay", RoleRelay, false},
		{"call", RoleCall, false},
		{"join", RoleJoin, false},
		{"host", "", true},
	}

	for _, tc := range testCases {
		got, err := ParseRole(tc.raw)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseRole(%q) err = %v, wantErr %v", tc.raw, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseRole(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
