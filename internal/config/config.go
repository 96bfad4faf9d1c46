// Package config holds the CLI roles and the file/env backed configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Role represents the user's chosen role.
type Role string

const (
	RoleRelay Role = "relay" // serve the signaling relay
	RoleCall  Role = "call"  // start a call and print an invite link
	RoleJoin  Role = "join"  // join a call from an invite link
)

// ParseRole validates a raw role string. An empty string is returned as an
// empty Role so the caller can fall back to interactive mode.
func ParseRole(raw string) (Role, error) {
	switch r := Role(raw); r {
	case "", RoleRelay, RoleCall, RoleJoin:
		return r, nil
	default:
		return "", fmt.Errorf("invalid role %q: must be 'relay', 'call' or 'join'", raw)
	}
}

// Config stores every parameter the three roles need. Values come from an
// optional YAML file, then the environment, then CLI flags (applied by main).
type Config struct {
	Relay     RelayConfig     `yaml:"relay"`
	Signaling SignalingConfig `yaml:"signaling"`
	WebRTC    WebRTCConfig    `yaml:"webrtc"`
	Media     MediaConfig     `yaml:"media"`
}

// RelayConfig configures the signaling relay server.
type RelayConfig struct {
	Listen         string        `yaml:"listen" env:"PEERCALL_RELAY_LISTEN" env-default:"127.0.0.1:8750"`
	PIN            string        `yaml:"pin" env:"PEERCALL_RELAY_PIN"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"PEERCALL_RELAY_ALLOWED_ORIGINS" env-separator:","`
	SpaceIdleTTL   time.Duration `yaml:"space_idle_ttl" env:"PEERCALL_RELAY_SPACE_IDLE_TTL" env-default:"30m"`
	EventBuffer    int           `yaml:"event_buffer" env:"PEERCALL_RELAY_EVENT_BUFFER" env-default:"256"`
}

// SignalingConfig configures how a caller or callee reaches the relay.
type SignalingConfig struct {
	URL    string `yaml:"url" env:"PEERCALL_SIGNALING_URL"`
	Space  string `yaml:"space" env:"PEERCALL_SIGNALING_SPACE" env-default:"http://localhost:8750"`
	PIN    string `yaml:"pin" env:"PEERCALL_SIGNALING_PIN"`
	Origin string `yaml:"origin" env:"PEERCALL_SIGNALING_ORIGIN"`
}

// WebRTCConfig configures ICE.
type WebRTCConfig struct {
	ICEServers    []string      `yaml:"ice_servers" env:"PEERCALL_ICE_SERVERS" env-separator:","`
	TURNUsername  string        `yaml:"turn_username" env:"PEERCALL_TURN_USERNAME"`
	TURNPassword  string        `yaml:"turn_password" env:"PEERCALL_TURN_PASSWORD"`
	GatherTimeout time.Duration `yaml:"gather_timeout" env:"PEERCALL_GATHER_TIMEOUT" env-default:"5s"`
}

// MediaConfig selects the local media files and the recording directory.
type MediaConfig struct {
	VideoFile string `yaml:"video_file" env:"PEERCALL_VIDEO_FILE"`
	AudioFile string `yaml:"audio_file" env:"PEERCALL_AUDIO_FILE"`
	RecordDir string `yaml:"record_dir" env:"PEERCALL_RECORD_DIR"`
}

// Load reads the configuration. A .env file in the working directory is
// loaded first when present. When path is empty or the file does not exist,
// only the environment is consulted.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("cannot read config %s: %w", path, err)
			}
			return cfg.finish()
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("cannot stat config %s: %w", path, err)
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("cannot read environment: %w", err)
	}
	return cfg.finish()
}

func (c *Config) finish() (*Config, error) {
	if c.Signaling.Origin == "" {
		c.Signaling.Origin = c.Signaling.Space
	}
	if c.Relay.EventBuffer <= 0 {
		return nil, fmt.Errorf("relay.event_buffer must be positive, got %d", c.Relay.EventBuffer)
	}
	if c.WebRTC.GatherTimeout < 0 {
		return nil, fmt.Errorf("webrtc.gather_timeout must not be negative, got %s", c.WebRTC.GatherTimeout)
	}
	return c, nil
}
