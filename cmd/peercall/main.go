// Peercall CLI entry point.
//
// This tool runs a two-party WebRTC call. The caller prints an invite link
// carrying its offer; the callee opens it and answers. The answer and
// trickled ICE candidates travel through a shared key-value space hosted by
// the signaling relay, which this same binary serves with -role relay.
//
// It can be launched interactively (no -role) or non-interactively via CLI
// flags (-role, -relay, -space, -pin, -invite, -video, -audio, -record).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/peercall/internal/app"
	"github.com/1ureka/peercall/internal/config"
	"github.com/1ureka/peercall/internal/invite"
	"github.com/1ureka/peercall/internal/media"
	"github.com/1ureka/peercall/internal/signaling"
	"github.com/1ureka/peercall/internal/storage"
	"github.com/1ureka/peercall/internal/util"
	webrtcpkg "github.com/1ureka/peercall/internal/webrtc"
)

var version = "dev"

const janitorInterval = time.Minute

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	roleFlag := flag.String("role", "", "Role: relay, call or join")
	configPath := flag.String("config", "peercall.yaml", "Path to the YAML config file")
	listenFlag := flag.String("listen", "", "Relay listen address (relay only)")
	relayFlag := flag.String("relay", "", "Relay URL to connect to (call and join)")
	spaceFlag := flag.String("space", "", "Shared space name, usually the page origin")
	pinFlag := flag.String("pin", "", "Relay PIN")
	inviteFlag := flag.String("invite", "", "Invite link to join (join only)")
	videoFlag := flag.String("video", "", "IVF (VP8) file to send")
	audioFlag := flag.String("audio", "", "Ogg (Opus) file to send")
	recordFlag := flag.String("record", "", "Directory to record the remote tracks into")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Peercall — v%s", version))
	pterm.Println()

	role, err := config.ParseRole(*roleFlag)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("failed to load config: %v", err)
		os.Exit(1)
	}

	// Flags override file and environment.
	override(&cfg.Relay.Listen, *listenFlag)
	override(&cfg.Relay.PIN, *pinFlag)
	override(&cfg.Signaling.URL, *relayFlag)
	override(&cfg.Signaling.PIN, *pinFlag)
	override(&cfg.Media.VideoFile, *videoFlag)
	override(&cfg.Media.AudioFile, *audioFlag)
	override(&cfg.Media.RecordDir, *recordFlag)
	if *spaceFlag != "" {
		// An origin that was only defaulted from the space follows it.
		if cfg.Signaling.Origin == cfg.Signaling.Space {
			cfg.Signaling.Origin = *spaceFlag
		}
		cfg.Signaling.Space = *spaceFlag
	}

	link := *inviteFlag
	if role == "" {
		// No -role flag → interactive mode.
		role, link = runInteractive(cfg, link)
	}

	switch role {
	case config.RoleRelay:
		err = runRelay(ctx, cfg)
	case config.RoleCall:
		err = runCall(ctx, cfg)
	case config.RoleJoin:
		if strings.TrimSpace(link) == "" {
			util.LogError("missing -invite for join role")
			os.Exit(1)
		}
		err = runJoin(ctx, cfg, link)
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("successfully closed")
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runInteractive asks for the role and whatever that role still misses.
func runInteractive(cfg *config.Config, link string) (config.Role, string) {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Call  — Start a call and share an invite link",
			"Join  — Join a call from an invite link",
			"Relay — Serve the signaling relay",
		}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	switch {
	case strings.HasPrefix(choice, "Relay"):
		return config.RoleRelay, link
	case strings.HasPrefix(choice, "Call"):
		if cfg.Signaling.URL == "" {
			cfg.Signaling.URL = askRelayURL()
		}
		return config.RoleCall, link
	default:
		if cfg.Signaling.URL == "" {
			cfg.Signaling.URL = askRelayURL()
		}
		if link == "" {
			link = askInvite()
		}
		return config.RoleJoin, link
	}
}

// runRelay serves the signaling relay until ctx is cancelled.
func runRelay(ctx context.Context, cfg *config.Config) error {
	hub := storage.NewHub(cfg.Relay.EventBuffer)
	server := signaling.NewServer(hub, signaling.Options{
		PIN:            cfg.Relay.PIN,
		AllowedOrigins: cfg.Relay.AllowedOrigins,
	})

	addr, err := server.Start(cfg.Relay.Listen)
	if err != nil {
		return err
	}
	if cfg.Relay.SpaceIdleTTL > 0 {
		hub.StartJanitor(ctx, janitorInterval, cfg.Relay.SpaceIdleTTL)
	}

	pin := cfg.Relay.PIN
	if pin == "" {
		pin = "(none)"
	}
	pterm.DefaultBox.WithTitle("Signaling Relay").Println(
		fmt.Sprintf("Address : %s\nPIN     : %s\nMetrics : http://%s/metrics", addr, pin, addr))
	pterm.Println()
	util.LogInfo("waiting for participants...")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// runCall starts a call, prints its invite link and waits until it ends.
func runCall(ctx context.Context, cfg *config.Config) error {
	opts, err := callOptions(cfg)
	if err != nil {
		return err
	}

	area, err := dialRelay(ctx, cfg)
	if err != nil {
		return err
	}

	call, err := app.StartCall(ctx, area, opts)
	if err != nil {
		area.Close()
		return fmt.Errorf("failed to start call: %w", err)
	}
	defer call.Close()

	pterm.DefaultBox.WithTitle("Invite Link").Println(call.InviteLink())
	pterm.Println()
	util.LogInfo("waiting for the other side to join...")

	select {
	case <-call.Activated():
	case <-call.Done():
		return errors.New("call ended before it was answered")
	case <-ctx.Done():
		return nil
	}

	return holdCall(ctx, call)
}

// runJoin answers the offer in link and waits until the call ends.
func runJoin(ctx context.Context, cfg *config.Config, link string) error {
	opts, err := callOptions(cfg)
	if err != nil {
		return err
	}

	area, err := dialRelay(ctx, cfg)
	if err != nil {
		return err
	}

	call, err := app.JoinCall(ctx, area, link, opts)
	if err != nil {
		area.Close()
		if errors.Is(err, invite.ErrNoOffer) {
			return errors.New("the invite link carries no offer")
		}
		return fmt.Errorf("failed to join call: %w", err)
	}
	defer call.Close()

	return holdCall(ctx, call)
}

// holdCall waits for the connection, reports stats and blocks until the call
// ends or ctx is cancelled.
func holdCall(ctx context.Context, call *app.Call) error {
	select {
	case <-call.Connected():
	case <-call.Done():
		return errors.New("peer connection failed")
	case <-ctx.Done():
		return nil
	}

	util.StartStatsReporter(ctx)
	util.LogSuccess("call connected — press Ctrl+C to hang up")

	if err := call.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

func override(dst *string, flagValue string) {
	if flagValue != "" {
		*dst = flagValue
	}
}

// callOptions builds the per-call options shared by both call roles.
func callOptions(cfg *config.Config) (app.Options, error) {
	iceServers, err := webrtcpkg.ParseICEServers(cfg.WebRTC.ICEServers, cfg.WebRTC.TURNUsername, cfg.WebRTC.TURNPassword)
	if err != nil {
		return app.Options{}, err
	}

	api, err := webrtcpkg.NewAPI()
	if err != nil {
		return app.Options{}, err
	}

	source, err := media.NewFileSource(cfg.Media.VideoFile, cfg.Media.AudioFile)
	if err != nil {
		return app.Options{}, err
	}

	var sink media.Sink = &media.DiscardSink{}
	if cfg.Media.RecordDir != "" {
		sink = &media.DiskSink{Dir: cfg.Media.RecordDir}
	}

	return app.Options{
		API:           api,
		ICEServers:    iceServers,
		Origin:        cfg.Signaling.Origin,
		Source:        source,
		Sink:          sink,
		GatherTimeout: cfg.WebRTC.GatherTimeout,
	}, nil
}

func dialRelay(ctx context.Context, cfg *config.Config) (*signaling.Client, error) {
	if cfg.Signaling.URL == "" {
		return nil, errors.New("missing -relay URL")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := signaling.Dial(dialCtx, cfg.Signaling.URL, cfg.Signaling.Space, cfg.Signaling.PIN)
	if err != nil {
		return nil, err
	}
	util.LogDebug("joined space %q on %s", client.Space(), cfg.Signaling.URL)
	return client, nil
}

// askRelayURL prompts the user for a valid relay URL until one is entered.
func askRelayURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL (e.g. wss://relay.example.com)").
			Show()

		if _, err := signaling.NormalizeURL(raw); err == nil {
			pterm.Println()
			return strings.TrimSpace(raw)
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// askInvite prompts the user for an invite link until one with an offer is
// entered.
func askInvite() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Invite link").
			Show()

		if _, err := invite.Decode(raw); err == nil {
			pterm.Println()
			return strings.TrimSpace(raw)
		}

		pterm.Println()
		util.LogWarning("invalid input: the link carries no usable offer")
	}
}
