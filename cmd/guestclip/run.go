package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/guestclip/internal/chain"
	"go.klb.dev/guestclip/internal/clip"
	"go.klb.dev/guestclip/internal/crypto"
	"go.klb.dev/guestclip/internal/ipc"
	"go.klb.dev/guestclip/internal/mirror"
	"go.klb.dev/guestclip/internal/remote"
	"go.klb.dev/guestclip/internal/status"
)

func newRunCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the guest clipboard agent",
		Long: `Joins the clipboard-viewer chain, connects to the host-side peer and mirrors
the plain-text clipboard in both directions until the connection ends.

Losing the peer is fatal: the agent leaves the chain and exits with status 1,
leaving restarts to the service manager. An interrupt leaves the chain the same
way and exits with status 0.

Config file search order:
  /etc/guestclip/guestclip.toml
  $HOME/.config/guestclip/guestclip.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → GUESTCLIP_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runAgent(v) },
	}

	addPeerFlags(cmd, "host-side peer address")
	f := cmd.Flags()
	f.Bool("headless", false, "use an in-memory clipboard instead of the system one")
	f.Duration("watchdog", remote.DefaultWatchdog, "give up on a peer silent for this long (0 = never)")
	f.Int("write-attempts", mirror.DefaultWriteAttempts, "attempts to write an update from the peer locally")
	f.Duration("write-delay", mirror.DefaultRetryDelay, "pause between local write attempts")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runAgent(v *viper.Viper) error {
	setupLogging(v)

	network := v.GetString("network")
	addr := v.GetString("addr")
	secret := v.GetString("secret")
	source := v.GetString("source")

	key, err := crypto.DeriveKey(secret)
	if err != nil {
		return fmt.Errorf("key derivation: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var backend clip.Backend
	if v.GetBool("headless") {
		backend = clip.NewMemory("")
	} else {
		backend = clip.New()
	}
	defer backend.Close()

	slog.Info("guestclip agent starting",
		"version", Version,
		"network", network,
		"addr", addr,
		"source", source,
		"clipboard", backend.Name(),
		"encrypted", key != nil,
	)

	tracker := status.NewTracker(Version, source, backend.Name())
	serveStatus(ctx, tracker)

	platform, closePlatform := newPlatform(ctx, backend)
	link := chain.New(platform, chain.WithExit(func() {
		closePlatform()
		if ctx.Err() != nil {
			os.Exit(0)
		}
		os.Exit(1)
	}))
	tracker.SetChain(link.Joined())

	m := mirror.New(backend, link, mirror.WithRetry(v.GetInt("write-attempts"), v.GetDuration("write-delay")))
	tracker.SetCounters(m.Stats)
	h := &agentHandler{mirror: m, tracker: tracker}

	conn, err := ipc.Dial(ctx, network, addr)
	if err != nil {
		// Never returns: the peer is the agent's only reason to run.
		h.HandleFailure(fmt.Sprintf("dial %s %s: %v", network, addr, err))
		return err
	}
	tracker.SetHost(addr)

	client := remote.NewClient(conn, key, h,
		remote.WithSource(source),
		remote.WithSecret(secret),
		remote.WithWatchdog(v.GetDuration("watchdog")),
	)
	return client.Run(ctx)
}

func serveStatus(ctx context.Context, tracker *status.Tracker) {
	ln, err := ipc.ListenStatus()
	if err != nil {
		slog.Warn("status socket unavailable", "err", err)
		return
	}
	srv, err := status.NewServer(tracker, nil)
	if err != nil {
		_ = ln.Close()
		slog.Warn("status endpoint unavailable", "err", err)
		return
	}
	slog.Info("status socket listening", "path", ipc.SocketPath())
	go func() {
		if err := srv.Serve(ctx, ln); err != nil {
			slog.Warn("status endpoint stopped", "err", err)
		}
	}()
}

// agentHandler reports session events to the status tracker before handing
// them to the mirror.
type agentHandler struct {
	mirror  *mirror.Mirror
	tracker *status.Tracker
}

func (h *agentHandler) HandleConnected(ch mirror.Channel) {
	h.tracker.SetConnected()
	h.mirror.HandleConnected(ch)
}

func (h *agentHandler) HandleSetClipboard(text string) {
	h.mirror.HandleSetClipboard(text)
}

func (h *agentHandler) HandleFailure(reason string) {
	h.tracker.SetFailed(reason)
	h.mirror.HandleFailure(reason)
}
