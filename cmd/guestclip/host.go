package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/guestclip/internal/ipc"
	"go.klb.dev/guestclip/internal/remote"
)

func newHostCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Run a host-side peer for guest agents",
		Long: `Accepts guest agents and relays their clipboards.

Every update a guest sends is printed to stdout as one line. Every line read
from stdin is pushed to all connected guests; an empty line wipes their
clipboards. This makes the host usable from scripts and for testing an agent
without a real host integration.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runHost(cmd, v) },
	}

	addPeerFlags(cmd, "listen address")
	cmd.Flags().Duration("ping-interval", remote.DefaultPingInterval, "keepalive ping interval")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runHost(cmd *cobra.Command, v *viper.Viper) error {
	setupLogging(v)

	network := v.GetString("network")
	addr := v.GetString("addr")
	secret := v.GetString("secret")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := &printer{w: cmd.OutOrStdout()}
	srv, err := remote.NewServer(secret, out,
		remote.WithServerSource(v.GetString("source")),
		remote.WithKeepalive(v.GetDuration("ping-interval"), remote.DefaultPongDeadline),
	)
	if err != nil {
		return err
	}

	ln, err := ipc.Listen(network, addr)
	if err != nil {
		return fmt.Errorf("listen %s %s: %w", network, addr, err)
	}
	slog.Info("host listening",
		"version", Version,
		"network", network,
		"addr", ln.Addr(),
		"encrypted", secret != "",
	)

	go pushLines(ctx, cmd.InOrStdin(), srv)
	return srv.Serve(ctx, ln)
}

// pushLines sends every line read from r to the connected guests.
func pushLines(ctx context.Context, r io.Reader, srv *remote.Server) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		n := srv.Push(sc.Text())
		slog.Debug("pushed to guests", "guests", n)
	}
	if err := sc.Err(); err != nil {
		slog.Warn("reading stdin failed", "err", err)
	}
}

// printer writes guest events to stdout.
type printer struct {
	w io.Writer
}

func (p *printer) GuestConnected(id, source string) {
	slog.Info("guest connected", "guest", id, "source", source)
}

func (p *printer) GuestClipboard(id, text string) {
	fmt.Fprintf(p.w, "%s\t%s\t%q\n", time.Now().Format("15:04:05"), id, text)
}

func (p *printer) GuestDisconnected(id string, err error) {
	if err != nil {
		slog.Info("guest disconnected", "guest", id, "err", err)
		return
	}
	slog.Info("guest disconnected", "guest", id)
}
