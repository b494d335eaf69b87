// Package ipc provides the local transports guestclip uses.
//
// The status endpoint of a running agent is served on a Unix domain socket
// (a named pipe on Windows) so the status sub-command can find it without
// configuration. The same package resolves the transport to the host-side
// peer: "tcp", "unix", or "pipe" (Windows named pipes).
package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"
)

// dialTimeout bounds how long Dial waits for a peer to accept.
const dialTimeout = 5 * time.Second

// SocketPath returns the platform-appropriate path for the status socket.
//
//   - Linux:   $XDG_RUNTIME_DIR/guestclip.sock, falling back to $TMPDIR
//   - macOS:   $TMPDIR/guestclip.sock
//   - Windows: \\.\pipe\guestclip
//
// $GUESTCLIP_SOCKET overrides all of these.
func SocketPath() string {
	if s := os.Getenv("GUESTCLIP_SOCKET"); s != "" {
		return s
	}
	return socketPath()
}

// IsRunning reports whether an agent appears to be listening on the status
// socket. It does a cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	c, err := DialStatus(context.Background())
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// ListenStatus creates the status listener, removing any stale socket file
// left by a previous run.
func ListenStatus() (net.Listener, error) {
	return listenLocal(SocketPath())
}

// DialStatus connects to the status socket of a running agent.
func DialStatus(ctx context.Context) (net.Conn, error) {
	return dialLocal(ctx, SocketPath())
}

// Dial connects to addr over network, one of "tcp", "unix" or "pipe".
func Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	switch network {
	case "tcp", "unix":
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	case "pipe":
		return dialPipe(ctx, addr)
	default:
		return nil, fmt.Errorf("ipc: unsupported network %q", network)
	}
}

// Listen listens on addr over network, one of "tcp", "unix" or "pipe".
func Listen(network, addr string) (net.Listener, error) {
	switch network {
	case "tcp":
		return net.Listen(network, addr)
	case "unix":
		_ = os.Remove(addr)
		return net.Listen(network, addr)
	case "pipe":
		return listenPipe(addr)
	default:
		return nil, fmt.Errorf("ipc: unsupported network %q", network)
	}
}
