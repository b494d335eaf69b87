//go:build !windows

package ipc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
)

var errNoPipes = errors.New("ipc: named pipes are only available on Windows")

func socketPath() string {
	// Linux: prefer XDG_RUNTIME_DIR
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "guestclip.sock")
	}
	// macOS / fallback
	return filepath.Join(os.TempDir(), "guestclip.sock")
}

func listenLocal(path string) (net.Listener, error) {
	// Remove stale socket from a previous (crashed) run.
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	// Owner only: the socket is unauthenticated.
	_ = os.Chmod(path, 0o600)
	return ln, nil
}

func dialLocal(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}

func dialPipe(context.Context, string) (net.Conn, error) { return nil, errNoPipes }
func listenPipe(string) (net.Listener, error)            { return nil, errNoPipes }
