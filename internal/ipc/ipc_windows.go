//go:build windows

package ipc

import (
	"context"
	"net"

	"github.com/Microsoft/go-winio"
)

const pipeName = `\\.\pipe\guestclip`

// statusPipeSDDL restricts the status pipe to the owner and SYSTEM.
const statusPipeSDDL = "D:P(A;;GA;;;OW)(A;;GA;;;SY)"

func socketPath() string { return pipeName }

func listenLocal(path string) (net.Listener, error) {
	return winio.ListenPipe(path, &winio.PipeConfig{SecurityDescriptor: statusPipeSDDL})
}

func dialLocal(ctx context.Context, path string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, path)
}

func dialPipe(ctx context.Context, path string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, path)
}

func listenPipe(path string) (net.Listener, error) {
	return winio.ListenPipe(path, nil)
}
