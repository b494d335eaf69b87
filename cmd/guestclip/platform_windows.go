//go:build windows

package main

import (
	"context"
	"log/slog"

	"go.klb.dev/guestclip/internal/chain"
	"go.klb.dev/guestclip/internal/clip"
)

// newPlatform returns the system clipboard-viewer chain, or an in-process
// chain fed by the backend if the message window cannot be created.
func newPlatform(ctx context.Context, backend clip.Backend) (chain.Platform, func()) {
	w, err := chain.NewWin32()
	if err != nil {
		slog.Error("clipboard viewer window unavailable, using in-process chain", "err", err)
		t := chain.NewTable()
		go chain.Pump(ctx, t, backend.Watch())
		return t, func() {}
	}
	return w, w.Close
}
